package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/shipping"
)

type ShippingService interface {
	LabelPurchaser
	QuoteRates(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error)
	ListShipments(ctx context.Context, orderID primitive.ObjectID) ([]models.Shipment, error)
	CancelLabel(ctx context.Context, shipmentID primitive.ObjectID) (models.Shipment, error)
	Track(ctx context.Context, shipmentID primitive.ObjectID) (shipping.TrackingStatus, error)
}

func QuoteShippingRates(svc ShippingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/shipping/rates"
		defer handlePanic(c, route)

		var req shipping.RateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		rates, err := svc.QuoteRates(ctx, req)
		if err != nil {
			respondShippingError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rates": rates})
	}
}

func CreateLabel(svc ShippingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/orders/:id/label"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}
		var req shipping.LabelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		req.OrderID = id

		ctx, cancel := requestContext(c)
		defer cancel()

		shipment, err := svc.PurchaseLabel(ctx, req)
		if err != nil {
			respondShippingError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, shipment)
	}
}

func ListShipments(svc ShippingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/orders/:id/shipments"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		shipments, err := svc.ListShipments(ctx, id)
		if err != nil {
			respondShippingError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": shipments})
	}
}

func CancelShipment(svc ShippingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/shipments/:id/cancel"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		shipment, err := svc.CancelLabel(ctx, id)
		if err != nil {
			respondShippingError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	}
}

func TrackShipment(svc ShippingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/shipments/:id/tracking"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		status, err := svc.Track(ctx, id)
		if err != nil {
			respondShippingError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// respondShippingError maps orchestrator failures. Carrier errors carry the
// upstream body and are passed through.
func respondShippingError(c *gin.Context, route string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondWithError(c, http.StatusNotFound, route, "not found")
	case errors.Is(err, shipping.ErrUnknownCarrier),
		errors.Is(err, shipping.ErrNoAddress),
		errors.Is(err, shipping.ErrNotTrackable):
		respondWithError(c, http.StatusBadRequest, route, err.Error())
	case errors.Is(err, shipping.ErrAlreadyCanceled):
		respondWithError(c, http.StatusConflict, route, err.Error())
	case errors.Is(err, shipping.ErrNoRates):
		respondWithCode(c, http.StatusBadGateway, route, "no_rates", err.Error())
	case errors.Is(err, shipping.ErrNotConfigured):
		respondWithCode(c, http.StatusInternalServerError, route, "carrier_not_configured", err.Error())
	default:
		respondWithCode(c, http.StatusInternalServerError, route, "carrier_error", err.Error())
	}
}
