package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/settings"
	"storefront/internal/shipping"
)

type OrderAdmin interface {
	Get(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	List(ctx context.Context, f database.OrderFilter) ([]models.Order, int64, error)
	CreateManual(ctx context.Context, in orders.ManualOrder) (models.Order, error)
	Update(ctx context.Context, id primitive.ObjectID, p orders.Patch) (models.Order, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type LabelPurchaser interface {
	PurchaseLabel(ctx context.Context, req shipping.LabelRequest) (models.Shipment, error)
}

type labelOptions struct {
	Carrier      string                 `json:"carrier"`
	ServiceCode  string                 `json:"serviceCode"`
	Parcel       *settings.Parcel       `json:"parcel"`
	CustomsItems []shipping.CustomsItem `json:"customsItems"`
}

type createOrderRequest struct {
	orders.ManualOrder
	CreateLabel bool          `json:"createLabel"`
	Label       *labelOptions `json:"label"`
}

func GetOrders(svc OrderAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/orders"
		defer handlePanic(c, route)

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		list, total, err := svc.List(ctx, database.OrderFilter{
			Status:        strings.TrimSpace(c.Query("status")),
			PaymentStatus: strings.TrimSpace(c.Query("paymentStatus")),
			Search:        strings.TrimSpace(c.Query("search")),
			Page:          page,
			Limit:         limit,
		})
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginationBody(list, page, limit, total))
	}
}

func GetOrder(svc OrderAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/orders/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := svc.Get(ctx, id)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// CreateOrder records a back-office order. With createLabel set it also buys
// a label; a label failure comes back as a warning and the order stands.
func CreateOrder(svc OrderAdmin, labels LabelPurchaser) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/orders"
		defer handlePanic(c, route)

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := svc.CreateManual(ctx, req.ManualOrder)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}

		body := gin.H{"order": order}
		if req.CreateLabel {
			shipment, warning := createLabelFor(ctx, labels, order, req.Label)
			if warning != "" {
				log.Printf("[%s] [WARN] label for %s not created: %s", route, order.OrderNumber, warning)
				body["warning"] = "label not created: " + warning
			} else {
				body["shipment"] = shipment
			}
		}
		c.JSON(http.StatusCreated, body)
	}
}

func createLabelFor(ctx context.Context, labels LabelPurchaser, order models.Order, opts *labelOptions) (models.Shipment, string) {
	if labels == nil {
		return models.Shipment{}, "shipping is not configured"
	}
	req := shipping.LabelRequest{OrderID: order.ID, Carrier: models.CarrierShippo}
	if opts != nil {
		if opts.Carrier != "" {
			req.Carrier = opts.Carrier
		}
		req.ServiceCode = opts.ServiceCode
		req.Parcel = opts.Parcel
		req.CustomsItems = opts.CustomsItems
	}
	shipment, err := labels.PurchaseLabel(ctx, req)
	if err != nil {
		return models.Shipment{}, err.Error()
	}
	return shipment, ""
}

func UpdateOrder(svc OrderAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /admin/api/orders/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		var patch orders.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := svc.Update(ctx, id, patch)
		if err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func DeleteOrder(svc OrderAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/orders/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		if err := svc.Delete(ctx, id); err != nil {
			respondOrderError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
	}
}

func respondOrderError(c *gin.Context, route string, err error) {
	var validation *orders.ValidationError
	switch {
	case errors.As(err, &validation):
		body := errorBody(c, validation.Error(), "validation")
		body["field"] = validation.Field
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case errors.Is(err, orders.ErrNotFound):
		respondWithError(c, http.StatusNotFound, route, "order not found")
	case errors.Is(err, orders.ErrDuplicate):
		respondWithError(c, http.StatusConflict, route, "order already exists")
	default:
		respondInternal(c, route, err)
	}
}
