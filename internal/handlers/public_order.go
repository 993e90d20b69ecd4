package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type OrderLister interface {
	List(ctx context.Context, f database.OrderFilter) ([]models.Order, int64, error)
}

// GetMyOrders lists orders placed by the authenticated buyer, newest first.
func GetMyOrders(svc OrderLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/orders"
		defer handlePanic(c, route)

		userID, _, _ := middleware.Identity(c)
		id, err := primitive.ObjectIDFromHex(userID)
		if err != nil {
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
			return
		}

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		list, total, err := svc.List(ctx, database.OrderFilter{UserID: &id, Page: page, Limit: limit})
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginationBody(list, page, limit, total))
	}
}
