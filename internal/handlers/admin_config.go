package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/settings"
)

const maxConfigBody = 256 << 10

type ConfigStore interface {
	Raw(ctx context.Context, key string) (json.RawMessage, error)
	PutRaw(ctx context.Context, key string, raw json.RawMessage) (models.AppConfig, error)
}

func GetConfig(store ConfigStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/config/:key"
		defer handlePanic(c, route)

		key := c.Param("key")

		ctx, cancel := requestContext(c)
		defer cancel()

		raw, err := store.Raw(ctx, key)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondWithError(c, http.StatusNotFound, route, "config not found")
				return
			}
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "value": raw})
	}
}

// PutConfig replaces the whole value stored under key. The body is the value
// itself, not an envelope.
func PutConfig(store ConfigStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /admin/api/config/:key"
		defer handlePanic(c, route)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid body")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		cfg, err := store.PutRaw(ctx, c.Param("key"), body)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidValue) {
				respondWithCode(c, http.StatusBadRequest, route, "validation", err.Error())
				return
			}
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}
