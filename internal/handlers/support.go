package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/chat"
)

type ChatResponder interface {
	Reply(ctx context.Context, message string) (string, error)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func SupportChat(assistant ChatResponder) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/support/chat"
		defer handlePanic(c, route)

		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		reply, err := assistant.Reply(ctx, req.Message)
		if err != nil {
			if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrMessageTooLong) {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

// Health reports 503 while the database is unreachable.
func Health(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ping(c.Request.Context()); err != nil {
			log.Printf("[HEALTH] [ERROR] database ping failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}
