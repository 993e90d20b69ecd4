package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/middleware"
)

const requestTimeout = 10 * time.Second

func handlePanic(c *gin.Context, route string) {
	if r := recover(); r != nil {
		log.Printf("[%s] panic recovered cid=%s: %v", route, middleware.CID(c), r)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(c, "internal server error", ""))
	}
}

func errorBody(c *gin.Context, message, code string) gin.H {
	body := gin.H{"error": message}
	if code != "" {
		body["code"] = code
	}
	if cid := middleware.CID(c); cid != "" {
		body["cid"] = cid
	}
	return body
}

func respondWithError(c *gin.Context, status int, route string, message string) {
	log.Printf("[%s] returning error %d cid=%s: %s", route, status, middleware.CID(c), message)
	c.AbortWithStatusJSON(status, errorBody(c, message, ""))
}

func respondWithCode(c *gin.Context, status int, route, code, message string) {
	log.Printf("[%s] returning error %d (%s) cid=%s: %s", route, status, code, middleware.CID(c), message)
	c.AbortWithStatusJSON(status, errorBody(c, message, code))
}

// respondInternal logs the cause and answers with a generic message.
func respondInternal(c *gin.Context, route string, err error) {
	log.Printf("[%s] [ERROR] cid=%s: %v", route, middleware.CID(c), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(c, "internal server error", ""))
}

func respondValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			field := lowerCamel(fieldError.Field())
			switch fieldError.Tag() {
			case "required":
				details = append(details, fmt.Sprintf("%s is required", field))
			case "email":
				details = append(details, fmt.Sprintf("%s must be a valid email", field))
			case "min", "gt", "gte":
				details = append(details, fmt.Sprintf("%s must be at least %s", field, fieldError.Param()))
			case "oneof":
				details = append(details, fmt.Sprintf("%s must be one of: %s", field, fieldError.Param()))
			default:
				details = append(details, fmt.Sprintf("%s is invalid", field))
			}
		}
		body := errorBody(c, "validation failed", "validation")
		body["details"] = details
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(c, "invalid request body", "invalid_body"))
}

func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func parseObjectID(c *gin.Context, route, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(c.Param(param)))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, route, "invalid id")
		return primitive.NilObjectID, false
	}
	return id, true
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}
