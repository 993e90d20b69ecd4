package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/checkout"
	"storefront/internal/middleware"
	"storefront/internal/payments"
)

const affiliateCookie = "affiliate_code"

type CheckoutService interface {
	Quote(ctx context.Context, req checkout.CartRequest, caller checkout.Caller) (checkout.Quote, error)
	Begin(ctx context.Context, provider string, req checkout.CartRequest, caller checkout.Caller, affiliate string) (checkout.Result, error)
}

// QuoteCart prices a cart without opening a provider session.
func QuoteCart(svc CheckoutService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/checkout/quote"
		defer handlePanic(c, route)

		var req checkout.CartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		quote, err := svc.Quote(ctx, req, callerFrom(c))
		if err != nil {
			respondCheckoutError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"totals": quote.Totals, "items": quote.Items})
	}
}

// Checkout opens a hosted session with provider and returns its redirect URL.
func Checkout(svc CheckoutService, provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := "POST /api/checkout/" + provider
		defer handlePanic(c, route)

		var req checkout.CartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		affiliate, _ := c.Cookie(affiliateCookie)

		ctx, cancel := requestContext(c)
		defer cancel()

		result, err := svc.Begin(ctx, provider, req, callerFrom(c), affiliate)
		if err != nil {
			respondCheckoutError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func callerFrom(c *gin.Context) checkout.Caller {
	userID, email, _ := middleware.Identity(c)
	return checkout.Caller{UserID: userID, Email: email}
}

func respondCheckoutError(c *gin.Context, route string, err error) {
	var validation *checkout.ValidationError
	var provider *payments.ProviderError
	switch {
	case errors.As(err, &validation):
		body := errorBody(c, validation.Error(), "validation")
		body["field"] = validation.Field
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case errors.Is(err, checkout.ErrAuthRequired):
		respondWithCode(c, http.StatusUnauthorized, route, "auth_required", err.Error())
	case errors.Is(err, checkout.ErrProviderUnavailable):
		respondWithCode(c, http.StatusBadRequest, route, "provider_unavailable", err.Error())
	case errors.Is(err, payments.ErrNotConfigured):
		respondWithCode(c, http.StatusInternalServerError, route, "provider_not_configured", err.Error())
	case errors.As(err, &provider):
		respondWithCode(c, http.StatusInternalServerError, route, "provider_error", strings.TrimSpace(provider.Error()))
	case errors.Is(err, checkout.ErrSummaryTooLarge):
		respondWithCode(c, http.StatusInternalServerError, route, "summary_too_large", err.Error())
	default:
		respondInternal(c, route, err)
	}
}
