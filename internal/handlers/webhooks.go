package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/orders"
	"storefront/internal/payments"
)

const maxWebhookBody = 1 << 20

type OrderRecorder interface {
	CreateFromPayment(ctx context.Context, p orders.Payment) (models.Order, bool, error)
}

type StripeWebhookVerifier interface {
	VerifyWebhook(payload []byte, header string) (payments.StripeEvent, error)
}

type PayPalCapturer interface {
	Capture(ctx context.Context, orderID string) (payments.PayPalCapture, error)
}

type IPNVerifier interface {
	VerifyIPN(payload []byte, signature string) (payments.NowPaymentsIPN, bool, error)
}

// StripeWebhook records checkout.session.completed events. Once the signature
// checks out the endpoint always acknowledges, so Stripe does not retry a
// delivery the storefront has already seen.
func StripeWebhook(verifier StripeWebhookVerifier, recorder OrderRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/webhooks/stripe"
		defer handlePanic(c, route)

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid body")
			return
		}

		event, err := verifier.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, payments.ErrNotConfigured) {
				respondWithError(c, http.StatusInternalServerError, route, err.Error())
				return
			}
			respondWithError(c, http.StatusBadRequest, route, "Webhook Error: "+err.Error())
			return
		}

		session := event.Data.Object
		if event.Type != "checkout.session.completed" || session.PaymentStatus != "paid" {
			log.Printf("[%s] [INFO] ignoring %s (payment_status=%s)", route, event.Type, session.PaymentStatus)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		payment := orders.Payment{
			Method:        models.PaymentMethodStripe,
			ProviderID:    session.ID,
			Reference:     session.PaymentIntent,
			Ref:           firstNonBlank(session.Metadata["ref"], session.ClientReferenceID),
			Metadata:      session.Metadata["order"],
			Amount:        money.Cents(session.AmountTotal),
			Currency:      strings.ToUpper(session.Currency),
			CustomerName:  session.CustomerDetails.Name,
			CustomerEmail: session.CustomerDetails.Email,
			CustomerPhone: session.CustomerDetails.Phone,
		}
		recordPayment(c, route, recorder, payment)
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// PayPalCapture captures an approved PayPal order on the buyer's return.
func PayPalCapture(capturer PayPalCapturer, recorder OrderRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/paypal/capture"
		defer handlePanic(c, route)

		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			respondWithError(c, http.StatusBadRequest, route, "token is required")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		capture, err := capturer.Capture(ctx, token)
		if err != nil {
			var provider *payments.ProviderError
			if errors.As(err, &provider) || errors.Is(err, payments.ErrNotConfigured) {
				respondWithError(c, http.StatusInternalServerError, route, err.Error())
				return
			}
			respondInternal(c, route, err)
			return
		}
		if capture.Status != "COMPLETED" {
			respondWithError(c, http.StatusBadRequest, route, "payment not completed: "+strings.ToLower(capture.Status))
			return
		}

		payment := orders.Payment{
			Method:        models.PaymentMethodPayPal,
			ProviderID:    firstNonBlank(capture.OrderID, token),
			Reference:     capture.CaptureID,
			// buyer-controlled; CustomID carries the ref the order is built from
			Ref:           strings.TrimSpace(c.Query("ref")),
			Metadata:      capture.CustomID,
			Amount:        capture.Amount,
			Currency:      capture.Currency,
			CustomerName:  capture.PayerName,
			CustomerEmail: capture.Email,
		}
		order, ok := recordPayment(c, route, recorder, payment)
		body := gin.H{"status": "success"}
		if ok {
			body["orderNumber"] = order.OrderNumber
		}
		c.JSON(http.StatusOK, body)
	}
}

// NowPaymentsWebhook handles IPN callbacks for crypto invoices.
func NowPaymentsWebhook(verifier IPNVerifier, recorder OrderRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/webhooks/nowpayments"
		defer handlePanic(c, route)

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid body")
			return
		}

		ipn, checked, err := verifier.VerifyIPN(payload, c.GetHeader("x-nowpayments-sig"))
		if err != nil {
			if errors.Is(err, payments.ErrInvalidSignature) {
				respondWithError(c, http.StatusUnauthorized, route, "invalid signature")
				return
			}
			respondWithError(c, http.StatusBadRequest, route, "invalid payload")
			return
		}
		if !checked {
			log.Printf("[%s] [WARN] IPN secret not configured, accepting unsigned notification cid=%s", route, middleware.CID(c))
		}

		if !ipn.Settled() {
			log.Printf("[%s] [INFO] payment %s status=%s, nothing to record", route, ipn.PaymentID, ipn.PaymentStatus)
			c.JSON(http.StatusOK, gin.H{"status": "success"})
			return
		}

		amount, _ := money.Parse(ipn.PriceAmount.String())
		payment := orders.Payment{
			Method:     models.PaymentMethodCrypto,
			ProviderID: ipn.PaymentID.String(),
			Reference:  ipn.InvoiceID.String(),
			Ref:        ipn.OrderID,
			Metadata:   ipn.OrderDescription,
			Amount:     amount,
			Currency:   strings.ToUpper(ipn.PriceCurrency),
		}
		recordPayment(c, route, recorder, payment)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// recordPayment persists the order; failures are logged with the correlation
// id but never change the acknowledgement.
func recordPayment(c *gin.Context, route string, recorder OrderRecorder, p orders.Payment) (models.Order, bool) {
	ctx, cancel := requestContext(c)
	defer cancel()

	order, created, err := recorder.CreateFromPayment(ctx, p)
	if err != nil {
		log.Printf("[%s] [ERROR] order %s not recorded cid=%s: %v", route, p.OrderNumber(), middleware.CID(c), err)
		return models.Order{}, false
	}
	if !created {
		log.Printf("[%s] [INFO] duplicate delivery for %s", route, order.OrderNumber)
	}
	return order, true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
