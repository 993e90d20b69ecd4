package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/orders"
	"storefront/internal/payments"
)

type fakeRecorder struct {
	payments []orders.Payment
	err      error
}

func (f *fakeRecorder) CreateFromPayment(_ context.Context, p orders.Payment) (models.Order, bool, error) {
	f.payments = append(f.payments, p)
	if f.err != nil {
		return models.Order{}, false, f.err
	}
	return models.Order{OrderNumber: p.OrderNumber(), TotalAmount: p.Amount}, true, nil
}

const stripeEvent = `{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_123",
    "payment_status": "paid",
    "payment_intent": "pi_1",
    "amount_total": 2760,
    "currency": "cad",
    "client_reference_id": "ref-1",
    "metadata": {"order": "{\"v\":1}"},
    "customer_details": {"email": "ana@example.com", "name": "Ana"}
  }}
}`

func signStripe(secret string, payload string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + payload))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	client := payments.NewStripeClient("sk_test", "whsec_test", "")
	rec := &fakeRecorder{}
	r := newRouter()
	r.POST("/api/webhooks/stripe", StripeWebhook(client, rec))

	w := perform(r, http.MethodPost, "/api/webhooks/stripe", stripeEvent,
		withHeader("Stripe-Signature", signStripe("whsec_other", stripeEvent, time.Now())))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, decode(t, w)["error"], "Webhook Error")
	require.Empty(t, rec.payments)
}

func TestStripeWebhookRecordsPaidSession(t *testing.T) {
	client := payments.NewStripeClient("sk_test", "whsec_test", "")
	rec := &fakeRecorder{}
	r := newRouter()
	r.POST("/api/webhooks/stripe", StripeWebhook(client, rec))

	w := perform(r, http.MethodPost, "/api/webhooks/stripe", stripeEvent,
		withHeader("Stripe-Signature", signStripe("whsec_test", stripeEvent, time.Now())))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, rec.payments, 1)
	p := rec.payments[0]
	require.Equal(t, models.PaymentMethodStripe, p.Method)
	require.Equal(t, "cs_test_123", p.ProviderID)
	require.Equal(t, "ref-1", p.Ref)
	require.Equal(t, `{"v":1}`, p.Metadata)
	require.Equal(t, money.Cents(2760), p.Amount)
	require.Equal(t, "CAD", p.Currency)
	require.Equal(t, "ana@example.com", p.CustomerEmail)
}

func TestStripeWebhookAcknowledgesWhenRecordingFails(t *testing.T) {
	client := payments.NewStripeClient("sk_test", "whsec_test", "")
	rec := &fakeRecorder{err: errors.New("mongo down")}
	r := newRouter()
	r.POST("/api/webhooks/stripe", StripeWebhook(client, rec))

	w := perform(r, http.MethodPost, "/api/webhooks/stripe", stripeEvent,
		withHeader("Stripe-Signature", signStripe("whsec_test", stripeEvent, time.Now())))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["received"])
}

func TestStripeWebhookIgnoresOtherEvents(t *testing.T) {
	client := payments.NewStripeClient("sk_test", "whsec_test", "")
	rec := &fakeRecorder{}
	r := newRouter()
	r.POST("/api/webhooks/stripe", StripeWebhook(client, rec))

	payload := `{"id":"evt_2","type":"checkout.session.expired","data":{"object":{"id":"cs_2"}}}`
	w := perform(r, http.MethodPost, "/api/webhooks/stripe", payload,
		withHeader("Stripe-Signature", signStripe("whsec_test", payload, time.Now())))

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, rec.payments)
}

func TestStripeWebhookWithoutSecretIsServerError(t *testing.T) {
	client := payments.NewStripeClient("sk_test", "", "")
	r := newRouter()
	r.POST("/api/webhooks/stripe", StripeWebhook(client, &fakeRecorder{}))

	w := perform(r, http.MethodPost, "/api/webhooks/stripe", stripeEvent, withHeader("Stripe-Signature", "t=1,v1=x"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type fakeCapturer struct {
	capture payments.PayPalCapture
	err     error
	token   string
}

func (f *fakeCapturer) Capture(_ context.Context, orderID string) (payments.PayPalCapture, error) {
	f.token = orderID
	return f.capture, f.err
}

func TestPayPalCapture(t *testing.T) {
	t.Run("completed capture records the order", func(t *testing.T) {
		capturer := &fakeCapturer{capture: payments.PayPalCapture{
			OrderID: "5O190127TN364715T", Status: "COMPLETED", CaptureID: "3C679366HH908993F",
			CustomID: "ref-9", Amount: 4200, Currency: "USD", Email: "payer@example.com",
		}}
		rec := &fakeRecorder{}
		r := newRouter()
		r.GET("/api/paypal/capture", PayPalCapture(capturer, rec))

		w := perform(r, http.MethodGet, "/api/paypal/capture?token=5O190127TN364715T&PayerID=P1&ref=ref-9", nil)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		require.Equal(t, "success", body["status"])
		require.Equal(t, "PAYPAL_5O190127TN364715T", body["orderNumber"])
		require.Equal(t, "5O190127TN364715T", capturer.token)
		require.Len(t, rec.payments, 1)
		require.Equal(t, "ref-9", rec.payments[0].Ref)
		require.Equal(t, money.Cents(4200), rec.payments[0].Amount)
	})

	t.Run("pending capture is rejected", func(t *testing.T) {
		capturer := &fakeCapturer{capture: payments.PayPalCapture{OrderID: "O1", Status: "PENDING"}}
		rec := &fakeRecorder{}
		r := newRouter()
		r.GET("/api/paypal/capture", PayPalCapture(capturer, rec))

		w := perform(r, http.MethodGet, "/api/paypal/capture?token=O1", nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, decode(t, w)["error"], "pending")
		require.Empty(t, rec.payments)
	})

	t.Run("missing token", func(t *testing.T) {
		r := newRouter()
		r.GET("/api/paypal/capture", PayPalCapture(&fakeCapturer{}, &fakeRecorder{}))

		w := perform(r, http.MethodGet, "/api/paypal/capture", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("provider failure surfaces as 500", func(t *testing.T) {
		capturer := &fakeCapturer{err: &payments.ProviderError{Provider: "paypal", Status: 422, Body: "ORDER_NOT_APPROVED"}}
		r := newRouter()
		r.GET("/api/paypal/capture", PayPalCapture(capturer, &fakeRecorder{}))

		w := perform(r, http.MethodGet, "/api/paypal/capture?token=O1", nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, decode(t, w)["error"], "ORDER_NOT_APPROVED")
	})
}

func TestNowPaymentsWebhook(t *testing.T) {
	finished := `{"payment_id": 5077125051, "invoice_id": 4522625843, "payment_status": "finished",
		"price_amount": 44.5, "price_currency": "usd", "order_id": "ref-c1", "order_description": "{\"v\":1}"}`

	t.Run("settled payment without secret is recorded", func(t *testing.T) {
		rec := &fakeRecorder{}
		r := newRouter()
		r.POST("/api/webhooks/nowpayments", NowPaymentsWebhook(payments.NewNowPaymentsClient("key", "", ""), rec))

		w := perform(r, http.MethodPost, "/api/webhooks/nowpayments", finished)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, rec.payments, 1)
		p := rec.payments[0]
		require.Equal(t, models.PaymentMethodCrypto, p.Method)
		require.Equal(t, "5077125051", p.ProviderID)
		require.Equal(t, "ref-c1", p.Ref)
		require.Equal(t, money.Cents(4450), p.Amount)
		require.Equal(t, "USD", p.Currency)
	})

	t.Run("waiting payment is acknowledged only", func(t *testing.T) {
		rec := &fakeRecorder{}
		r := newRouter()
		r.POST("/api/webhooks/nowpayments", NowPaymentsWebhook(payments.NewNowPaymentsClient("key", "", ""), rec))

		w := perform(r, http.MethodPost, "/api/webhooks/nowpayments", `{"payment_id": 1, "payment_status": "waiting"}`)

		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, rec.payments)
	})

	t.Run("bad signature is unauthorized", func(t *testing.T) {
		rec := &fakeRecorder{}
		r := newRouter()
		r.POST("/api/webhooks/nowpayments", NowPaymentsWebhook(payments.NewNowPaymentsClient("key", "ipn-secret", ""), rec))

		w := perform(r, http.MethodPost, "/api/webhooks/nowpayments", finished, withHeader("x-nowpayments-sig", "deadbeef"))

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Empty(t, rec.payments)
	})
}
