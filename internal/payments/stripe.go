package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/models"
)

const (
	StripeMetadataLimit      = 480
	stripeSignatureTolerance = 5 * time.Minute
)

type StripeClient struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTP          *http.Client
	Now           func() time.Time
}

func NewStripeClient(secretKey, webhookSecret, baseURL string) *StripeClient {
	return &StripeClient{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTP:          &http.Client{Timeout: 20 * time.Second},
		Now:           time.Now,
	}
}

func (c *StripeClient) Name() string { return models.PaymentMethodStripe }

func (c *StripeClient) MetadataLimit() int { return StripeMetadataLimit }

type stripeSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *StripeClient) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if c == nil || c.SecretKey == "" {
		return Session{}, errors.WithMessage(ErrNotConfigured, "stripe secret key missing")
	}

	currency := strings.ToLower(req.Currency)
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", req.Ref)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	form.Set("metadata[order]", req.Metadata)
	form.Set("metadata[ref]", req.Ref)

	i := 0
	addLine := func(name string, amount int64, quantity int, image string) {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[quantity]", strconv.Itoa(quantity))
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(amount, 10))
		form.Set(prefix+"[price_data][product_data][name]", name)
		if image != "" {
			form.Set(prefix+"[price_data][product_data][images][0]", image)
		}
		i++
	}
	for _, line := range req.Lines {
		addLine(line.Name, int64(line.UnitPrice), line.Quantity, line.ImageURL)
	}
	if req.TaxAmount > 0 {
		label := req.TaxLabel
		if label == "" {
			label = "Tax"
		}
		addLine(label, int64(req.TaxAmount), 1, "")
	}
	if req.Shipping > 0 {
		addLine("Shipping", int64(req.Shipping), 1, "")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, errors.Wrap(err, "build stripe request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.SecretKey, "")

	var out stripeSessionResponse
	if err := doJSON(c.HTTP, httpReq, "stripe", &out); err != nil {
		return Session{}, err
	}
	return Session{Provider: c.Name(), ID: out.ID, URL: out.URL}, nil
}

// StripeEvent is the subset of a webhook event the storefront reads.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object StripeCheckoutSession `json:"object"`
	} `json:"data"`
}

type StripeCheckoutSession struct {
	ID                string            `json:"id"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
func (c *StripeClient) VerifyWebhook(payload []byte, header string) (StripeEvent, error) {
	if c == nil || c.WebhookSecret == "" {
		return StripeEvent{}, errors.WithMessage(ErrNotConfigured, "stripe webhook secret missing")
	}

	timestamp, signatures := parseStripeSignature(header)
	if timestamp == "" || len(signatures) == 0 {
		return StripeEvent{}, errors.WithMessage(ErrInvalidSignature, "malformed Stripe-Signature header")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return StripeEvent{}, errors.WithMessage(ErrInvalidSignature, "bad timestamp")
	}
	now := c.Now()
	if age := now.Sub(time.Unix(ts, 0)); age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return StripeEvent{}, errors.WithMessage(ErrInvalidSignature, "timestamp outside tolerance")
	}

	expected := stripeSignature(c.WebhookSecret, timestamp, payload)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return StripeEvent{}, ErrInvalidSignature
	}

	var event StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return StripeEvent{}, errors.Wrap(err, "decode stripe event")
	}
	return event, nil
}

func parseStripeSignature(header string) (string, []string) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}

func stripeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignStripePayload builds a valid header value, used by tests and local tooling.
func SignStripePayload(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + stripeSignature(secret, ts, payload)
}
