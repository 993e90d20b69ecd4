package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/models"
)

const NowPaymentsDescriptionLimit = 480

type NowPaymentsClient struct {
	APIKey    string
	IPNSecret string
	BaseURL   string
	HTTP      *http.Client
}

func NewNowPaymentsClient(apiKey, ipnSecret, baseURL string) *NowPaymentsClient {
	return &NowPaymentsClient{
		APIKey:    apiKey,
		IPNSecret: ipnSecret,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *NowPaymentsClient) Name() string { return models.PaymentMethodCrypto }

func (c *NowPaymentsClient) MetadataLimit() int { return NowPaymentsDescriptionLimit }

type nowPaymentsInvoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency,omitempty"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url"`
	SuccessURL       string      `json:"success_url"`
	CancelURL        string      `json:"cancel_url"`
}

type nowPaymentsInvoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

func (c *NowPaymentsClient) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if c == nil || c.APIKey == "" {
		return Session{}, errors.WithMessage(ErrNotConfigured, "nowpayments api key missing")
	}

	body := nowPaymentsInvoiceRequest{
		PriceAmount:      json.Number(req.Total.String()),
		PriceCurrency:    strings.ToLower(req.Currency),
		PayCurrency:      strings.ToLower(req.PayCurrency),
		OrderID:          req.Ref,
		OrderDescription: req.Metadata,
		IPNCallbackURL:   req.CallbackURL,
		SuccessURL:       req.SuccessURL,
		CancelURL:        req.CancelURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Session{}, errors.Wrap(err, "encode nowpayments invoice")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/invoice", bytes.NewReader(payload))
	if err != nil {
		return Session{}, errors.Wrap(err, "build nowpayments request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)

	var out nowPaymentsInvoiceResponse
	if err := doJSON(c.HTTP, httpReq, "nowpayments", &out); err != nil {
		return Session{}, err
	}
	return Session{Provider: c.Name(), ID: out.ID.String(), URL: out.InvoiceURL}, nil
}

// NowPaymentsIPN is an instant payment notification body.
type NowPaymentsIPN struct {
	PaymentID        json.Number `json:"payment_id"`
	InvoiceID        json.Number `json:"invoice_id"`
	PaymentStatus    string      `json:"payment_status"`
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayAmount        json.Number `json:"pay_amount"`
	PayCurrency      string      `json:"pay_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
}

// Settled reports whether the payment is final enough to fulfil.
func (n NowPaymentsIPN) Settled() bool {
	return n.PaymentStatus == "finished" || n.PaymentStatus == "confirmed"
}

// VerifyIPN decodes the notification and checks x-nowpayments-sig when an
// IPN secret is configured. The boolean reports whether a signature was
// actually checked.
func (c *NowPaymentsClient) VerifyIPN(payload []byte, signature string) (NowPaymentsIPN, bool, error) {
	var ipn NowPaymentsIPN
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&ipn); err != nil {
		return NowPaymentsIPN{}, false, errors.Wrap(err, "decode nowpayments ipn")
	}

	if c == nil || c.IPNSecret == "" {
		return ipn, false, nil
	}

	expected, err := nowPaymentsSignature(c.IPNSecret, payload)
	if err != nil {
		return NowPaymentsIPN{}, false, err
	}
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return NowPaymentsIPN{}, true, ErrInvalidSignature
	}
	return ipn, true, nil
}

// nowPaymentsSignature signs the body re-serialized with sorted keys, which
// is how the provider computes it.
func nowPaymentsSignature(secret string, payload []byte) (string, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", errors.Wrap(err, "decode nowpayments ipn")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", errors.Wrap(err, "encode sorted ipn")
	}
	sorted := bytes.TrimRight(buf.Bytes(), "\n")

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignNowPaymentsPayload returns the signature the provider would send.
func SignNowPaymentsPayload(secret string, payload []byte) (string, error) {
	return nowPaymentsSignature(secret, payload)
}
