// Package notify sends transactional email and partner callbacks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrDisabled is returned when a channel has no credentials configured.
var ErrDisabled = errors.New("notification channel disabled")

type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type ResendClient struct {
	APIKey  string
	From    string
	BaseURL string
	HTTP    *http.Client
}

func NewResendClient(apiKey, from, baseURL string) *ResendClient {
	return &ResendClient{
		APIKey:  apiKey,
		From:    from,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send posts one message to the Resend emails endpoint.
func (c *ResendClient) Send(ctx context.Context, msg Email) error {
	if c == nil || c.APIKey == "" || c.From == "" {
		return ErrDisabled
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}

	body, err := json.Marshal(resendRequest{From: c.From, To: msg.To, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text})
	if err != nil {
		return errors.WithStack(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build resend request")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	return postJSON(c.HTTP, req, "resend")
}

// AffiliateClient reports conversions to the partner webhook.
type AffiliateClient struct {
	WebhookURL string
	HTTP       *http.Client
}

func NewAffiliateClient(webhookURL string) *AffiliateClient {
	return &AffiliateClient{WebhookURL: strings.TrimSpace(webhookURL), HTTP: &http.Client{Timeout: 20 * time.Second}}
}

type Conversion struct {
	AffiliateCode string  `json:"affiliateCode"`
	OrderNumber   string  `json:"orderNumber"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	CreatedAt     string  `json:"createdAt"`
}

func (c *AffiliateClient) Report(ctx context.Context, conv Conversion) error {
	if c == nil || c.WebhookURL == "" {
		return ErrDisabled
	}
	body, err := json.Marshal(conv)
	if err != nil {
		return errors.WithStack(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build affiliate request")
	}
	req.Header.Set("Content-Type", "application/json")
	return postJSON(c.HTTP, req, "affiliate")
}

func postJSON(client *http.Client, req *http.Request, name string) error {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API error %d: %s", name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// RedactEmail keeps the first two characters of the local part.
func RedactEmail(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.SplitN(value, "@", 2)
	if len(parts) != 2 {
		return value
	}
	local := parts[0]
	if len(local) <= 2 {
		return "***@" + parts[1]
	}
	return local[:2] + "***@" + parts[1]
}
