// Package payments talks to the hosted checkout providers.
package payments

import (
	"errors"
	"fmt"

	"storefront/internal/money"
)

var (
	ErrNotConfigured    = errors.New("payment provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ProviderError carries the upstream status and body so callers can surface
// the provider's own message.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

type Line struct {
	Name      string
	UnitPrice money.Cents
	Quantity  int
	ImageURL  string
}

// SessionRequest is the provider-neutral description of a hosted checkout.
type SessionRequest struct {
	Ref           string
	Currency      string
	Lines         []Line
	Subtotal      money.Cents
	TaxAmount     money.Cents
	TaxLabel      string
	Shipping      money.Cents
	Total         money.Cents
	CustomerEmail string
	PayCurrency   string
	Metadata      string
	SuccessURL    string
	CancelURL     string
	CallbackURL   string
}

type Session struct {
	Provider string `json:"provider"`
	ID       string `json:"sessionId"`
	URL      string `json:"url"`
}
