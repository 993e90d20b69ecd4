// Package settings exposes typed views over the keyed AppConfig store.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/money"
)

const (
	KeyTax      = "tax"
	KeyPayments = "payments"
	KeyShipping = "shipping"
	KeyAI       = "ai"
)

type Store interface {
	Get(ctx context.Context, key string) (models.AppConfig, error)
	Put(ctx context.Context, key string, value json.RawMessage) (models.AppConfig, error)
}

type TaxSettings struct {
	ChargeCanadianTax bool `json:"chargeCanadianTax"`
	ChargeUSTariff    bool `json:"chargeUsTariff"`
}

type PaymentSettings struct {
	StripeEnabled     bool   `json:"stripeEnabled"`
	PayPalEnabled     bool   `json:"paypalEnabled"`
	CryptoEnabled     bool   `json:"cryptoEnabled"`
	CryptoPayCurrency string `json:"cryptoPayCurrency"`
}

type FlatRates struct {
	CA   money.Cents `json:"CA"`
	US   money.Cents `json:"US"`
	INTL money.Cents `json:"INTL"`
}

type Parcel struct {
	LengthCm    float64 `json:"lengthCm"`
	WidthCm     float64 `json:"widthCm"`
	HeightCm    float64 `json:"heightCm"`
	WeightGrams int     `json:"weightGrams"`
}

type ShippingSettings struct {
	Origin                models.Address `json:"origin"`
	FlatRates             FlatRates      `json:"flatRates"`
	FreeShippingThreshold money.Cents    `json:"freeShippingThreshold"`
	DefaultParcel         Parcel         `json:"defaultParcel"`
	PackagingGrams        int            `json:"packagingGrams"`
	DefaultItemGrams      int            `json:"defaultItemGrams"`
	CanadaPostService     string         `json:"canadaPostService"`
	CustomsDescription    string         `json:"customsDescription"`
	DefaultHSCode         string         `json:"defaultHsCode"`
}

type AISettings struct {
	SystemPrompt  string `json:"systemPrompt"`
	KnowledgeBase string `json:"knowledgeBase"`
	FallbackReply string `json:"fallbackReply"`
	Model         string `json:"model"`
}

func DefaultTax() TaxSettings {
	return TaxSettings{ChargeCanadianTax: true, ChargeUSTariff: true}
}

func DefaultPayments() PaymentSettings {
	return PaymentSettings{StripeEnabled: true, PayPalEnabled: true, CryptoEnabled: true, CryptoPayCurrency: "btc"}
}

func DefaultShipping() ShippingSettings {
	return ShippingSettings{
		Origin:                models.Address{Country: "CA"},
		FlatRates:             FlatRates{CA: 500, US: 1200, INTL: 2500},
		FreeShippingThreshold: 0,
		DefaultParcel:         Parcel{LengthCm: 20, WidthCm: 15, HeightCm: 10, WeightGrams: 500},
		PackagingGrams:        150,
		DefaultItemGrams:      200,
		CanadaPostService:     "DOM.EP",
		CustomsDescription:    "Spiritual and decorative goods",
		DefaultHSCode:         "7117.90",
	}
}

func DefaultAI() AISettings {
	return AISettings{
		SystemPrompt:  "You are the friendly support assistant of a metaphysical goods shop. Answer briefly and only about the shop, its products, orders and shipping.",
		FallbackReply: "Thanks for reaching out! Our assistant is offline right now. Please email support and we will get back to you within one business day.",
	}
}

// Rate returns the flat rate for a destination country.
func (s ShippingSettings) Rate(country string) money.Cents {
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "CA":
		return s.FlatRates.CA
	case "US":
		return s.FlatRates.US
	default:
		return s.FlatRates.INTL
	}
}

func (s PaymentSettings) Enabled(provider string) bool {
	switch provider {
	case models.PaymentMethodStripe:
		return s.StripeEnabled
	case models.PaymentMethodPayPal:
		return s.PayPalEnabled
	case models.PaymentMethodCrypto:
		return s.CryptoEnabled
	default:
		return false
	}
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Tax(ctx context.Context) TaxSettings {
	return load(ctx, s, KeyTax, DefaultTax())
}

func (s *Service) Payments(ctx context.Context) PaymentSettings {
	return load(ctx, s, KeyPayments, DefaultPayments())
}

func (s *Service) Shipping(ctx context.Context) ShippingSettings {
	return load(ctx, s, KeyShipping, DefaultShipping())
}

func (s *Service) AI(ctx context.Context) AISettings {
	return load(ctx, s, KeyAI, DefaultAI())
}

func (s *Service) SetShipping(ctx context.Context, v ShippingSettings) error {
	return save(ctx, s, KeyShipping, v)
}

func (s *Service) SetAI(ctx context.Context, v AISettings) error {
	return save(ctx, s, KeyAI, v)
}

// ErrInvalidValue marks a config write rejected before reaching the store.
var ErrInvalidValue = errors.New("invalid config value")

// Raw returns the stored JSON for any key. Typed keys without a stored value
// yield their defaults.
func (s *Service) Raw(ctx context.Context, key string) (json.RawMessage, error) {
	cfg, err := s.store.Get(ctx, key)
	if err == nil {
		return cfg.Value, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	def, ok := defaultFor(key)
	if !ok {
		return nil, database.ErrNotFound
	}
	return json.Marshal(def)
}

// PutRaw validates typed keys before storing them. Other keys accept any
// JSON value.
func (s *Service) PutRaw(ctx context.Context, key string, raw json.RawMessage) (models.AppConfig, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.AppConfig{}, fmt.Errorf("%w: config key is required", ErrInvalidValue)
	}
	if !json.Valid(raw) {
		return models.AppConfig{}, fmt.Errorf("%w: config value must be valid JSON", ErrInvalidValue)
	}
	if def, ok := defaultFor(key); ok {
		if err := json.Unmarshal(raw, def); err != nil {
			return models.AppConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
	}
	return s.store.Put(ctx, key, raw)
}

func defaultFor(key string) (any, bool) {
	switch key {
	case KeyTax:
		v := DefaultTax()
		return &v, true
	case KeyPayments:
		v := DefaultPayments()
		return &v, true
	case KeyShipping:
		v := DefaultShipping()
		return &v, true
	case KeyAI:
		v := DefaultAI()
		return &v, true
	default:
		return nil, false
	}
}

// load overlays the stored value on the defaults, so partially stored
// documents keep default values for missing fields.
func load[T any](ctx context.Context, s *Service, key string, def T) T {
	cfg, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Printf("[SETTINGS] [WARN] load %s failed, using defaults: %v", key, err)
		}
		return def
	}
	out := def
	if err := json.Unmarshal(cfg.Value, &out); err != nil {
		log.Printf("[SETTINGS] [WARN] decode %s failed, using defaults: %v", key, err)
		return def
	}
	return out
}

func save[T any](ctx context.Context, s *Service, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, key, raw)
	return err
}
