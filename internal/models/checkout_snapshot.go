package models

import (
	"time"

	"storefront/internal/money"
	"storefront/internal/tax"
)

const CheckoutSummaryVersion = 1

// CheckoutSummary is the versioned order description carried from checkout to
// the payment webhook. JSON keys are short because provider metadata is
// size-limited.
type CheckoutSummary struct {
	Version       int            `bson:"v" json:"v"`
	Ref           string         `bson:"ref,omitempty" json:"r,omitempty"`
	Items         []SummaryItem  `bson:"items,omitempty" json:"i,omitempty"`
	ItemCount     int            `bson:"itemCount" json:"n"`
	Currency      string         `bson:"currency" json:"c"`
	Subtotal      money.Cents    `bson:"subtotal" json:"s"`
	TaxAmount     money.Cents    `bson:"taxAmount" json:"t"`
	Shipping      money.Cents    `bson:"shipping" json:"sh"`
	Total         money.Cents    `bson:"total" json:"tt"`
	TaxLabel      string         `bson:"taxLabel,omitempty" json:"tl,omitempty"`
	Tariff        bool           `bson:"tariff,omitempty" json:"tf,omitempty"`
	TaxBreakdown  *tax.Breakdown `bson:"taxBreakdown,omitempty" json:"tb,omitempty"`
	Country       string         `bson:"country,omitempty" json:"co,omitempty"`
	Province      string         `bson:"province,omitempty" json:"pr,omitempty"`
	UserID        string         `bson:"userId,omitempty" json:"u,omitempty"`
	CustomerName  string         `bson:"customerName,omitempty" json:"cn,omitempty"`
	CustomerEmail string         `bson:"customerEmail,omitempty" json:"ce,omitempty"`
	CustomerPhone string         `bson:"customerPhone,omitempty" json:"cp,omitempty"`
	AffiliateCode string         `bson:"affiliateCode,omitempty" json:"a,omitempty"`
}

type SummaryItem struct {
	ProductID  string         `bson:"productId,omitempty" json:"p,omitempty"`
	Name       string         `bson:"name" json:"n"`
	Quantity   int            `bson:"quantity" json:"q"`
	Price      money.Cents    `bson:"price,omitempty" json:"u,omitempty"`
	IsDigital  bool           `bson:"isDigital,omitempty" json:"d,omitempty"`
	Type       string         `bson:"type,omitempty" json:"y,omitempty"`
	CustomData map[string]any `bson:"customData,omitempty" json:"-"`
}

// CheckoutSnapshot stores the full summary under the reference sent to the
// payment provider. Expired snapshots are removed by a TTL index.
type CheckoutSnapshot struct {
	Ref             string          `bson:"_id" json:"ref"`
	Provider        string          `bson:"provider" json:"provider"`
	Summary         CheckoutSummary `bson:"summary" json:"summary"`
	ShippingAddress *Address        `bson:"shippingAddress,omitempty" json:"shippingAddress,omitempty"`
	CreatedAt       time.Time       `bson:"createdAt" json:"createdAt"`
	ExpiresAt       time.Time       `bson:"expiresAt" json:"expiresAt"`
}
