package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/money"
)

const (
	ShipmentStatusCreated   = "created"
	ShipmentStatusCancelled = "cancelled"

	CarrierShippo     = "shippo"
	CarrierCanadaPost = "canadapost"
)

// Shipment records a purchased label and the raw carrier responses behind it.
type Shipment struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderID            primitive.ObjectID `bson:"orderId" json:"orderId"`
	Carrier            string             `bson:"carrier" json:"carrier"`
	Service            string             `bson:"service" json:"service"`
	Incoterm           string             `bson:"incoterm,omitempty" json:"incoterm,omitempty"`
	CustomsReason      string             `bson:"customsReason,omitempty" json:"customsReason,omitempty"`
	LabelMeta          map[string]string  `bson:"labelMeta,omitempty" json:"labelMeta,omitempty"`
	APIAudit           []APIAuditEntry    `bson:"apiAudit,omitempty" json:"-"`
	TrackingNumber     string             `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	LabelURL           string             `bson:"labelUrl,omitempty" json:"labelUrl,omitempty"`
	Cost               money.Cents        `bson:"cost" json:"cost"`
	Currency           string             `bson:"currency" json:"currency"`
	EstimatedDelivery  string             `bson:"estimatedDelivery,omitempty" json:"estimatedDelivery,omitempty"`
	ProviderShipmentID string             `bson:"providerShipmentId,omitempty" json:"providerShipmentId,omitempty"`
	RefundLink         string             `bson:"refundLink,omitempty" json:"refundLink,omitempty"`
	Status             string             `bson:"status" json:"status"`
	CreatedAt          time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// APIAuditEntry keeps one raw provider response.
type APIAuditEntry struct {
	Step   string    `bson:"step" json:"step"`
	Status int       `bson:"status" json:"status"`
	Body   string    `bson:"body" json:"body"`
	At     time.Time `bson:"at" json:"at"`
}
