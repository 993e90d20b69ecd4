package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
	OutboxFailed     = "failed"

	EventReceiptEmail        = "email.receipt"
	EventAffiliateConversion = "affiliate.conversion"
	EventOrderPublished      = "order.published"
)

// OutboxEvent is a side effect recorded after an order commit and executed
// by the dispatcher.
type OutboxEvent struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Type          string             `bson:"type" json:"type"`
	OrderID       primitive.ObjectID `bson:"orderId" json:"orderId"`
	Recipient     string             `bson:"recipient,omitempty" json:"recipient,omitempty"`
	Status        string             `bson:"status" json:"status"`
	Attempts      int                `bson:"attempts" json:"attempts"`
	LastError     string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	NextAttemptAt time.Time          `bson:"nextAttemptAt" json:"nextAttemptAt"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}
