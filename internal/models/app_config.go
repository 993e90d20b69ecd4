package models

import (
	"encoding/json"
	"time"
)

// AppConfig is a keyed JSON settings document, upserted by key.
type AppConfig struct {
	Key       string          `bson:"key" json:"key"`
	Value     json.RawMessage `bson:"-" json:"value"`
	RawValue  string          `bson:"value" json:"-"`
	UpdatedAt time.Time       `bson:"updatedAt" json:"updatedAt"`
}
