package models

import "time"

// FxRateCache holds the last rate table fetched for one base currency.
type FxRateCache struct {
	Base      string             `bson:"_id" json:"base"`
	Rates     map[string]float64 `bson:"rates" json:"rates"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}
