package checkout

import (
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/models"
)

var (
	ErrSummaryTooLarge = errors.New("order summary too large")
	ErrSummaryVersion  = errors.New("unsupported order summary version")
)

// EncodeSummary renders s as compact JSON no longer than limit. When the full
// form does not fit it drops per-item prices, then item detail (keeping the
// count), then customer, buyer account and destination detail. The snapshot
// stored under Ref keeps everything dropped here. It fails only if even the
// last form is too long.
func EncodeSummary(s models.CheckoutSummary, limit int) (string, error) {
	s.Version = models.CheckoutSummaryVersion
	s.ItemCount = countItems(s.Items, s.ItemCount)

	for _, degrade := range summaryStages {
		candidate := degrade(s)
		raw, err := json.Marshal(candidate)
		if err != nil {
			return "", err
		}
		if limit <= 0 || len(raw) <= limit {
			return string(raw), nil
		}
	}
	return "", fmt.Errorf("%w: limit %d", ErrSummaryTooLarge, limit)
}

var summaryStages = []func(models.CheckoutSummary) models.CheckoutSummary{
	func(s models.CheckoutSummary) models.CheckoutSummary { return s },
	func(s models.CheckoutSummary) models.CheckoutSummary {
		items := make([]models.SummaryItem, len(s.Items))
		for i, item := range s.Items {
			item.Price = 0
			items[i] = item
		}
		s.Items = items
		return s
	},
	func(s models.CheckoutSummary) models.CheckoutSummary {
		s.Items = nil
		return s
	},
	func(s models.CheckoutSummary) models.CheckoutSummary {
		s.Items = nil
		s.TaxBreakdown = nil
		s.CustomerName = ""
		s.CustomerPhone = ""
		s.CustomerEmail = ""
		s.AffiliateCode = ""
		s.TaxLabel = ""
		s.Tariff = false
		s.Country = ""
		s.Province = ""
		s.UserID = ""
		return s
	},
}

// DecodeSummary parses a summary produced by EncodeSummary.
func DecodeSummary(raw string) (models.CheckoutSummary, error) {
	var s models.CheckoutSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return models.CheckoutSummary{}, fmt.Errorf("decode order summary: %w", err)
	}
	if s.Version != models.CheckoutSummaryVersion {
		return models.CheckoutSummary{}, fmt.Errorf("%w: %d", ErrSummaryVersion, s.Version)
	}
	if s.Total != s.Subtotal+s.TaxAmount+s.Shipping {
		return models.CheckoutSummary{}, errors.New("order summary totals do not add up")
	}
	return s, nil
}

func countItems(items []models.SummaryItem, fallback int) int {
	if len(items) == 0 {
		return fallback
	}
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}
