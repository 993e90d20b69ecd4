// Package checkout prices carts and opens hosted payment sessions.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/payments"
	"storefront/internal/settings"
	"storefront/internal/tax"
)

const snapshotTTL = 7 * 24 * time.Hour

var ErrProviderUnavailable = errors.New("payment method unavailable")

type Gateway interface {
	Name() string
	MetadataLimit() int
	CreateSession(ctx context.Context, req payments.SessionRequest) (payments.Session, error)
}

type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[string]models.Product, error)
}

type SnapshotStore interface {
	Save(ctx context.Context, s models.CheckoutSnapshot) error
}

type Converter interface {
	Convert(ctx context.Context, amount money.Cents, from, to string) money.Cents
}

type SettingsSource interface {
	Tax(ctx context.Context) settings.TaxSettings
	Payments(ctx context.Context) settings.PaymentSettings
	Shipping(ctx context.Context) settings.ShippingSettings
}

type Service struct {
	Products  ProductLookup
	Snapshots SnapshotStore
	FX        Converter
	Settings  SettingsSource
	Gateways  map[string]Gateway
	BaseURL   string

	NewRef func() string
	Now    func() time.Time
}

func NewService(products ProductLookup, snapshots SnapshotStore, fx Converter, cfg SettingsSource, baseURL string, gateways ...Gateway) *Service {
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &Service{
		Products:  products,
		Snapshots: snapshots,
		FX:        fx,
		Settings:  cfg,
		Gateways:  byName,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		NewRef:    func() string { return uuid.NewString() },
		Now:       time.Now,
	}
}

// Totals is what the buyer is charged, in BaseCurrency, plus an optional
// converted display amount.
type Totals struct {
	Currency        string         `json:"currency"`
	Subtotal        money.Cents    `json:"subtotal"`
	TaxAmount       money.Cents    `json:"taxAmount"`
	TaxLabel        string         `json:"taxLabel,omitempty"`
	TaxBreakdown    *tax.Breakdown `json:"taxBreakdown,omitempty"`
	Tariff          bool           `json:"tariff,omitempty"`
	Shipping        money.Cents    `json:"shipping"`
	Total           money.Cents    `json:"total"`
	DisplayCurrency string         `json:"displayCurrency,omitempty"`
	DisplayTotal    money.Cents    `json:"displayTotal,omitempty"`
}

type Quote struct {
	Totals
	Items       []models.SummaryItem
	Lines       []payments.Line
	Address     *models.Address
	HasPhysical bool
}

type Result struct {
	Provider  string `json:"provider"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Ref       string `json:"ref"`
	Totals    Totals `json:"totals"`
}

// Quote validates and prices the cart without talking to any provider.
func (s *Service) Quote(ctx context.Context, req CartRequest, caller Caller) (Quote, error) {
	if err := Validate(req, caller); err != nil {
		return Quote{}, err
	}

	catalog, err := s.lookupProducts(ctx, req.Items)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Totals: Totals{Currency: BaseCurrency}}
	if req.ShippingAddress != nil {
		addr := trimmedAddress(*req.ShippingAddress)
		q.Address = &addr
	}

	hasDigital := false
	taxLines := make([]tax.Line, 0, len(req.Items))
	for i, item := range req.Items {
		summary := models.SummaryItem{
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			Price:      item.Price,
			IsDigital:  item.IsDigital(),
			Type:       item.Type,
			CustomData: item.CustomData,
		}
		image := item.ImageURL

		if product, ok := catalog[strings.TrimSpace(item.ProductID)]; ok {
			if product.ComingSoon || !product.InStock {
				return Quote{}, invalid(fmt.Sprintf("items[%d]", i), "%s is not available", product.Name)
			}
			summary.ProductID = product.ID.Hex()
			summary.Name = product.Name
			summary.Price = product.Price
			summary.IsDigital = !product.IsPhysical
			summary.Type = catalogType(item.Type, product.IsPhysical)
			if image == "" {
				image = product.ImageURL
			}
		}
		if summary.IsDigital {
			hasDigital = true
		} else {
			q.HasPhysical = true
		}

		q.Items = append(q.Items, summary)
		q.Lines = append(q.Lines, payments.Line{Name: summary.Name, UnitPrice: summary.Price, Quantity: summary.Quantity, ImageURL: absoluteURL(s.BaseURL, image)})
		q.Subtotal += summary.Price.Times(summary.Quantity)
		taxLines = append(taxLines, tax.Line{IsDigital: summary.IsDigital, Price: summary.Price, Quantity: summary.Quantity})
	}

	// Validate saw the client's item types; the catalog decides.
	if hasDigital && !caller.Authenticated() {
		return Quote{}, ErrAuthRequired
	}
	if q.HasPhysical && (q.Address == nil || !q.Address.IsComplete()) {
		return Quote{}, invalid("shippingAddress", "full shipping address is required for physical items")
	}

	dest := tax.Destination{}
	if q.Address != nil {
		dest = tax.Destination{Country: q.Address.Country, Province: q.Address.State}
	}
	extra, err := s.destinationExtra(ctx, dest, taxLines)
	if err != nil {
		if errors.Is(err, tax.ErrUnknownProvince) {
			return Quote{}, invalid("shippingAddress.state", "unknown Canadian province %q", dest.Province)
		}
		return Quote{}, err
	}
	q.TaxAmount = extra.Amount
	q.TaxLabel = extra.Label
	q.Tariff = extra.Tariff
	if extra.Breakdown.TotalTax > 0 {
		b := extra.Breakdown
		q.TaxBreakdown = &b
	}

	if q.HasPhysical {
		ship := s.Settings.Shipping(ctx)
		q.Shipping = ship.Rate(dest.Country)
		if ship.FreeShippingThreshold > 0 && q.Subtotal >= ship.FreeShippingThreshold {
			q.Shipping = 0
		}
	}

	q.Total = q.Subtotal + q.TaxAmount + q.Shipping

	display := strings.ToUpper(strings.TrimSpace(req.Currency))
	if display != "" && display != BaseCurrency {
		q.DisplayCurrency = display
		q.DisplayTotal = s.FX.Convert(ctx, q.Total, BaseCurrency, display)
	}
	return q, nil
}

func (s *Service) destinationExtra(ctx context.Context, dest tax.Destination, lines []tax.Line) (tax.Extra, error) {
	extra, err := tax.DestinationExtra(dest, lines)
	if err != nil {
		return tax.Extra{}, err
	}
	cfg := s.Settings.Tax(ctx)
	if extra.Tariff && !cfg.ChargeUSTariff {
		return tax.Extra{}, nil
	}
	if !extra.Tariff && !cfg.ChargeCanadianTax {
		return tax.Extra{}, nil
	}
	return extra, nil
}

// Begin prices the cart, stores a snapshot under a fresh reference and opens
// a hosted session with the named provider. No order is written here.
func (s *Service) Begin(ctx context.Context, provider string, req CartRequest, caller Caller, affiliate string) (Result, error) {
	gateway, ok := s.Gateways[provider]
	if !ok || !s.Settings.Payments(ctx).Enabled(provider) {
		return Result{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	q, err := s.Quote(ctx, req, caller)
	if err != nil {
		return Result{}, err
	}

	ref := s.NewRef()
	summary := models.CheckoutSummary{
		Version:       models.CheckoutSummaryVersion,
		Ref:           ref,
		Items:         q.Items,
		Currency:      q.Currency,
		Subtotal:      q.Subtotal,
		TaxAmount:     q.TaxAmount,
		Shipping:      q.Shipping,
		Total:         q.Total,
		TaxLabel:      q.TaxLabel,
		Tariff:        q.Tariff,
		TaxBreakdown:  q.TaxBreakdown,
		UserID:        caller.UserID,
		CustomerName:  customerName(req, caller),
		CustomerEmail: customerEmail(req, caller),
		CustomerPhone: strings.TrimSpace(req.Customer.Phone),
		AffiliateCode: strings.TrimSpace(affiliate),
	}
	summary.ItemCount = countItems(summary.Items, 0)
	if q.Address != nil {
		summary.Country = q.Address.Country
		summary.Province = q.Address.State
	}

	metadata, err := EncodeSummary(summary, gateway.MetadataLimit())
	if err != nil {
		return Result{}, err
	}

	now := s.Now().UTC()
	if err := s.Snapshots.Save(ctx, models.CheckoutSnapshot{
		Ref:             ref,
		Provider:        provider,
		Summary:         summary,
		ShippingAddress: q.Address,
		CreatedAt:       now,
		ExpiresAt:       now.Add(snapshotTTL),
	}); err != nil {
		return Result{}, fmt.Errorf("save checkout snapshot: %w", err)
	}

	sessionReq := payments.SessionRequest{
		Ref:           ref,
		Currency:      q.Currency,
		Lines:         q.Lines,
		Subtotal:      q.Subtotal,
		TaxAmount:     q.TaxAmount,
		TaxLabel:      q.TaxLabel,
		Shipping:      q.Shipping,
		Total:         q.Total,
		CustomerEmail: summary.CustomerEmail,
		Metadata:      metadata,
	}
	s.fillURLs(provider, ref, &sessionReq)
	if provider == models.PaymentMethodCrypto {
		sessionReq.PayCurrency = s.Settings.Payments(ctx).CryptoPayCurrency
	}

	session, err := gateway.CreateSession(ctx, sessionReq)
	if err != nil {
		return Result{}, err
	}

	log.Printf("[CHECKOUT] [INFO] %s session %s opened ref=%s total=%s items=%d", provider, session.ID, ref, q.Total, summary.ItemCount)
	return Result{Provider: provider, SessionID: session.ID, URL: session.URL, Ref: ref, Totals: q.Totals}, nil
}

func (s *Service) fillURLs(provider, ref string, req *payments.SessionRequest) {
	escaped := url.QueryEscape(ref)
	switch provider {
	case models.PaymentMethodStripe:
		req.SuccessURL = s.BaseURL + "/checkout/success?provider=stripe&session_id={CHECKOUT_SESSION_ID}"
		req.CancelURL = s.BaseURL + "/cart?cancelled=stripe"
	case models.PaymentMethodPayPal:
		req.SuccessURL = s.BaseURL + "/api/paypal/capture?ref=" + escaped
		req.CancelURL = s.BaseURL + "/cart?cancelled=paypal"
	case models.PaymentMethodCrypto:
		req.SuccessURL = s.BaseURL + "/checkout/success?provider=crypto&ref=" + escaped
		req.CancelURL = s.BaseURL + "/cart?cancelled=crypto"
		req.CallbackURL = s.BaseURL + "/api/webhooks/nowpayments"
	}
}

func (s *Service) lookupProducts(ctx context.Context, items []CartItem) (map[string]models.Product, error) {
	ids := make([]primitive.ObjectID, 0, len(items))
	for _, item := range items {
		if id, err := primitive.ObjectIDFromHex(strings.TrimSpace(item.ProductID)); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || s.Products == nil {
		return map[string]models.Product{}, nil
	}
	found, err := s.Products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for i, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if _, err := primitive.ObjectIDFromHex(id); err != nil {
			continue
		}
		if _, ok := found[id]; !ok {
			return nil, invalid(fmt.Sprintf("items[%d].productId", i), "product not found")
		}
	}
	return found, nil
}

// catalogType keeps the client's digital subtype (seal, service) only when it
// agrees with the catalog.
func catalogType(requested string, physical bool) string {
	switch {
	case physical:
		return ItemTypePhysical
	case requested == ItemTypePhysical || requested == "":
		return ItemTypeDigital
	default:
		return requested
	}
}

func absoluteURL(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}
