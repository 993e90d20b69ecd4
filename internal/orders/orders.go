// Package orders turns confirmed payments and admin input into persisted
// orders and records their follow-up side effects.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/checkout"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/tax"
)

var (
	ErrNotFound  = database.ErrNotFound
	ErrDuplicate = database.ErrDuplicate
)

type Store interface {
	CreateWithItems(ctx context.Context, order models.Order, items []models.OrderItem, events []models.OutboxEvent) (models.Order, error)
	FindByNumber(ctx context.Context, number string) (models.Order, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	List(ctx context.Context, f database.OrderFilter) ([]models.Order, int64, error)
	Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.Order, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type SnapshotFinder interface {
	Find(ctx context.Context, ref string) (models.CheckoutSnapshot, error)
}

type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[string]models.Product, error)
}

type AdminDirectory interface {
	ActiveAdminEmails(ctx context.Context) ([]string, error)
}

type Sequence interface {
	Next(ctx context.Context, name string) (int64, error)
}

type Converter interface {
	Convert(ctx context.Context, amount money.Cents, from, to string) money.Cents
}

type Service struct {
	Orders    Store
	Snapshots SnapshotFinder
	Products  ProductLookup
	Admins    AdminDirectory
	Counters  Sequence
	FX        Converter

	Now func() time.Time
}

func NewService(store Store, snapshots SnapshotFinder, products ProductLookup, admins AdminDirectory, counters Sequence, fx Converter) *Service {
	return &Service{
		Orders:    store,
		Snapshots: snapshots,
		Products:  products,
		Admins:    admins,
		Counters:  counters,
		FX:        fx,
		Now:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	return s.Orders.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f database.OrderFilter) ([]models.Order, int64, error) {
	return s.Orders.List(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id primitive.ObjectID) error {
	return s.Orders.Delete(ctx, id)
}

// Payment is a provider-confirmed payment, normalised across gateways. Ref is
// a hint only; the reference carried in Metadata wins when both are present.
type Payment struct {
	Method     string
	ProviderID string
	Reference  string
	Ref        string
	Metadata   string
	Amount     money.Cents
	Currency   string

	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// OrderNumber is STRIPE_<id>, PAYPAL_<id> or CRYPTO_<id>.
func (p Payment) OrderNumber() string {
	return strings.ToUpper(p.Method) + "_" + p.ProviderID
}

// CreateFromPayment persists the order for a confirmed payment. Delivering the
// same payment twice returns the stored order with created=false.
func (s *Service) CreateFromPayment(ctx context.Context, p Payment) (models.Order, bool, error) {
	if p.ProviderID == "" {
		return models.Order{}, false, errors.New("payment has no provider id")
	}
	number := p.OrderNumber()

	existing, err := s.Orders.FindByNumber(ctx, number)
	if err == nil {
		log.Printf("[ORDERS] [INFO] %s already recorded, skipping", number)
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Order{}, false, err
	}

	summary, address, source := s.resolveSummary(ctx, p)
	if source == "" {
		log.Printf("[ORDERS] [WARN] %s has no snapshot or metadata, creating order without items", number)
	}

	now := s.Now().UTC()
	order := models.Order{
		OrderNumber:      number,
		CustomerName:     firstNonEmpty(summary.CustomerName, p.CustomerName, addressName(address)),
		CustomerEmail:    strings.ToLower(firstNonEmpty(summary.CustomerEmail, p.CustomerEmail, addressEmail(address))),
		CustomerPhone:    firstNonEmpty(summary.CustomerPhone, p.CustomerPhone),
		Status:           models.OrderStatusProcessing,
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentMethod:    p.Method,
		PaymentReference: firstNonEmpty(p.Reference, p.ProviderID),
		Currency:         firstNonEmpty(summary.Currency, strings.ToUpper(p.Currency), checkout.BaseCurrency),
		Subtotal:         summary.Subtotal,
		TaxAmount:        summary.TaxAmount,
		ShippingAmount:   summary.Shipping,
		TotalAmount:      summary.Subtotal + summary.TaxAmount + summary.Shipping,
		ShippingAddress:  address,
		TaxBreakdown:     summary.TaxBreakdown,
		TaxLabel:         summary.TaxLabel,
		AffiliateCode:    summary.AffiliateCode,
		BuyerCountry:     summary.Country,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if id, err := primitive.ObjectIDFromHex(summary.UserID); err == nil {
		order.UserID = &id
	}
	if address != nil {
		order.ShippingCountry = address.Country
		if order.BuyerCountry == "" {
			order.BuyerCountry = address.Country
		}
	}

	items := s.buildItems(ctx, order.Currency, summary.Items)
	s.applyEstimates(ctx, &order, summary.Tariff, hasPhysical(items))

	created, err := s.Orders.CreateWithItems(ctx, order, items, s.sideEffects(ctx, order, true))
	if errors.Is(err, ErrDuplicate) {
		existing, findErr := s.Orders.FindByNumber(ctx, number)
		if findErr != nil {
			return models.Order{}, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("create order %s: %w", number, err)
	}

	log.Printf("[ORDERS] [INFO] created %s from %s total=%s items=%d", number, firstNonEmpty(source, "payment"), created.TotalAmount, len(items))
	return created, true, nil
}

// resolveSummary prefers the stored snapshot, then the provider metadata, and
// finally a summary holding only the charged amount. The snapshot reference
// comes from the metadata when it has one. A candidate whose total differs
// from a known charged amount is skipped.
func (s *Service) resolveSummary(ctx context.Context, p Payment) (models.CheckoutSummary, *models.Address, string) {
	number := p.OrderNumber()

	var fromMeta *models.CheckoutSummary
	if p.Metadata != "" {
		decoded, err := checkout.DecodeSummary(p.Metadata)
		if err != nil {
			log.Printf("[ORDERS] [WARN] metadata for %s unreadable: %v", number, err)
		} else {
			fromMeta = &decoded
		}
	}

	ref := p.Ref
	if fromMeta != nil && fromMeta.Ref != "" {
		if ref != "" && ref != fromMeta.Ref {
			log.Printf("[ORDERS] [WARN] %s ref %q disagrees with provider metadata ref %q, using metadata", number, ref, fromMeta.Ref)
		}
		ref = fromMeta.Ref
	}

	if ref != "" && s.Snapshots != nil {
		snap, err := s.Snapshots.Find(ctx, ref)
		switch {
		case err == nil && paidInFull(p, snap.Summary):
			return snap.Summary, snap.ShippingAddress, "snapshot"
		case err == nil:
			log.Printf("[ORDERS] [ERROR] %s paid %s %s but snapshot %s totals %s %s", number, p.Amount, p.Currency, ref, snap.Summary.Total, snap.Summary.Currency)
		case !errors.Is(err, ErrNotFound):
			log.Printf("[ORDERS] [WARN] snapshot %s lookup failed: %v", ref, err)
		}
	}

	if fromMeta != nil {
		if paidInFull(p, *fromMeta) {
			return *fromMeta, nil, "metadata"
		}
		log.Printf("[ORDERS] [ERROR] %s paid %s %s but metadata totals %s %s", number, p.Amount, p.Currency, fromMeta.Total, fromMeta.Currency)
	}
	return models.CheckoutSummary{Currency: strings.ToUpper(p.Currency), Subtotal: p.Amount}, nil, ""
}

// paidInFull reports whether the charged amount matches the summary. An
// unknown amount, or one charged in another currency, is not compared.
func paidInFull(p Payment, summary models.CheckoutSummary) bool {
	if p.Amount == 0 || summary.Total == 0 {
		return true
	}
	if p.Currency != "" && summary.Currency != "" && !strings.EqualFold(p.Currency, summary.Currency) {
		return true
	}
	return p.Amount == summary.Total
}

// buildItems snapshots customs data from the catalog onto each line.
func (s *Service) buildItems(ctx context.Context, currency string, lines []models.SummaryItem) []models.OrderItem {
	catalog := map[string]models.Product{}
	if s.Products != nil {
		ids := make([]primitive.ObjectID, 0, len(lines))
		for _, line := range lines {
			if id, err := primitive.ObjectIDFromHex(line.ProductID); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			found, err := s.Products.FindByIDs(ctx, ids)
			if err != nil {
				log.Printf("[ORDERS] [WARN] product lookup for customs data failed: %v", err)
			} else {
				catalog = found
			}
		}
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := models.OrderItem{
			Name:       line.Name,
			Quantity:   line.Quantity,
			Price:      line.Price,
			IsDigital:  line.IsDigital,
			CustomData: line.CustomData,
		}
		if product, ok := catalog[line.ProductID]; ok {
			id := product.ID
			item.ProductID = &id
			item.HSCode = product.HSCode
			item.CountryOfOrigin = product.CountryOfOrigin
			item.MassGramsEach = product.MassGrams
			item.UnitValueCAD = product.DefaultCustomsValueCAD
			if item.Price == 0 {
				item.Price = product.Price
			}
		}
		if item.UnitValueCAD == 0 && item.Price > 0 && !item.IsDigital {
			item.UnitValueCAD = s.toCAD(ctx, item.Price, currency)
		}
		items = append(items, item)
	}
	return items
}

// applyEstimates fills the CAD snapshots and the incoterm.
func (s *Service) applyEstimates(ctx context.Context, order *models.Order, tariff, physical bool) {
	order.TaxSubtotalCAD = s.toCAD(ctx, order.Subtotal, order.Currency)
	if tariff {
		order.DutiesEstimatedCAD = s.toCAD(ctx, order.TaxAmount, order.Currency)
	} else {
		order.TaxesEstimatedCAD = s.toCAD(ctx, order.TaxAmount, order.Currency)
	}
	order.Incoterm = Incoterm(order.ShippingCountry, tariff, physical)
}

// Incoterm is DDP when a US tariff was prepaid, DAP for other international
// parcels and empty for domestic or digital-only orders.
func Incoterm(country string, tariffPrepaid, physical bool) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch {
	case !physical || country == "" || country == tax.HomeCountry:
		return ""
	case tariffPrepaid:
		return "DDP"
	default:
		return "DAP"
	}
}

func (s *Service) toCAD(ctx context.Context, amount money.Cents, currency string) money.Cents {
	if amount == 0 {
		return 0
	}
	if s.FX == nil || strings.EqualFold(currency, "CAD") {
		return amount
	}
	return s.FX.Convert(ctx, amount, currency, "CAD")
}

// sideEffects lists the receipts, the affiliate ping and the order event to
// write alongside the order. The store fills in the order id.
func (s *Service) sideEffects(ctx context.Context, order models.Order, receipts bool) []models.OutboxEvent {
	now := s.Now().UTC()
	event := func(kind, recipient string) models.OutboxEvent {
		return models.OutboxEvent{
			Type:          kind,
			Recipient:     recipient,
			Status:        models.OutboxPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	var events []models.OutboxEvent
	if receipts {
		if order.CustomerEmail != "" {
			events = append(events, event(models.EventReceiptEmail, order.CustomerEmail))
		}
		if s.Admins != nil {
			admins, err := s.Admins.ActiveAdminEmails(ctx)
			if err != nil {
				log.Printf("[ORDERS] [WARN] admin lookup for %s receipts failed: %v", order.OrderNumber, err)
			}
			for _, email := range admins {
				if !strings.EqualFold(email, order.CustomerEmail) {
					events = append(events, event(models.EventReceiptEmail, email))
				}
			}
		}
	}
	if order.AffiliateCode != "" {
		events = append(events, event(models.EventAffiliateConversion, ""))
	}
	return append(events, event(models.EventOrderPublished, ""))
}

func hasPhysical(items []models.OrderItem) bool {
	for _, item := range items {
		if !item.IsDigital {
			return true
		}
	}
	return false
}

func addressName(a *models.Address) string {
	if a == nil {
		return ""
	}
	return a.FullName
}

func addressEmail(a *models.Address) string {
	if a == nil {
		return ""
	}
	return a.Email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
