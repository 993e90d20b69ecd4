package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/checkout"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/tax"
)

type memStore struct {
	orders map[primitive.ObjectID]models.Order
	items  map[primitive.ObjectID][]models.OrderItem
	events []models.OutboxEvent
	sets   []bson.M
	err    error
}

func newMemStore() *memStore {
	return &memStore{orders: map[primitive.ObjectID]models.Order{}, items: map[primitive.ObjectID][]models.OrderItem{}}
}

func (m *memStore) CreateWithItems(_ context.Context, o models.Order, items []models.OrderItem, events []models.OutboxEvent) (models.Order, error) {
	if m.err != nil {
		return models.Order{}, m.err
	}
	for _, existing := range m.orders {
		if existing.OrderNumber == o.OrderNumber {
			return models.Order{}, database.ErrDuplicate
		}
	}
	o.ID = primitive.NewObjectID()
	for i := range items {
		items[i].OrderID = o.ID
	}
	for i := range events {
		events[i].OrderID = o.ID
	}
	m.orders[o.ID] = o
	m.items[o.ID] = items
	m.events = append(m.events, events...)
	o.Items = items
	return o, nil
}

func (m *memStore) FindByNumber(_ context.Context, number string) (models.Order, error) {
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return o, nil
		}
	}
	return models.Order{}, database.ErrNotFound
}

func (m *memStore) FindByID(_ context.Context, id primitive.ObjectID) (models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, database.ErrNotFound
	}
	o.Items = m.items[id]
	return o, nil
}

func (m *memStore) List(context.Context, database.OrderFilter) ([]models.Order, int64, error) {
	return nil, 0, nil
}

func (m *memStore) Update(_ context.Context, id primitive.ObjectID, set bson.M) (models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, database.ErrNotFound
	}
	m.sets = append(m.sets, set)
	for k, v := range set {
		switch k {
		case "status":
			o.Status = v.(string)
		case "paymentStatus":
			o.PaymentStatus = v.(string)
		case "trackingNumber":
			o.TrackingNumber = v.(string)
		case "shippedAt":
			t := v.(time.Time)
			o.ShippedAt = &t
		case "refundedAt":
			t := v.(time.Time)
			o.RefundedAt = &t
		case "refundAmount":
			o.RefundAmount = v.(money.Cents)
		}
	}
	m.orders[id] = o
	return o, nil
}

func (m *memStore) Delete(_ context.Context, id primitive.ObjectID) error {
	delete(m.orders, id)
	delete(m.items, id)
	return nil
}

type memSnapshots map[string]models.CheckoutSnapshot

func (m memSnapshots) Find(_ context.Context, ref string) (models.CheckoutSnapshot, error) {
	s, ok := m[ref]
	if !ok {
		return models.CheckoutSnapshot{}, database.ErrNotFound
	}
	return s, nil
}

func (m *memStore) eventKeys() []string {
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type+":"+e.Recipient)
	}
	return out
}

type staticAdmins []string

func (s staticAdmins) ActiveAdminEmails(context.Context) ([]string, error) { return s, nil }

type memCounter map[string]int64

func (m memCounter) Next(_ context.Context, name string) (int64, error) {
	m[name]++
	return m[name], nil
}

type doubleCAD struct{}

func (doubleCAD) Convert(_ context.Context, amount money.Cents, from, to string) money.Cents {
	if from == to {
		return amount
	}
	return amount * 2
}

type emptyCatalog struct{}

func (emptyCatalog) FindByIDs(context.Context, []primitive.ObjectID) (map[string]models.Product, error) {
	return map[string]models.Product{}, nil
}

func newTestService(snaps memSnapshots) (*Service, *memStore) {
	store := newMemStore()
	svc := NewService(store, snaps, emptyCatalog{}, staticAdmins{"owner@shop.example"}, memCounter{}, doubleCAD{})
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

func ontarioSummary() models.CheckoutSummary {
	return models.CheckoutSummary{
		Version:       models.CheckoutSummaryVersion,
		Ref:           "ref-1",
		Items:         []models.SummaryItem{{Name: "Amethyst Cluster", Quantity: 2, Price: 1000}},
		ItemCount:     2,
		Currency:      "USD",
		Subtotal:      2000,
		TaxAmount:     260,
		Shipping:      500,
		Total:         2760,
		TaxLabel:      tax.SalesTaxLabel,
		TaxBreakdown:  &tax.Breakdown{HST: 260, TotalTax: 260},
		Country:       "CA",
		Province:      "ON",
		CustomerName:  "Luna Moss",
		CustomerEmail: "luna@example.com",
		AffiliateCode: "LUNA10",
	}
}

func TestCreateFromPaymentUsesSnapshot(t *testing.T) {
	addr := &models.Address{FullName: "Luna Moss", Street: "1 King St", City: "Toronto", State: "ON", Zip: "M5H1A1", Country: "CA"}
	svc, store := newTestService(memSnapshots{"ref-1": {Ref: "ref-1", Summary: ontarioSummary(), ShippingAddress: addr}})

	order, created, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodStripe, ProviderID: "cs_test_1", Reference: "pi_1", Ref: "ref-1", Amount: 2760,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "STRIPE_cs_test_1", order.OrderNumber)
	require.Equal(t, models.OrderStatusProcessing, order.Status)
	require.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.Equal(t, "pi_1", order.PaymentReference)
	require.Equal(t, money.Cents(2760), order.TotalAmount)
	require.Equal(t, order.Subtotal+order.TaxAmount+order.ShippingAmount, order.TotalAmount)
	require.Equal(t, money.Cents(4000), order.TaxSubtotalCAD)
	require.Equal(t, money.Cents(520), order.TaxesEstimatedCAD)
	require.Empty(t, order.Incoterm)
	require.Equal(t, "CA", order.ShippingCountry)
	require.Len(t, store.items[order.ID], 1)
	require.Equal(t, money.Cents(2000), store.items[order.ID][0].UnitValueCAD)

	require.ElementsMatch(t, []string{
		"email.receipt:luna@example.com",
		"email.receipt:owner@shop.example",
		"affiliate.conversion:",
		"order.published:",
	}, store.eventKeys())
	for _, e := range store.events {
		require.Equal(t, order.ID, e.OrderID)
	}
}

func TestCreateFromPaymentIsIdempotent(t *testing.T) {
	svc, store := newTestService(memSnapshots{})
	meta, err := checkout.EncodeSummary(ontarioSummary(), 480)
	require.NoError(t, err)

	p := Payment{Method: models.PaymentMethodCrypto, ProviderID: "5077125051", Metadata: meta, Amount: 2760}
	first, created, err := svc.CreateFromPayment(context.Background(), p)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "CRYPTO_5077125051", first.OrderNumber)
	events := len(store.events)

	second, created, err := svc.CreateFromPayment(context.Background(), p)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.orders, 1)
	require.Len(t, store.events, events)
}

func TestCreateFromPaymentFallsBackToMetadataThenAmount(t *testing.T) {
	svc, store := newTestService(memSnapshots{})

	meta, err := checkout.EncodeSummary(ontarioSummary(), 480)
	require.NoError(t, err)
	order, _, err := svc.CreateFromPayment(context.Background(), Payment{Method: models.PaymentMethodPayPal, ProviderID: "5O19", Metadata: meta})
	require.NoError(t, err)
	require.Equal(t, "PAYPAL_5O19", order.OrderNumber)
	require.Equal(t, money.Cents(2760), order.TotalAmount)
	require.Equal(t, "luna@example.com", order.CustomerEmail)
	require.Len(t, store.items[order.ID], 1)

	bare, _, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodStripe, ProviderID: "cs_2", Metadata: "{broken", Amount: 1999, Currency: "usd", CustomerEmail: "Guest@Example.com",
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(1999), bare.TotalAmount)
	require.Equal(t, money.Cents(1999), bare.Subtotal)
	require.Equal(t, "guest@example.com", bare.CustomerEmail)
	require.Empty(t, store.items[bare.ID])
}

func TestCreateFromPaymentTrustsMetadataRef(t *testing.T) {
	cheap := ontarioSummary()
	cheap.Ref = "ref-cheap"
	expensive := ontarioSummary()
	expensive.Ref = "ref-expensive"
	expensive.Items = []models.SummaryItem{{Name: "Moldavite Pendant", Quantity: 1, Price: 20000}}
	expensive.Subtotal, expensive.TaxAmount = 20000, 2600
	expensive.Total = 20000 + 2600 + 500
	svc, store := newTestService(memSnapshots{
		"ref-cheap":     {Ref: "ref-cheap", Summary: cheap},
		"ref-expensive": {Ref: "ref-expensive", Summary: expensive},
	})

	meta, err := checkout.EncodeSummary(cheap, 127)
	require.NoError(t, err)
	order, _, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodPayPal, ProviderID: "5O20", Ref: "ref-expensive", Metadata: meta, Amount: 2760, Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(2760), order.TotalAmount)
	require.Equal(t, "Amethyst Cluster", store.items[order.ID][0].Name)
}

func TestCreateFromPaymentIgnoresSummaryThePaymentDoesNotCover(t *testing.T) {
	svc, store := newTestService(memSnapshots{"ref-1": {Ref: "ref-1", Summary: ontarioSummary()}})
	meta, err := checkout.EncodeSummary(ontarioSummary(), 127)
	require.NoError(t, err)

	order, created, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodPayPal, ProviderID: "5O21", Metadata: meta, Amount: 100, Currency: "USD",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, money.Cents(100), order.TotalAmount)
	require.Empty(t, store.items[order.ID])
	require.Empty(t, order.AffiliateCode)

	other, _, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodStripe, ProviderID: "cs_cad", Ref: "ref-1", Amount: 3780, Currency: "cad",
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(2760), other.TotalAmount)
}

func TestCreateFromPaymentWritesNothingWhenStoreFails(t *testing.T) {
	svc, store := newTestService(memSnapshots{"ref-1": {Ref: "ref-1", Summary: ontarioSummary()}})
	store.err = errors.New("transaction aborted")

	_, created, err := svc.CreateFromPayment(context.Background(), Payment{
		Method: models.PaymentMethodStripe, ProviderID: "cs_fail", Ref: "ref-1", Amount: 2760,
	})
	require.Error(t, err)
	require.False(t, created)
	require.Empty(t, store.orders)
	require.Empty(t, store.events)
}

func TestCreateFromPaymentUSTariffIsDDP(t *testing.T) {
	summary := ontarioSummary()
	summary.Country, summary.Province = "US", ""
	summary.TaxBreakdown = nil
	summary.TaxAmount = 700
	summary.Total = 2000 + 700 + 500
	summary.Tariff = true
	addr := &models.Address{FullName: "Sky", Street: "2 Main", City: "Austin", State: "TX", Zip: "73301", Country: "US"}
	svc, _ := newTestService(memSnapshots{"ref-1": {Ref: "ref-1", Summary: summary, ShippingAddress: addr}})

	order, _, err := svc.CreateFromPayment(context.Background(), Payment{Method: models.PaymentMethodStripe, ProviderID: "cs_3", Ref: "ref-1"})
	require.NoError(t, err)
	require.Equal(t, "DDP", order.Incoterm)
	require.Equal(t, money.Cents(1400), order.DutiesEstimatedCAD)
	require.Zero(t, order.TaxesEstimatedCAD)
}

func TestIncoterm(t *testing.T) {
	require.Equal(t, "", Incoterm("CA", false, true))
	require.Equal(t, "DDP", Incoterm("us", true, true))
	require.Equal(t, "DAP", Incoterm("GB", false, true))
	require.Equal(t, "", Incoterm("GB", false, false))
}

func TestCreateManualNumbersSequentially(t *testing.T) {
	svc, store := newTestService(memSnapshots{})
	in := ManualOrder{
		CustomerName:  "Ada",
		CustomerEmail: "ADA@example.com",
		Items:         []ManualItem{{Name: "Reiki session", Quantity: 1, Price: 4500, IsDigital: true}},
	}

	first, err := svc.CreateManual(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "ORD-2025-000001", first.OrderNumber)
	require.Equal(t, models.PaymentMethodManual, first.PaymentMethod)
	require.Equal(t, models.OrderStatusPending, first.Status)
	require.Equal(t, "ada@example.com", first.CustomerEmail)
	require.Equal(t, money.Cents(4500), first.TotalAmount)

	second, err := svc.CreateManual(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "ORD-2025-000002", second.OrderNumber)

	for _, e := range store.events {
		require.NotEqual(t, models.EventReceiptEmail, e.Type)
	}
}

func TestCreateManualComputesTax(t *testing.T) {
	svc, _ := newTestService(memSnapshots{})
	ship := money.Cents(500)
	order, err := svc.CreateManual(context.Background(), ManualOrder{
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		Items:           []ManualItem{{Name: "Amethyst", Quantity: 2, Price: 1000}},
		ShippingAddress: &models.Address{FullName: "Ada", Street: "1 King", City: "Toronto", State: "on", Zip: "M5H", Country: "ca"},
		ShippingAmount:  &ship,
		PaymentStatus:   models.PaymentStatusPaid,
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(260), order.TaxAmount)
	require.Equal(t, money.Cents(2760), order.TotalAmount)

	_, err = svc.CreateManual(context.Background(), ManualOrder{
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Items:         []ManualItem{{Name: "Amethyst", Quantity: 1, Price: 1000}},
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "shippingAddress", verr.Field)
}

func TestUpdateStampsLifecycle(t *testing.T) {
	svc, store := newTestService(memSnapshots{})
	created, err := svc.CreateManual(context.Background(), ManualOrder{
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Items:         []ManualItem{{Name: "Reading", Quantity: 1, Price: 3000, IsDigital: true}},
	})
	require.NoError(t, err)

	shipped := models.OrderStatusShipped
	tracking := " 1Z999 "
	updated, err := svc.Update(context.Background(), created.ID, Patch{Status: &shipped, TrackingNumber: &tracking})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, updated.Status)
	require.Equal(t, "1Z999", updated.TrackingNumber)
	require.NotNil(t, updated.ShippedAt)

	refunded := models.PaymentStatusRefunded
	updated, err = svc.Update(context.Background(), created.ID, Patch{PaymentStatus: &refunded})
	require.NoError(t, err)
	require.NotNil(t, updated.RefundedAt)
	require.Equal(t, money.Cents(3000), updated.RefundAmount)
	_, reShipped := store.sets[len(store.sets)-1]["shippedAt"]
	require.False(t, reShipped)

	bogus := "lost"
	_, err = svc.Update(context.Background(), created.ID, Patch{Status: &bogus})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = svc.Update(context.Background(), primitive.NewObjectID(), Patch{Status: &shipped})
	require.ErrorIs(t, err, ErrNotFound)
}
