package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/settings"
	"storefront/internal/shipping"
)

type fakeOrders struct {
	manual orders.ManualOrder
	filter database.OrderFilter
	err    error
}

func (f *fakeOrders) Get(_ context.Context, id primitive.ObjectID) (models.Order, error) {
	if f.err != nil {
		return models.Order{}, f.err
	}
	return models.Order{ID: id, OrderNumber: "ORD-2026-000001"}, nil
}

func (f *fakeOrders) List(_ context.Context, filter database.OrderFilter) ([]models.Order, int64, error) {
	f.filter = filter
	return []models.Order{{OrderNumber: "ORD-2026-000001"}}, 41, f.err
}

func (f *fakeOrders) CreateManual(_ context.Context, in orders.ManualOrder) (models.Order, error) {
	f.manual = in
	if f.err != nil {
		return models.Order{}, f.err
	}
	return models.Order{ID: primitive.NewObjectID(), OrderNumber: "ORD-2026-000007", CustomerEmail: in.CustomerEmail}, nil
}

func (f *fakeOrders) Update(_ context.Context, id primitive.ObjectID, _ orders.Patch) (models.Order, error) {
	return models.Order{ID: id}, f.err
}

func (f *fakeOrders) Delete(context.Context, primitive.ObjectID) error { return f.err }

type fakeShipping struct {
	req      shipping.LabelRequest
	shipment models.Shipment
	err      error
}

func (f *fakeShipping) PurchaseLabel(_ context.Context, req shipping.LabelRequest) (models.Shipment, error) {
	f.req = req
	return f.shipment, f.err
}

func (f *fakeShipping) QuoteRates(context.Context, shipping.RateRequest) ([]shipping.Rate, error) {
	return nil, f.err
}

func (f *fakeShipping) ListShipments(context.Context, primitive.ObjectID) ([]models.Shipment, error) {
	return []models.Shipment{f.shipment}, f.err
}

func (f *fakeShipping) CancelLabel(context.Context, primitive.ObjectID) (models.Shipment, error) {
	return f.shipment, f.err
}

func (f *fakeShipping) Track(context.Context, primitive.ObjectID) (shipping.TrackingStatus, error) {
	return shipping.TrackingStatus{}, f.err
}

var manualOrderBody = map[string]any{
	"customerName":  "Ana Lima",
	"customerEmail": "ana@example.com",
	"items":         []map[string]any{{"name": "Amethyst Cluster", "quantity": 1, "price": 40}},
	"shippingAddress": map[string]any{
		"fullName": "Ana Lima", "street": "1 Main St", "city": "Seattle", "state": "WA", "zip": "98101", "country": "US",
	},
}

func withLabel(extra map[string]any) map[string]any {
	body := map[string]any{}
	for k, v := range manualOrderBody {
		body[k] = v
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestCreateOrderWithLabel(t *testing.T) {
	svc := &fakeOrders{}
	labels := &fakeShipping{shipment: models.Shipment{Carrier: models.CarrierShippo, TrackingNumber: "9400100000000000000000"}}
	r := newRouter()
	r.POST("/admin/api/orders", CreateOrder(svc, labels))

	w := perform(r, http.MethodPost, "/admin/api/orders", withLabel(map[string]any{
		"createLabel": true,
		"label":       map[string]any{"serviceCode": "usps_priority"},
	}))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	require.Contains(t, body, "shipment")
	require.NotContains(t, body, "warning")
	require.Equal(t, "ana@example.com", svc.manual.CustomerEmail)
	require.Equal(t, models.CarrierShippo, labels.req.Carrier)
	require.Equal(t, "usps_priority", labels.req.ServiceCode)
	require.False(t, labels.req.OrderID.IsZero())
}

func TestCreateOrderLabelFailureIsAWarning(t *testing.T) {
	labels := &fakeShipping{err: errors.New("shippo API error 400: invalid address")}
	r := newRouter()
	r.POST("/admin/api/orders", CreateOrder(&fakeOrders{}, labels))

	w := perform(r, http.MethodPost, "/admin/api/orders", withLabel(map[string]any{"createLabel": true}))

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	require.Contains(t, body, "order")
	require.NotContains(t, body, "shipment")
	require.Contains(t, body["warning"], "invalid address")
}

func TestCreateOrderErrors(t *testing.T) {
	r := newRouter()
	r.POST("/admin/api/orders", CreateOrder(&fakeOrders{err: &orders.ValidationError{Field: "status", Message: "unknown status"}}, nil))

	w := perform(r, http.MethodPost, "/admin/api/orders", manualOrderBody)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "status", decode(t, w)["field"])

	w = perform(r, http.MethodPost, "/admin/api/orders", map[string]any{"customerName": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation", decode(t, w)["code"])
}

func TestGetOrdersPaginationAndFilters(t *testing.T) {
	svc := &fakeOrders{}
	r := newRouter()
	r.GET("/admin/api/orders", GetOrders(svc))

	w := perform(r, http.MethodGet, "/admin/api/orders?page=3&limit=20&status=shipped&search=ana", nil)

	require.Equal(t, http.StatusOK, w.Code)
	pagination := decode(t, w)["pagination"].(map[string]any)
	require.EqualValues(t, 3, pagination["totalPages"])
	require.EqualValues(t, 41, pagination["total"])
	require.Equal(t, "shipped", svc.filter.Status)
	require.Equal(t, "ana", svc.filter.Search)
	require.EqualValues(t, 3, svc.filter.Page)

	w = perform(r, http.MethodGet, "/admin/api/orders?page=0", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderByIDErrors(t *testing.T) {
	r := newRouter()
	r.GET("/admin/api/orders/:id", GetOrder(&fakeOrders{err: orders.ErrNotFound}))
	r.DELETE("/admin/api/orders/:id", DeleteOrder(&fakeOrders{}))

	require.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/admin/api/orders/nope", nil).Code)
	require.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/admin/api/orders/"+primitive.NewObjectID().Hex(), nil).Code)
	require.Equal(t, http.StatusOK, perform(r, http.MethodDelete, "/admin/api/orders/"+primitive.NewObjectID().Hex(), nil).Code)
}

func TestShippingErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{database.ErrNotFound, http.StatusNotFound},
		{shipping.ErrUnknownCarrier, http.StatusBadRequest},
		{shipping.ErrNoAddress, http.StatusBadRequest},
		{shipping.ErrAlreadyCanceled, http.StatusConflict},
		{shipping.ErrNoRates, http.StatusBadGateway},
		{shipping.ErrNotConfigured, http.StatusInternalServerError},
		{errors.New("canada post API error 500: down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter()
		r.POST("/admin/api/shipments/:id/cancel", CancelShipment(&fakeShipping{err: tc.err}))

		w := perform(r, http.MethodPost, "/admin/api/shipments/"+primitive.NewObjectID().Hex()+"/cancel", nil)
		require.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}

func TestCreateLabelRequiresCarrier(t *testing.T) {
	svc := &fakeShipping{}
	r := newRouter()
	r.POST("/admin/api/orders/:id/label", CreateLabel(svc))
	id := primitive.NewObjectID()

	w := perform(r, http.MethodPost, "/admin/api/orders/"+id.Hex()+"/label", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/admin/api/orders/"+id.Hex()+"/label", map[string]any{"carrier": "canadapost"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, id, svc.req.OrderID)
	require.Equal(t, "canadapost", svc.req.Carrier)
}

type memProducts struct {
	bySlug  map[string]models.Product
	updates []bson.M
}

func newMemProducts(slugs ...string) *memProducts {
	m := &memProducts{bySlug: map[string]models.Product{}}
	for _, s := range slugs {
		m.bySlug[s] = models.Product{ID: primitive.NewObjectID(), Slug: s}
	}
	return m
}

func (m *memProducts) List(context.Context, database.ProductFilter) ([]models.Product, int64, error) {
	out := make([]models.Product, 0, len(m.bySlug))
	for _, p := range m.bySlug {
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (m *memProducts) FindBySlug(_ context.Context, slug string) (models.Product, error) {
	p, ok := m.bySlug[slug]
	if !ok {
		return models.Product{}, database.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) SlugsWithPrefix(_ context.Context, base string) ([]string, error) {
	var out []string
	for s := range m.bySlug {
		if s == base || strings.HasPrefix(s, base+"-") {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memProducts) Create(_ context.Context, p models.Product) (models.Product, error) {
	p.ID = primitive.NewObjectID()
	m.bySlug[p.Slug] = p
	return p, nil
}

func (m *memProducts) Update(_ context.Context, id primitive.ObjectID, set bson.M) (models.Product, error) {
	m.updates = append(m.updates, set)
	return models.Product{ID: id}, nil
}

func (m *memProducts) Delete(context.Context, primitive.ObjectID) error { return database.ErrNotFound }

func TestSlugify(t *testing.T) {
	require.Equal(t, "rose-quartz-heart", slugify("  Rose Quartz  Heart! "))
	require.Equal(t, "cafe-creme", slugify("Café Crème"))
	require.Equal(t, "", slugify("✨✨"))
}

func TestNextSlug(t *testing.T) {
	require.Equal(t, "tarot", nextSlug("tarot", nil))
	require.Equal(t, "tarot-2", nextSlug("tarot", []string{"tarot"}))
	require.Equal(t, "tarot-4", nextSlug("tarot", []string{"tarot", "tarot-2", "tarot-3"}))
	require.Equal(t, "tarot", nextSlug("tarot", []string{"tarot-deck"}))
}

func TestCreateProductSlugs(t *testing.T) {
	store := newMemProducts("moon-oil", "moon-oil-2")
	r := newRouter()
	r.POST("/admin/api/products", CreateProduct(store))

	w := perform(r, http.MethodPost, "/admin/api/products", map[string]any{"name": "Moon Oil", "price": 18, "isPhysical": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	require.Equal(t, "moon-oil-3", body["slug"])
	require.Equal(t, true, body["inStock"])

	w = perform(r, http.MethodPost, "/admin/api/products", map[string]any{"name": "Sun Oil", "slug": "moon-oil", "price": 18})
	require.Equal(t, http.StatusConflict, w.Code)

	w = perform(r, http.MethodPost, "/admin/api/products", map[string]any{"name": "Sun Oil", "slug": "Sun Oil Special", "price": 18})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "sun-oil-special", decode(t, w)["slug"])

	w = perform(r, http.MethodPost, "/admin/api/products", map[string]any{"name": "Bad", "price": -1})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateProduct(t *testing.T) {
	store := newMemProducts("moon-oil")
	own := store.bySlug["moon-oil"].ID
	r := newRouter()
	r.PATCH("/admin/api/products/:id", UpdateProduct(store))

	w := perform(r, http.MethodPatch, "/admin/api/products/"+own.Hex(), map[string]any{"slug": "moon-oil", "countryOfOrigin": "ca"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "moon-oil", store.updates[0]["slug"])
	require.Equal(t, "CA", store.updates[0]["countryOfOrigin"])

	w = perform(r, http.MethodPatch, "/admin/api/products/"+primitive.NewObjectID().Hex(), map[string]any{"slug": "moon-oil"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = perform(r, http.MethodPatch, "/admin/api/products/"+own.Hex(), map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicProducts(t *testing.T) {
	store := newMemProducts("moon-oil")
	r := newRouter()
	r.GET("/api/products", GetProducts(store))
	r.GET("/api/products/:slug", GetProductBySlug(store))

	w := perform(r, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/products?page=1&limit=5", nil).Code)
	require.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/api/products?featured=maybe", nil).Code)
	require.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/products/moon-oil", nil).Code)
	require.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/api/products/sun-oil", nil).Code)
}

type fakeConfig struct {
	values map[string]json.RawMessage
}

func (f *fakeConfig) Raw(_ context.Context, key string) (json.RawMessage, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	return v, nil
}

func (f *fakeConfig) PutRaw(_ context.Context, key string, raw json.RawMessage) (models.AppConfig, error) {
	if !json.Valid(raw) {
		return models.AppConfig{}, settings.ErrInvalidValue
	}
	f.values[key] = raw
	return models.AppConfig{Key: key, Value: raw}, nil
}

func TestConfigEndpoints(t *testing.T) {
	store := &fakeConfig{values: map[string]json.RawMessage{}}
	r := newRouter()
	r.GET("/admin/api/config/:key", GetConfig(store))
	r.PUT("/admin/api/config/:key", PutConfig(store))

	require.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/admin/api/config/banner", nil).Code)

	w := perform(r, http.MethodPut, "/admin/api/config/banner", `{"text":"Full moon sale"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = perform(r, http.MethodGet, "/admin/api/config/banner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"text": "Full moon sale"}, decode(t, w)["value"])

	w = perform(r, http.MethodPut, "/admin/api/config/banner", `{oops`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
