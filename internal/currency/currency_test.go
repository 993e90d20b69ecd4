package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
	"storefront/internal/money"
)

type memCache struct {
	entries map[string]models.FxRateCache
	puts    int
}

func (m *memCache) Get(_ context.Context, base string) (models.FxRateCache, error) {
	if e, ok := m.entries[base]; ok {
		return e, nil
	}
	return models.FxRateCache{}, context.Canceled
}

func (m *memCache) Put(_ context.Context, c models.FxRateCache) error {
	if m.entries == nil {
		m.entries = map[string]models.FxRateCache{}
	}
	m.entries[c.Base] = c
	m.puts++
	return nil
}

func newTestConverter(cache *memCache, url string, now time.Time) *Converter {
	c := NewConverter(cache, url)
	c.Now = func() time.Time { return now }
	c.Logf = func(string, ...any) {}
	return c
}

func TestRateSameCurrencySkipsIO(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := newTestConverter(&memCache{}, srv.URL, time.Now())
	require.True(t, c.Rate(context.Background(), "usd", "USD").Equal(decimal.NewFromInt(1)))
	require.Zero(t, calls)
}

func TestRateUsesFreshCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := &memCache{entries: map[string]models.FxRateCache{
		"USD": {Base: "USD", Rates: map[string]float64{"CAD": 1.4}, Timestamp: now.Add(-time.Hour)},
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("api must not be called on cache hit")
	}))
	defer srv.Close()

	c := newTestConverter(cache, srv.URL, now)
	require.Equal(t, "1.4", c.Rate(context.Background(), "USD", "CAD").String())
}

func TestRateRefreshesStaleCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := &memCache{entries: map[string]models.FxRateCache{
		"USD": {Base: "USD", Rates: map[string]float64{"CAD": 1.4}, Timestamp: now.Add(-13 * time.Hour)},
	}}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"rates":{"CAD":1.37,"EUR":0.92}}`))
	}))
	defer srv.Close()

	c := newTestConverter(cache, srv.URL, now)
	require.Equal(t, "1.37", c.Rate(context.Background(), "USD", "CAD").String())
	require.Equal(t, "/USD", path)
	require.Equal(t, 1, cache.puts)
	require.Equal(t, now, cache.entries["USD"].Timestamp)
}

func TestRateFallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestConverter(&memCache{}, srv.URL, time.Now())
	require.Equal(t, "1.36", c.Rate(context.Background(), "USD", "CAD").String())
	require.True(t, c.Rate(context.Background(), "CAD", "USD").Mul(decimal.RequireFromString("1.36")).Round(6).Equal(decimal.NewFromInt(1)))
	require.Equal(t, "1", c.Rate(context.Background(), "USD", "JPY").String())
}

func TestConvertRoundsToCent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"CAD":1.365}}`))
	}))
	defer srv.Close()

	c := newTestConverter(&memCache{}, srv.URL, time.Now())
	require.Equal(t, money.Cents(1365), c.Convert(context.Background(), 1000, "USD", "CAD"))
	require.Equal(t, money.Cents(1), c.Convert(context.Background(), 1, "USD", "CAD"))
}
