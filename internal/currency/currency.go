// Package currency converts amounts between ISO currencies using a cached
// external rate table.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/models"
	"storefront/internal/money"
)

const cacheTTL = 12 * time.Hour

// fallbackRates are USD-based and only used when the rate API is unreachable.
var fallbackRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"CAD": decimal.RequireFromString("1.36"),
}

type RateCache interface {
	Get(ctx context.Context, base string) (models.FxRateCache, error)
	Put(ctx context.Context, c models.FxRateCache) error
}

type Converter struct {
	Cache  RateCache
	APIURL string
	HTTP   *http.Client
	Now    func() time.Time
	Logf   func(string, ...any)
}

func NewConverter(cache RateCache, apiURL string) *Converter {
	return &Converter{
		Cache:  cache,
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		Now:    time.Now,
		Logf:   log.Printf,
	}
}

// Rate returns how many units of target one unit of base buys. It never
// fails: on API errors it falls back to a static table, and pairs outside
// that table resolve to 1.
func (c *Converter) Rate(ctx context.Context, base, target string) decimal.Decimal {
	base = strings.ToUpper(strings.TrimSpace(base))
	target = strings.ToUpper(strings.TrimSpace(target))
	if base == target {
		return decimal.NewFromInt(1)
	}

	if cached, err := c.Cache.Get(ctx, base); err == nil {
		if rate, ok := cached.Rates[target]; ok && c.Now().Sub(cached.Timestamp) < cacheTTL {
			return decimal.NewFromFloat(rate)
		}
	}

	rates, err := c.fetch(ctx, base)
	if err != nil {
		c.Logf("[FX] [WARN] rate fetch %s failed, using fallback: %v", base, err)
		return fallbackRate(base, target)
	}

	if err := c.Cache.Put(ctx, models.FxRateCache{Base: base, Rates: rates, Timestamp: c.Now().UTC()}); err != nil {
		c.Logf("[FX] [WARN] rate cache write %s failed: %v", base, err)
	}

	rate, ok := rates[target]
	if !ok {
		c.Logf("[FX] [WARN] no %s rate in %s table, using fallback", target, base)
		return fallbackRate(base, target)
	}
	return decimal.NewFromFloat(rate)
}

// Convert returns amount expressed in to, rounded to the cent.
func (c *Converter) Convert(ctx context.Context, amount money.Cents, from, to string) money.Cents {
	return amount.Mul(c.Rate(ctx, from, to))
}

func fallbackRate(base, target string) decimal.Decimal {
	b, okBase := fallbackRates[base]
	t, okTarget := fallbackRates[target]
	if !okBase || !okTarget {
		return decimal.NewFromInt(1)
	}
	return t.Div(b)
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (c *Converter) fetch(ctx context.Context, base string) (map[string]float64, error) {
	if c.APIURL == "" {
		return nil, errors.New("fx api url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+"/"+base, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fx api status %d: %s", resp.StatusCode, string(body))
	}

	var out ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode fx response: %w", err)
	}
	if len(out.Rates) == 0 {
		return nil, errors.New("fx api returned no rates")
	}
	return out.Rates, nil
}
