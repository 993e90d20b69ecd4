// Package money holds amounts as integer minor units.
//
// Values are stored as int64 cents in Mongo and rendered as JSON numbers with
// two decimals, so 2760 travels as 27.60.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Cents int64

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a major-unit amount, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

func FromFloat(f float64) Cents {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Parse accepts "27.6", "27.60" or "27".
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) Float64() float64 {
	f, _ := c.Decimal().Float64()
	return f
}

// Mul applies a rate and rounds the result to the cent.
func (c Cents) Mul(rate decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Mul(rate).Round(0).IntPart())
}

func (c Cents) Times(n int) Cents {
	return c * Cents(n)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
