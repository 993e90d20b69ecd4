// Package tax estimates Canadian sales tax and prepaid US import tariffs.
package tax

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/money"
)

const (
	// HomeCountry is where the shop ships from and collects sales tax.
	HomeCountry = "CA"

	USTariffLabel = "Prepaid US tariff (estimate)"
	SalesTaxLabel = "Estimated sales tax"
)

var ErrUnknownProvince = errors.New("unknown or missing province")

var usTariffRate = decimal.RequireFromString("0.35")

type regime int

const (
	regimeHST regime = iota
	regimeGSTPST
	regimeGSTOnly
)

type provinceRule struct {
	regime       regime
	hst          decimal.Decimal
	pst          decimal.Decimal
	pstOnDigital bool
	pstLabel     string
}

var gstRate = decimal.RequireFromString("0.05")

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var provinces = map[string]provinceRule{
	"ON": {regime: regimeHST, hst: rate("0.13")},
	"NB": {regime: regimeHST, hst: rate("0.15")},
	"NS": {regime: regimeHST, hst: rate("0.14")},
	"PE": {regime: regimeHST, hst: rate("0.15")},
	"NL": {regime: regimeHST, hst: rate("0.15")},
	"BC": {regime: regimeGSTPST, pst: rate("0.07"), pstLabel: "PST"},
	"SK": {regime: regimeGSTPST, pst: rate("0.06"), pstLabel: "PST"},
	"MB": {regime: regimeGSTPST, pst: rate("0.07"), pstLabel: "RST"},
	"QC": {regime: regimeGSTPST, pst: rate("0.09975"), pstOnDigital: true, pstLabel: "QST"},
	"AB": {regime: regimeGSTOnly},
	"NT": {regime: regimeGSTOnly},
	"NU": {regime: regimeGSTOnly},
	"YT": {regime: regimeGSTOnly},
}

// Destination is where the order ships, by ISO country and province code.
type Destination struct {
	Country  string
	Province string
}

func (d Destination) normalized() Destination {
	return Destination{
		Country:  strings.ToUpper(strings.TrimSpace(d.Country)),
		Province: strings.ToUpper(strings.TrimSpace(d.Province)),
	}
}

// Line is one cart line as the estimator sees it.
type Line struct {
	IsDigital bool
	Price     money.Cents
	Quantity  int
}

// Breakdown is the Canadian sales tax split by component.
type Breakdown struct {
	GST      money.Cents `bson:"gst" json:"gst"`
	HST      money.Cents `bson:"hst" json:"hst"`
	PST      money.Cents `bson:"pst" json:"pst"`
	TotalTax money.Cents `bson:"totalTax" json:"totalTax"`
}

// Estimate computes Canadian sales tax for the given lines. Each component is
// rounded once over its taxable base. Destinations outside Canada get a zero
// breakdown.
func Estimate(dest Destination, lines []Line) (Breakdown, error) {
	dest = dest.normalized()
	if dest.Country != HomeCountry {
		return Breakdown{}, nil
	}
	rule, ok := provinces[dest.Province]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownProvince, dest.Province)
	}

	var physical, digital money.Cents
	for _, line := range lines {
		amount := line.Price.Times(line.Quantity)
		if line.IsDigital {
			digital += amount
		} else {
			physical += amount
		}
	}
	all := physical + digital

	var b Breakdown
	switch rule.regime {
	case regimeHST:
		b.HST = all.Mul(rule.hst)
	case regimeGSTPST:
		b.GST = all.Mul(gstRate)
		pstBase := physical
		if rule.pstOnDigital {
			pstBase = all
		}
		b.PST = pstBase.Mul(rule.pst)
	case regimeGSTOnly:
		b.GST = all.Mul(gstRate)
	}
	b.TotalTax = b.GST + b.HST + b.PST
	return b, nil
}

// USTariff returns the flat prepaid tariff on a US-bound subtotal. The label is
// only set when the amount exceeds one cent.
func USTariff(subtotal money.Cents) (money.Cents, string) {
	amount := subtotal.Mul(usTariffRate)
	if amount > 1 {
		return amount, USTariffLabel
	}
	return amount, ""
}

// Extra is the destination-dependent charge added on top of the subtotal.
type Extra struct {
	Amount    money.Cents
	Label     string
	Breakdown Breakdown
	Tariff    bool
}

// DestinationExtra returns Canadian sales tax for Canada, the prepaid US
// tariff for the US and nothing elsewhere.
func DestinationExtra(dest Destination, lines []Line) (Extra, error) {
	dest = dest.normalized()
	switch dest.Country {
	case HomeCountry:
		b, err := Estimate(dest, lines)
		if err != nil {
			return Extra{}, err
		}
		label := ""
		if b.TotalTax > 0 {
			label = SalesTaxLabel
		}
		return Extra{Amount: b.TotalTax, Label: label, Breakdown: b}, nil
	case "US":
		var subtotal money.Cents
		for _, line := range lines {
			subtotal += line.Price.Times(line.Quantity)
		}
		amount, label := USTariff(subtotal)
		return Extra{Amount: amount, Label: label, Tariff: amount > 0}, nil
	default:
		return Extra{}, nil
	}
}

// PSTLabel names the provincial component for display, e.g. "QST".
func PSTLabel(province string) string {
	rule, ok := provinces[strings.ToUpper(strings.TrimSpace(province))]
	if !ok {
		return ""
	}
	return rule.pstLabel
}
