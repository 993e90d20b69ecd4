package shipping

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/settings"
	"storefront/internal/tax"
)

var ErrNotConfigured = errors.New("carrier is not configured")

const customsCurrency = "CAD"

// DeriveParcel sums item masses plus packaging over the default dimensions.
func DeriveParcel(items []models.OrderItem, products map[string]models.Product, cfg settings.ShippingSettings) settings.Parcel {
	parcel := cfg.DefaultParcel
	grams := 0
	for _, item := range items {
		if item.IsDigital {
			continue
		}
		grams += itemMass(item, products, cfg) * item.Quantity
	}
	if grams == 0 {
		return parcel
	}
	parcel.WeightGrams = grams + cfg.PackagingGrams
	return parcel
}

func itemMass(item models.OrderItem, products map[string]models.Product, cfg settings.ShippingSettings) int {
	if item.MassGramsEach > 0 {
		return item.MassGramsEach
	}
	if p, ok := lookup(products, item); ok && p.MassGrams > 0 {
		return p.MassGrams
	}
	return cfg.DefaultItemGrams
}

func lookup(products map[string]models.Product, item models.OrderItem) (models.Product, bool) {
	if item.ProductID == nil || products == nil {
		return models.Product{}, false
	}
	p, ok := products[item.ProductID.Hex()]
	return p, ok
}

// BuildCustoms declares the parcel contents. Explicit items win, then the
// order's physical items with product defaults, and when nothing is known a
// single generic line covering the order so the declaration is never empty.
func (o *Orchestrator) BuildCustoms(ctx context.Context, order models.Order, explicit []CustomsItem, products map[string]models.Product, cfg settings.ShippingSettings, parcel settings.Parcel, country string) Customs {
	tariffPrepaid := order.DutiesEstimatedCAD > 0 || order.TaxLabel == tax.USTariffLabel
	customs := Customs{
		Reason:   CustomsReasonMerchandise,
		Incoterm: incoterm(country, tariffPrepaid),
		Currency: customsCurrency,
	}
	if order.Incoterm != "" {
		customs.Incoterm = order.Incoterm
	}

	for _, item := range explicit {
		if item.Quantity <= 0 {
			continue
		}
		customs.Items = append(customs.Items, o.fillCustomsDefaults(item, cfg))
	}
	if len(customs.Items) > 0 {
		return customs
	}

	for _, item := range order.Items {
		if item.IsDigital || item.Quantity <= 0 {
			continue
		}
		product, _ := lookup(products, item)
		line := CustomsItem{
			Description:   first(item.CustomsDescription, cfg.CustomsDescription, item.Name),
			Quantity:      item.Quantity,
			UnitValueCAD:  item.UnitValueCAD,
			MassGrams:     itemMass(item, products, cfg),
			HSCode:        first(item.HSCode, product.HSCode, cfg.DefaultHSCode),
			OriginCountry: first(item.CountryOfOrigin, product.CountryOfOrigin, tax.HomeCountry),
		}
		if line.UnitValueCAD == 0 {
			line.UnitValueCAD = product.DefaultCustomsValueCAD
		}
		if line.UnitValueCAD == 0 {
			line.UnitValueCAD = o.toCAD(ctx, item.Price, order.Currency)
		}
		customs.Items = append(customs.Items, line)
	}
	if len(customs.Items) > 0 {
		return customs
	}

	mass := parcel.WeightGrams - cfg.PackagingGrams
	if mass <= 0 {
		mass = cfg.DefaultItemGrams
	}
	value := o.toCAD(ctx, order.Subtotal, order.Currency)
	if value <= 0 {
		value = 100
	}
	customs.Items = []CustomsItem{{
		Description:   first(cfg.CustomsDescription, "Merchandise"),
		Quantity:      1,
		UnitValueCAD:  value,
		MassGrams:     mass,
		HSCode:        cfg.DefaultHSCode,
		OriginCountry: tax.HomeCountry,
	}}
	return customs
}

func (o *Orchestrator) fillCustomsDefaults(item CustomsItem, cfg settings.ShippingSettings) CustomsItem {
	item.Description = first(item.Description, cfg.CustomsDescription, "Merchandise")
	item.HSCode = first(item.HSCode, cfg.DefaultHSCode)
	item.OriginCountry = strings.ToUpper(first(item.OriginCountry, tax.HomeCountry))
	if item.MassGrams <= 0 {
		item.MassGrams = cfg.DefaultItemGrams
	}
	return item
}

func (o *Orchestrator) toCAD(ctx context.Context, amount money.Cents, currency string) money.Cents {
	if amount == 0 || o.FX == nil || strings.EqualFold(currency, customsCurrency) {
		return amount
	}
	if currency == "" {
		currency = "USD"
	}
	return o.FX.Convert(ctx, amount, currency, customsCurrency)
}

func incoterm(country string, tariffPrepaid bool) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch {
	case country == "" || country == tax.HomeCountry:
		return ""
	case tariffPrepaid:
		return "DDP"
	default:
		return "DAP"
	}
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
