package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/tax"
)

// ValidationError is returned for admin input the order cannot accept.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type ManualItem struct {
	ProductID          string      `json:"productId"`
	Name               string      `json:"name" binding:"required"`
	Quantity           int         `json:"quantity" binding:"gt=0"`
	Price              money.Cents `json:"price" binding:"gte=0"`
	IsDigital          bool        `json:"isDigital"`
	HSCode             string      `json:"hsCode"`
	CountryOfOrigin    string      `json:"countryOfOrigin"`
	CustomsDescription string      `json:"customsDescription"`
	UnitValueCAD       money.Cents `json:"unitValueCad"`
	MassGramsEach      int         `json:"massGramsEach"`
}

// ManualOrder is an order keyed in from the back office. Nil amounts are
// derived: tax from the destination, shipping as zero.
type ManualOrder struct {
	UserID           string          `json:"userId"`
	CustomerName     string          `json:"customerName" binding:"required"`
	CustomerEmail    string          `json:"customerEmail" binding:"required,email"`
	CustomerPhone    string          `json:"customerPhone"`
	Items            []ManualItem    `json:"items" binding:"required,min=1,dive"`
	ShippingAddress  *models.Address `json:"shippingAddress"`
	BillingAddress   *models.Address `json:"billingAddress"`
	Currency         string          `json:"currency"`
	TaxAmount        *money.Cents    `json:"taxAmount"`
	ShippingAmount   *money.Cents    `json:"shippingAmount"`
	Status           string          `json:"status"`
	PaymentStatus    string          `json:"paymentStatus"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentReference string          `json:"paymentReference"`
	AffiliateCode    string          `json:"affiliateCode"`
	Notes            string          `json:"notes"`
}

// NextOrderNumber returns ORD-<year>-<000001>, sequential per year.
func (s *Service) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.Now().UTC().Year()
	seq, err := s.Counters.Next(ctx, fmt.Sprintf("orders-%d", year))
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%d-%06d", year, seq), nil
}

func (s *Service) CreateManual(ctx context.Context, in ManualOrder) (models.Order, error) {
	status := firstNonEmpty(in.Status, models.OrderStatusPending)
	if !models.ValidOrderStatus(status) {
		return models.Order{}, &ValidationError{Field: "status", Message: "unknown order status"}
	}
	paymentStatus := firstNonEmpty(in.PaymentStatus, models.PaymentStatusPending)
	if !models.ValidPaymentStatus(paymentStatus) {
		return models.Order{}, &ValidationError{Field: "paymentStatus", Message: "unknown payment status"}
	}

	var address *models.Address
	if in.ShippingAddress != nil {
		a := *in.ShippingAddress
		a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
		a.State = strings.ToUpper(strings.TrimSpace(a.State))
		address = &a
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	taxLines := make([]tax.Line, 0, len(in.Items))
	var subtotal money.Cents
	for i, it := range in.Items {
		if it.Quantity <= 0 {
			return models.Order{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be greater than zero"}
		}
		item := models.OrderItem{
			Name:               strings.TrimSpace(it.Name),
			Quantity:           it.Quantity,
			Price:              it.Price,
			IsDigital:          it.IsDigital,
			HSCode:             it.HSCode,
			CountryOfOrigin:    it.CountryOfOrigin,
			CustomsDescription: it.CustomsDescription,
			UnitValueCAD:       it.UnitValueCAD,
			MassGramsEach:      it.MassGramsEach,
		}
		if id, err := primitive.ObjectIDFromHex(it.ProductID); err == nil {
			item.ProductID = &id
		}
		items = append(items, item)
		taxLines = append(taxLines, tax.Line{IsDigital: it.IsDigital, Price: it.Price, Quantity: it.Quantity})
		subtotal += it.Price.Times(it.Quantity)
	}

	if hasPhysical(items) && (address == nil || !address.IsComplete()) {
		return models.Order{}, &ValidationError{Field: "shippingAddress", Message: "full shipping address is required for physical items"}
	}

	var extra tax.Extra
	if address != nil {
		var err error
		extra, err = tax.DestinationExtra(tax.Destination{Country: address.Country, Province: address.State}, taxLines)
		if err != nil {
			if errors.Is(err, tax.ErrUnknownProvince) {
				return models.Order{}, &ValidationError{Field: "shippingAddress.state", Message: err.Error()}
			}
			return models.Order{}, err
		}
	}
	taxAmount := extra.Amount
	if in.TaxAmount != nil {
		taxAmount = *in.TaxAmount
	}
	var shipping money.Cents
	if in.ShippingAmount != nil {
		shipping = *in.ShippingAmount
	}

	number, err := s.NextOrderNumber(ctx)
	if err != nil {
		return models.Order{}, err
	}

	now := s.Now().UTC()
	order := models.Order{
		OrderNumber:      number,
		CustomerName:     strings.TrimSpace(in.CustomerName),
		CustomerEmail:    strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		CustomerPhone:    strings.TrimSpace(in.CustomerPhone),
		Status:           status,
		PaymentStatus:    paymentStatus,
		PaymentMethod:    firstNonEmpty(in.PaymentMethod, models.PaymentMethodManual),
		PaymentReference: in.PaymentReference,
		Currency:         strings.ToUpper(firstNonEmpty(in.Currency, checkout.BaseCurrency)),
		Subtotal:         subtotal,
		TaxAmount:        taxAmount,
		ShippingAmount:   shipping,
		TotalAmount:      subtotal + taxAmount + shipping,
		ShippingAddress:  address,
		BillingAddress:   in.BillingAddress,
		TaxLabel:         extra.Label,
		AffiliateCode:    strings.TrimSpace(in.AffiliateCode),
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.TaxAmount == nil && extra.Breakdown.TotalTax > 0 {
		b := extra.Breakdown
		order.TaxBreakdown = &b
	}
	if id, err := primitive.ObjectIDFromHex(in.UserID); err == nil {
		order.UserID = &id
	}
	if address != nil {
		order.ShippingCountry = address.Country
		order.BuyerCountry = address.Country
	}
	stampLifecycle(&order, now)
	s.applyEstimates(ctx, &order, extra.Tariff, hasPhysical(items))

	events := s.sideEffects(ctx, order, order.PaymentStatus == models.PaymentStatusPaid)
	created, err := s.Orders.CreateWithItems(ctx, order, items, events)
	if err != nil {
		return models.Order{}, fmt.Errorf("create order %s: %w", number, err)
	}
	return created, nil
}

// Patch is a partial admin update. Totals are not recomputed.
type Patch struct {
	Status           *string         `json:"status"`
	PaymentStatus    *string         `json:"paymentStatus"`
	PaymentReference *string         `json:"paymentReference"`
	TrackingNumber   *string         `json:"trackingNumber"`
	Notes            *string         `json:"notes"`
	CustomerName     *string         `json:"customerName"`
	CustomerEmail    *string         `json:"customerEmail" binding:"omitempty,email"`
	CustomerPhone    *string         `json:"customerPhone"`
	ShippingAddress  *models.Address `json:"shippingAddress"`
	BillingAddress   *models.Address `json:"billingAddress"`
	RefundAmount     *money.Cents    `json:"refundAmount"`
}

// Update applies p and stamps shippedAt, deliveredAt, cancelledAt and
// refundedAt on the transitions that reach those states.
func (s *Service) Update(ctx context.Context, id primitive.ObjectID, p Patch) (models.Order, error) {
	current, err := s.Orders.FindByID(ctx, id)
	if err != nil {
		return models.Order{}, err
	}

	set := bson.M{}
	next := current
	if p.Status != nil {
		if !models.ValidOrderStatus(*p.Status) {
			return models.Order{}, &ValidationError{Field: "status", Message: "unknown order status"}
		}
		set["status"] = *p.Status
		next.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		if !models.ValidPaymentStatus(*p.PaymentStatus) {
			return models.Order{}, &ValidationError{Field: "paymentStatus", Message: "unknown payment status"}
		}
		set["paymentStatus"] = *p.PaymentStatus
		next.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentReference != nil {
		set["paymentReference"] = *p.PaymentReference
	}
	if p.TrackingNumber != nil {
		set["trackingNumber"] = strings.TrimSpace(*p.TrackingNumber)
	}
	if p.Notes != nil {
		set["notes"] = *p.Notes
	}
	if p.CustomerName != nil {
		set["customerName"] = strings.TrimSpace(*p.CustomerName)
	}
	if p.CustomerEmail != nil {
		set["customerEmail"] = strings.ToLower(strings.TrimSpace(*p.CustomerEmail))
	}
	if p.CustomerPhone != nil {
		set["customerPhone"] = strings.TrimSpace(*p.CustomerPhone)
	}
	if p.ShippingAddress != nil {
		set["shippingAddress"] = p.ShippingAddress
		set["shippingCountry"] = strings.ToUpper(p.ShippingAddress.Country)
	}
	if p.BillingAddress != nil {
		set["billingAddress"] = p.BillingAddress
	}
	if p.RefundAmount != nil {
		if *p.RefundAmount < 0 || *p.RefundAmount > current.TotalAmount {
			return models.Order{}, &ValidationError{Field: "refundAmount", Message: "must be between 0 and the order total"}
		}
		set["refundAmount"] = *p.RefundAmount
		next.RefundAmount = *p.RefundAmount
	}
	if len(set) == 0 {
		return current, nil
	}

	now := s.Now().UTC()
	stampLifecycle(&next, now)
	for field, value := range lifecycleChanges(current, next) {
		set[field] = value
	}
	set["updatedAt"] = now

	return s.Orders.Update(ctx, id, set)
}

// stampLifecycle sets the timestamp belonging to the order's current status
// and payment status when it is still empty.
func stampLifecycle(o *models.Order, now time.Time) {
	stamp := func(t **time.Time) {
		if *t == nil {
			v := now
			*t = &v
		}
	}
	switch o.Status {
	case models.OrderStatusShipped:
		stamp(&o.ShippedAt)
	case models.OrderStatusDelivered:
		if o.ShippedAt == nil {
			stamp(&o.ShippedAt)
		}
		stamp(&o.DeliveredAt)
	case models.OrderStatusCancelled:
		stamp(&o.CancelledAt)
	}
	if o.PaymentStatus == models.PaymentStatusRefunded {
		stamp(&o.RefundedAt)
		if o.RefundAmount == 0 {
			o.RefundAmount = o.TotalAmount
		}
	}
}

func lifecycleChanges(before, after models.Order) bson.M {
	out := bson.M{}
	if before.ShippedAt == nil && after.ShippedAt != nil {
		out["shippedAt"] = *after.ShippedAt
	}
	if before.DeliveredAt == nil && after.DeliveredAt != nil {
		out["deliveredAt"] = *after.DeliveredAt
	}
	if before.CancelledAt == nil && after.CancelledAt != nil {
		out["cancelledAt"] = *after.CancelledAt
	}
	if before.RefundedAt == nil && after.RefundedAt != nil {
		out["refundedAt"] = *after.RefundedAt
	}
	if before.RefundAmount != after.RefundAmount {
		out["refundAmount"] = after.RefundAmount
	}
	return out
}

// SetTracking records the carrier tracking number on the order.
func (s *Service) SetTracking(ctx context.Context, id primitive.ObjectID, tracking string) (models.Order, error) {
	return s.Orders.Update(ctx, id, bson.M{"trackingNumber": tracking, "updatedAt": s.Now().UTC()})
}
