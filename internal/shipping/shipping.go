// Package shipping buys, cancels and tracks parcel labels for orders.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/settings"
	"storefront/internal/tax"
)

var (
	ErrUnknownCarrier  = errors.New("unknown carrier")
	ErrNoAddress       = errors.New("order has no shipping address")
	ErrNoRates         = errors.New("carrier returned no rates")
	ErrAlreadyCanceled = errors.New("shipment already cancelled")
	ErrNotTrackable    = errors.New("shipment has no tracking number")
)

// CustomsReasonMerchandise is stored on shipments and mapped per carrier.
const CustomsReasonMerchandise = "merchandise"

type CustomsItem struct {
	Description   string      `json:"description"`
	Quantity      int         `json:"quantity"`
	UnitValueCAD  money.Cents `json:"unitValueCad"`
	MassGrams     int         `json:"massGrams"`
	HSCode        string      `json:"hsCode"`
	OriginCountry string      `json:"originCountry"`
}

type Customs struct {
	Reason   string
	Incoterm string
	Currency string
	Items    []CustomsItem
}

// TotalValue is the declared value in CAD cents.
func (c Customs) TotalValue() money.Cents {
	var total money.Cents
	for _, item := range c.Items {
		total += item.UnitValueCAD.Times(item.Quantity)
	}
	return total
}

// CarrierRequest is what a carrier adapter needs to quote or buy a label.
type CarrierRequest struct {
	Reference   string
	From        models.Address
	To          models.Address
	Parcel      settings.Parcel
	Customs     *Customs
	ServiceCode string
	Contact     string
}

type Rate struct {
	Carrier       string      `json:"carrier"`
	Provider      string      `json:"provider,omitempty"`
	ServiceCode   string      `json:"serviceCode"`
	ServiceName   string      `json:"serviceName"`
	RateID        string      `json:"rateId,omitempty"`
	Amount        money.Cents `json:"amount"`
	Currency      string      `json:"currency"`
	EstimatedDays int         `json:"estimatedDays,omitempty"`
}

type Label struct {
	Service            string
	TrackingNumber     string
	LabelURL           string
	ProviderShipmentID string
	RefundLink         string
	Cost               money.Cents
	Currency           string
	EstimatedDelivery  string
	Meta               map[string]string
	Audit              []models.APIAuditEntry
}

type TrackingEvent struct {
	Status  string    `json:"status"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

type TrackingStatus struct {
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"trackingNumber"`
	Status         string          `json:"status"`
	Details        string          `json:"details,omitempty"`
	ETA            string          `json:"eta,omitempty"`
	History        []TrackingEvent `json:"history,omitempty"`
}

type Carrier interface {
	Name() string
	Quote(ctx context.Context, req CarrierRequest) ([]Rate, error)
	Purchase(ctx context.Context, req CarrierRequest) (Label, error)
	Cancel(ctx context.Context, shipment models.Shipment, contact string) (models.APIAuditEntry, error)
}

type Tracker interface {
	Track(ctx context.Context, carrier, trackingNumber string) (TrackingStatus, error)
}

type OrderSource interface {
	Get(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	SetTracking(ctx context.Context, id primitive.ObjectID, tracking string) (models.Order, error)
}

type ShipmentStore interface {
	Insert(ctx context.Context, s models.Shipment) (models.Shipment, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Shipment, error)
	ListByOrder(ctx context.Context, orderID primitive.ObjectID) ([]models.Shipment, error)
	MarkCancelled(ctx context.Context, id primitive.ObjectID, audit models.APIAuditEntry) (models.Shipment, error)
}

type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[string]models.Product, error)
}

type SettingsSource interface {
	Shipping(ctx context.Context) settings.ShippingSettings
}

type Converter interface {
	Convert(ctx context.Context, amount money.Cents, from, to string) money.Cents
}

type Orchestrator struct {
	Orders    OrderSource
	Shipments ShipmentStore
	Products  ProductLookup
	Settings  SettingsSource
	FX        Converter
	Carriers  map[string]Carrier
	Tracker   Tracker

	Now func() time.Time
}

func NewOrchestrator(orders OrderSource, shipments ShipmentStore, products ProductLookup, cfg SettingsSource, fx Converter, tracker Tracker, carriers ...Carrier) *Orchestrator {
	byName := make(map[string]Carrier, len(carriers))
	for _, c := range carriers {
		byName[c.Name()] = c
	}
	return &Orchestrator{
		Orders:    orders,
		Shipments: shipments,
		Products:  products,
		Settings:  cfg,
		FX:        fx,
		Carriers:  byName,
		Tracker:   tracker,
		Now:       time.Now,
	}
}

type LabelRequest struct {
	OrderID      primitive.ObjectID `json:"-"`
	Carrier      string             `json:"carrier" binding:"required"`
	Parcel       *settings.Parcel   `json:"parcel"`
	CustomsItems []CustomsItem      `json:"customsItems"`
	ServiceCode  string             `json:"serviceCode"`
}

type RateRequest struct {
	OrderID     string           `json:"orderId"`
	Carrier     string           `json:"carrier" binding:"required"`
	To          *models.Address  `json:"to"`
	Parcel      *settings.Parcel `json:"parcel"`
	ServiceCode string           `json:"serviceCode"`
}

func (o *Orchestrator) carrier(name string) (Carrier, error) {
	c, ok := o.Carriers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCarrier, name)
	}
	return c, nil
}

// QuoteRates prices a parcel either for an existing order or for an explicit
// destination.
func (o *Orchestrator) QuoteRates(ctx context.Context, req RateRequest) ([]Rate, error) {
	c, err := o.carrier(req.Carrier)
	if err != nil {
		return nil, err
	}
	cfg := o.Settings.Shipping(ctx)

	creq := CarrierRequest{From: cfg.Origin, ServiceCode: req.ServiceCode}
	var order *models.Order
	if id, err := primitive.ObjectIDFromHex(req.OrderID); err == nil {
		found, err := o.Orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		order = &found
	}

	switch {
	case req.To != nil:
		creq.To = normalizeAddress(*req.To)
	case order != nil && order.ShippingAddress != nil:
		creq.To = normalizeAddress(*order.ShippingAddress)
	default:
		return nil, ErrNoAddress
	}

	var products map[string]models.Product
	if order != nil {
		products = o.productsFor(ctx, order.Items)
	}
	if req.Parcel != nil {
		creq.Parcel = *req.Parcel
	} else if order != nil {
		creq.Parcel = DeriveParcel(order.Items, products, cfg)
	} else {
		creq.Parcel = cfg.DefaultParcel
	}
	if creq.To.Country != tax.HomeCountry {
		var src models.Order
		if order != nil {
			src = *order
		}
		customs := o.BuildCustoms(ctx, src, nil, products, cfg, creq.Parcel, creq.To.Country)
		creq.Customs = &customs
	}

	rates, err := c.Quote(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, ErrNoRates
	}
	return rates, nil
}

// PurchaseLabel buys a label for the order and records the shipment.
func (o *Orchestrator) PurchaseLabel(ctx context.Context, req LabelRequest) (models.Shipment, error) {
	c, err := o.carrier(req.Carrier)
	if err != nil {
		return models.Shipment{}, err
	}
	order, err := o.Orders.Get(ctx, req.OrderID)
	if err != nil {
		return models.Shipment{}, err
	}
	if order.ShippingAddress == nil {
		return models.Shipment{}, ErrNoAddress
	}

	cfg := o.Settings.Shipping(ctx)
	products := o.productsFor(ctx, order.Items)

	creq := CarrierRequest{
		Reference:   order.OrderNumber,
		From:        cfg.Origin,
		To:          normalizeAddress(*order.ShippingAddress),
		ServiceCode: req.ServiceCode,
		Contact:     order.CustomerEmail,
	}
	if creq.ServiceCode == "" && c.Name() == models.CarrierCanadaPost {
		creq.ServiceCode = cfg.CanadaPostService
	}
	if creq.To.Email == "" {
		creq.To.Email = order.CustomerEmail
	}
	if creq.To.Phone == "" {
		creq.To.Phone = order.CustomerPhone
	}
	if req.Parcel != nil {
		creq.Parcel = *req.Parcel
	} else {
		creq.Parcel = DeriveParcel(order.Items, products, cfg)
	}

	var customs *Customs
	if creq.To.Country != tax.HomeCountry {
		built := o.BuildCustoms(ctx, order, req.CustomsItems, products, cfg, creq.Parcel, creq.To.Country)
		customs = &built
		creq.Customs = customs
	}

	label, err := c.Purchase(ctx, creq)
	if err != nil {
		log.Printf("[SHIPPING] [ERROR] %s label for %s failed: %v", c.Name(), order.OrderNumber, err)
		return models.Shipment{}, err
	}

	now := o.Now().UTC()
	shipment := models.Shipment{
		OrderID:            order.ID,
		Carrier:            c.Name(),
		Service:            label.Service,
		LabelMeta:          label.Meta,
		APIAudit:           label.Audit,
		TrackingNumber:     label.TrackingNumber,
		LabelURL:           label.LabelURL,
		Cost:               label.Cost,
		Currency:           label.Currency,
		EstimatedDelivery:  label.EstimatedDelivery,
		ProviderShipmentID: label.ProviderShipmentID,
		RefundLink:         label.RefundLink,
		Status:             models.ShipmentStatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if customs != nil {
		shipment.Incoterm = customs.Incoterm
		shipment.CustomsReason = customs.Reason
	}

	saved, err := o.Shipments.Insert(ctx, shipment)
	if err != nil {
		return models.Shipment{}, fmt.Errorf("save shipment: %w", err)
	}
	if label.TrackingNumber != "" {
		if _, err := o.Orders.SetTracking(ctx, order.ID, label.TrackingNumber); err != nil {
			log.Printf("[SHIPPING] [WARN] tracking number for %s not stored: %v", order.OrderNumber, err)
		}
	}

	log.Printf("[SHIPPING] [INFO] %s label for %s tracking=%s cost=%s %s", c.Name(), order.OrderNumber, label.TrackingNumber, label.Cost, label.Currency)
	return saved, nil
}

func (o *Orchestrator) ListShipments(ctx context.Context, orderID primitive.ObjectID) ([]models.Shipment, error) {
	return o.Shipments.ListByOrder(ctx, orderID)
}

// CancelLabel voids the label with the carrier and marks the shipment.
func (o *Orchestrator) CancelLabel(ctx context.Context, shipmentID primitive.ObjectID) (models.Shipment, error) {
	shipment, err := o.Shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return models.Shipment{}, err
	}
	if shipment.Status == models.ShipmentStatusCancelled {
		return shipment, ErrAlreadyCanceled
	}
	c, err := o.carrier(shipment.Carrier)
	if err != nil {
		return models.Shipment{}, err
	}

	contact := ""
	if order, err := o.Orders.Get(ctx, shipment.OrderID); err == nil {
		contact = order.CustomerEmail
	}
	if contact == "" {
		contact = o.Settings.Shipping(ctx).Origin.Email
	}

	audit, err := c.Cancel(ctx, shipment, contact)
	if err != nil {
		return models.Shipment{}, err
	}
	if audit.At.IsZero() {
		audit.At = o.Now().UTC()
	}
	return o.Shipments.MarkCancelled(ctx, shipmentID, audit)
}

// Track asks the tracking provider for the shipment's latest status.
func (o *Orchestrator) Track(ctx context.Context, shipmentID primitive.ObjectID) (TrackingStatus, error) {
	shipment, err := o.Shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return TrackingStatus{}, err
	}
	if shipment.TrackingNumber == "" {
		return TrackingStatus{}, ErrNotTrackable
	}
	if o.Tracker == nil {
		return TrackingStatus{}, ErrNotConfigured
	}
	carrier := shipment.Carrier
	if provider := shipment.LabelMeta["provider"]; provider != "" {
		carrier = provider
	}
	return o.Tracker.Track(ctx, trackingCarrierCode(carrier), shipment.TrackingNumber)
}

func trackingCarrierCode(name string) string {
	switch strings.ToLower(strings.ReplaceAll(name, " ", "_")) {
	case models.CarrierCanadaPost, "canada_post":
		return "canada_post"
	case "usps":
		return "usps"
	case "ups":
		return "ups"
	case "fedex":
		return "fedex"
	case "dhl_express", "dhl":
		return "dhl_express"
	default:
		return strings.ToLower(name)
	}
}

func (o *Orchestrator) productsFor(ctx context.Context, items []models.OrderItem) map[string]models.Product {
	if o.Products == nil {
		return nil
	}
	ids := make([]primitive.ObjectID, 0, len(items))
	for _, item := range items {
		if item.ProductID != nil {
			ids = append(ids, *item.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := o.Products.FindByIDs(ctx, ids)
	if err != nil {
		log.Printf("[SHIPPING] [WARN] product defaults unavailable: %v", err)
		return nil
	}
	return found
}

func normalizeAddress(a models.Address) models.Address {
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.Zip = strings.ToUpper(strings.TrimSpace(a.Zip))
	return a
}
