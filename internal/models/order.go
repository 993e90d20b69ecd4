package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/money"
	"storefront/internal/tax"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"

	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"

	PaymentMethodStripe = "stripe"
	PaymentMethodPayPal = "paypal"
	PaymentMethodCrypto = "crypto"
	PaymentMethodManual = "manual"
)

var (
	OrderStatuses   = []string{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}
	PaymentStatuses = []string{PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded}
)

// Address is a postal address as captured at checkout.
type Address struct {
	FullName string `bson:"fullName" json:"fullName"`
	Street   string `bson:"street" json:"street"`
	Street2  string `bson:"street2,omitempty" json:"street2,omitempty"`
	City     string `bson:"city" json:"city"`
	State    string `bson:"state" json:"state"`
	Zip      string `bson:"zip" json:"zip"`
	Country  string `bson:"country" json:"country"`
	Phone    string `bson:"phone,omitempty" json:"phone,omitempty"`
	Email    string `bson:"email,omitempty" json:"email,omitempty"`
}

func (a Address) IsComplete() bool {
	return a.FullName != "" && a.Street != "" && a.City != "" && a.State != "" && a.Zip != "" && a.Country != ""
}

// Order defines the persisted order document. Items live in order_items.
type Order struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	OrderNumber      string              `bson:"orderNumber" json:"orderNumber"`
	UserID           *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	CustomerName     string              `bson:"customerName" json:"customerName"`
	CustomerEmail    string              `bson:"customerEmail" json:"customerEmail"`
	CustomerPhone    string              `bson:"customerPhone,omitempty" json:"customerPhone,omitempty"`
	Status           string              `bson:"status" json:"status"`
	PaymentStatus    string              `bson:"paymentStatus" json:"paymentStatus"`
	PaymentMethod    string              `bson:"paymentMethod" json:"paymentMethod"`
	PaymentReference string              `bson:"paymentReference,omitempty" json:"paymentReference,omitempty"`
	Currency         string              `bson:"currency" json:"currency"`

	Subtotal       money.Cents `bson:"subtotal" json:"subtotal"`
	TaxAmount      money.Cents `bson:"taxAmount" json:"taxAmount"`
	ShippingAmount money.Cents `bson:"shippingAmount" json:"shippingAmount"`
	TotalAmount    money.Cents `bson:"totalAmount" json:"totalAmount"`
	RefundAmount   money.Cents `bson:"refundAmount,omitempty" json:"refundAmount,omitempty"`

	ShippingAddress *Address `bson:"shippingAddress,omitempty" json:"shippingAddress,omitempty"`
	BillingAddress  *Address `bson:"billingAddress,omitempty" json:"billingAddress,omitempty"`

	BuyerCountry       string         `bson:"buyerCountry,omitempty" json:"buyerCountry,omitempty"`
	ShippingCountry    string         `bson:"shippingCountry,omitempty" json:"shippingCountry,omitempty"`
	TaxSubtotalCAD     money.Cents    `bson:"taxSubtotalCad,omitempty" json:"taxSubtotalCad,omitempty"`
	TaxBreakdown       *tax.Breakdown `bson:"taxBreakdown,omitempty" json:"taxBreakdown,omitempty"`
	DutiesEstimatedCAD money.Cents    `bson:"dutiesEstimatedCad,omitempty" json:"dutiesEstimatedCad,omitempty"`
	TaxesEstimatedCAD  money.Cents    `bson:"taxesEstimatedCad,omitempty" json:"taxesEstimatedCad,omitempty"`
	Incoterm           string         `bson:"incoterm,omitempty" json:"incoterm,omitempty"`
	TaxLabel           string         `bson:"taxLabel,omitempty" json:"taxLabel,omitempty"`

	AffiliateCode  string `bson:"affiliateCode,omitempty" json:"affiliateCode,omitempty"`
	TrackingNumber string `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	Notes          string `bson:"notes,omitempty" json:"notes,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
	ShippedAt   *time.Time `bson:"shippedAt,omitempty" json:"shippedAt,omitempty"`
	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	RefundedAt  *time.Time `bson:"refundedAt,omitempty" json:"refundedAt,omitempty"`

	Items []OrderItem `bson:"-" json:"items,omitempty"`
}

// OrderItem is a single product line, priced at the time of purchase.
type OrderItem struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	OrderID            primitive.ObjectID  `bson:"orderId" json:"orderId"`
	ProductID          *primitive.ObjectID `bson:"productId,omitempty" json:"productId,omitempty"`
	Name               string              `bson:"name" json:"name"`
	Quantity           int                 `bson:"quantity" json:"quantity"`
	Price              money.Cents         `bson:"price" json:"price"`
	IsDigital          bool                `bson:"isDigital" json:"isDigital"`
	HSCode             string              `bson:"hsCode,omitempty" json:"hsCode,omitempty"`
	CountryOfOrigin    string              `bson:"countryOfOrigin,omitempty" json:"countryOfOrigin,omitempty"`
	CustomsDescription string              `bson:"customsDescription,omitempty" json:"customsDescription,omitempty"`
	UnitValueCAD       money.Cents         `bson:"unitValueCad,omitempty" json:"unitValueCad,omitempty"`
	MassGramsEach      int                 `bson:"massGramsEach,omitempty" json:"massGramsEach,omitempty"`
	CustomData         map[string]any      `bson:"customData,omitempty" json:"customData,omitempty"`
}

func (i OrderItem) LineTotal() money.Cents {
	return i.Price.Times(i.Quantity)
}

func ValidOrderStatus(s string) bool {
	return contains(OrderStatuses, s)
}

func ValidPaymentStatus(s string) bool {
	return contains(PaymentStatuses, s)
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
