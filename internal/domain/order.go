package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of a placed order.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCanceled       OrderStatus = "canceled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// Address is a shipping destination.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// OrderLine is the immutable snapshot of a cart line taken at checkout.
type OrderLine struct {
	ProductID   string
	SellerID    string
	Name        string
	Category    string
	SubCategory string
	VariationID *string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// PaymentDetails records the gateway outcome of a charge.
type PaymentDetails struct {
	Provider      string
	Method        string
	TransactionID string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	ProcessedAt   time.Time
}

// OrderAuditEntry records a status transition on an order.
type OrderAuditEntry struct {
	From      OrderStatus
	To        OrderStatus
	Actor     string
	Note      string
	CreatedAt time.Time
}

// Order is a persisted, paid purchase.
type Order struct {
	ID               string
	TenantID         string
	CustomerID       string
	Status           OrderStatus
	Currency         string
	Wholesale        bool
	Lines            []OrderLine
	Totals           OrderTotals
	Promotion        *AppliedPromotion
	ShippingAddress  Address
	ShippingOptionID string
	Payment          PaymentDetails
	Audit            []OrderAuditEntry
	IdempotencyKey   string
	PlacedAt         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SellerIDs returns the distinct sellers present on the order, in line order.
func (o Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.Lines))
	ids := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		if line.SellerID == "" {
			continue
		}
		if _, ok := seen[line.SellerID]; ok {
			continue
		}
		seen[line.SellerID] = struct{}{}
		ids = append(ids, line.SellerID)
	}
	return ids
}
