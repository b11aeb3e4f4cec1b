package domain

import (
	"fmt"
	"strings"
	"time"
)

// CartKey identifies a stored cart: one per tenant and customer.
type CartKey struct {
	TenantID   string
	CustomerID string
}

// String renders the key in its storage form.
func (k CartKey) String() string {
	return fmt.Sprintf("%s:%s", strings.TrimSpace(k.TenantID), strings.TrimSpace(k.CustomerID))
}

// Valid reports whether both components are present.
func (k CartKey) Valid() bool {
	return strings.TrimSpace(k.TenantID) != "" && strings.TrimSpace(k.CustomerID) != ""
}

// CartState is the persisted per-customer storefront state.
type CartState struct {
	Currency      string
	Wholesale     bool
	Lines         []CartLine
	Wishlist      []string
	PromotionCode string
	UpdatedAt     time.Time
}

// IsEmpty reports whether the cart holds no lines.
func (s CartState) IsEmpty() bool {
	return len(s.Lines) == 0
}
