package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind names the persisted representation of a promotion discount.
type DiscountKind string

const (
	DiscountKindPercentageOff         DiscountKind = "percentage_off_subtotal"
	DiscountKindFixedAmountOff        DiscountKind = "fixed_amount_off"
	DiscountKindFreeShipping          DiscountKind = "free_shipping"
	DiscountKindTargetedPercentageOff DiscountKind = "targeted_percentage_off"
)

// PromotionDiscount is the closed set of discount shapes a promotion can carry.
type PromotionDiscount interface {
	Kind() DiscountKind
	// Value is the percentage (0-100) or fixed amount; zero for free shipping.
	Value() decimal.Decimal
	isPromotionDiscount()
}

// PercentageOff takes a percentage off the whole subtotal.
type PercentageOff struct {
	Percent decimal.Decimal
}

func (PercentageOff) Kind() DiscountKind       { return DiscountKindPercentageOff }
func (d PercentageOff) Value() decimal.Decimal { return d.Percent }
func (PercentageOff) isPromotionDiscount()     {}

// FixedAmountOff takes a fixed amount, in the order currency, off the order.
type FixedAmountOff struct {
	Amount decimal.Decimal
}

func (FixedAmountOff) Kind() DiscountKind       { return DiscountKindFixedAmountOff }
func (d FixedAmountOff) Value() decimal.Decimal { return d.Amount }
func (FixedAmountOff) isPromotionDiscount()     {}

// FreeShipping waives the shipping cost.
type FreeShipping struct{}

func (FreeShipping) Kind() DiscountKind     { return DiscountKindFreeShipping }
func (FreeShipping) Value() decimal.Decimal { return decimal.Zero }
func (FreeShipping) isPromotionDiscount()   {}

// TargetedPercentageOff takes a percentage off only the lines matching the promotion target.
type TargetedPercentageOff struct {
	Percent decimal.Decimal
}

func (TargetedPercentageOff) Kind() DiscountKind       { return DiscountKindTargetedPercentageOff }
func (d TargetedPercentageOff) Value() decimal.Decimal { return d.Percent }
func (TargetedPercentageOff) isPromotionDiscount()     {}

// PromotionDiscountFromKind rebuilds a discount from its stored kind and value.
func PromotionDiscountFromKind(kind string, value decimal.Decimal) (PromotionDiscount, error) {
	switch DiscountKind(strings.ToLower(strings.TrimSpace(kind))) {
	case DiscountKindPercentageOff:
		return PercentageOff{Percent: value}, nil
	case DiscountKindFixedAmountOff:
		return FixedAmountOff{Amount: value}, nil
	case DiscountKindFreeShipping:
		return FreeShipping{}, nil
	case DiscountKindTargetedPercentageOff:
		return TargetedPercentageOff{Percent: value}, nil
	default:
		return nil, fmt.Errorf("domain: unknown discount kind %q", kind)
	}
}

// PromotionTarget restricts a promotion to a sub-category and/or a set of products.
type PromotionTarget struct {
	Category   string
	ProductIDs []string
}

// IsZero reports whether the promotion applies to every line.
func (t PromotionTarget) IsZero() bool {
	return strings.TrimSpace(t.Category) == "" && len(t.ProductIDs) == 0
}

// Matches reports whether a line falls inside the target: category OR product id. The category
// must equal the line's sub-category exactly.
func (t PromotionTarget) Matches(line CartLine) bool {
	if category := strings.TrimSpace(t.Category); category != "" && category == line.SubCategory {
		return true
	}
	for _, id := range t.ProductIDs {
		if id == line.ProductID {
			return true
		}
	}
	return false
}

// Promotion is a discount code definition.
type Promotion struct {
	ID          string
	TenantID    string
	Code        string
	Description string
	Discount    PromotionDiscount
	MinSpend    *decimal.Decimal
	StartsAt    *time.Time
	EndsAt      *time.Time
	MaxUsage    *int
	UsageCount  int
	Active      bool
	Target      PromotionTarget
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsageExhausted reports whether the promotion has reached its redemption cap.
func (p Promotion) UsageExhausted() bool {
	return p.MaxUsage != nil && p.UsageCount >= *p.MaxUsage
}

// AppliedPromotion is the promotion snapshot stored with an order.
type AppliedPromotion struct {
	PromotionID string
	Code        string
	Kind        DiscountKind
	Value       decimal.Decimal
}

// PromotionRejection enumerates why a promotion cannot be applied to a cart.
type PromotionRejection string

const (
	PromotionRejectionNone              PromotionRejection = ""
	PromotionRejectionNotValidOrExpired PromotionRejection = "not_valid_or_expired"
	PromotionRejectionMinSpendNotMet    PromotionRejection = "min_spend_not_met"
	PromotionRejectionCategory          PromotionRejection = "category_restricted"
	PromotionRejectionProduct           PromotionRejection = "product_restricted"
)
