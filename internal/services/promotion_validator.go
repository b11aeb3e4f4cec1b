package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront-commerce/api/internal/domain"
)

// ResolveActivePromotion returns the candidate whose code matches case-insensitively and which is
// usable at now: active, inside its inclusive window, and under its usage cap. Nil when none is.
func ResolveActivePromotion(code string, candidates []domain.Promotion, now time.Time) *domain.Promotion {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	for i := range candidates {
		candidate := candidates[i]
		if !strings.EqualFold(strings.TrimSpace(candidate.Code), code) {
			continue
		}
		if !promotionUsableAt(candidate, now) {
			continue
		}
		return &candidate
	}
	return nil
}

func promotionUsableAt(promo domain.Promotion, now time.Time) bool {
	if !promo.Active || promo.Discount == nil {
		return false
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return false
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		return false
	}
	return !promo.UsageExhausted()
}

// EligibilityInput carries the cart facts a promotion is checked against.
type EligibilityInput struct {
	Lines     []domain.CartLine
	Currency  string
	Wholesale bool
}

// CheckPromotionEligibility runs the cart-specific checks a resolved promotion must pass before it
// is applied. Min-spend compares the subtotal converted to the base currency.
func CheckPromotionEligibility(ctx context.Context, promo *domain.Promotion, in EligibilityInput, converter *CurrencyConverter) domain.PromotionRejection {
	if promo == nil {
		return domain.PromotionRejectionNotValidOrExpired
	}

	if promo.MinSpend != nil {
		subtotal := cartSubtotal(in.Lines, in.Currency, in.Wholesale)
		converted := converter.ConvertToBase(ctx, subtotal, in.Currency)
		if converted.LessThan(*promo.MinSpend) {
			return domain.PromotionRejectionMinSpendNotMet
		}
	}

	target := promo.Target
	if target.IsZero() {
		return domain.PromotionRejectionNone
	}
	for _, line := range in.Lines {
		if target.Matches(line) {
			return domain.PromotionRejectionNone
		}
	}
	if strings.TrimSpace(target.Category) != "" {
		return domain.PromotionRejectionCategory
	}
	return domain.PromotionRejectionProduct
}

// RejectionMessage returns the customer-facing text for a rejection reason.
func RejectionMessage(reason domain.PromotionRejection) string {
	switch reason {
	case domain.PromotionRejectionNone:
		return ""
	case domain.PromotionRejectionMinSpendNotMet:
		return "Your order does not meet the minimum spend for this promotion."
	case domain.PromotionRejectionCategory:
		return "This promotion only applies to products in a specific category."
	case domain.PromotionRejectionProduct:
		return "This promotion only applies to specific products."
	default:
		return "This promotion code is not valid or has expired."
	}
}

func cartSubtotal(lines []domain.CartLine, currency string, wholesale bool) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.EffectiveUnitPrice(currency, wholesale).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal
}
