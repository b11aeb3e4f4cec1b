package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/storefront-commerce/api/internal/domain"
)

var (
	// ErrPricingInvalidInput indicates a malformed quote request.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingUnavailable indicates a pricing dependency failed.
	ErrPricingUnavailable = errors.New("pricing: unavailable")
)

// PricingServiceDeps wires the engine with the lookups that feed it.
type PricingServiceDeps struct {
	Engine     *PricingEngine
	Promotions PromotionService
	Shipping   ShippingQuoter
	TaxRates   TaxRateProvider
	Logger     func(context.Context, string, map[string]any)
}

type pricingService struct {
	engine     *PricingEngine
	promotions PromotionService
	shipping   ShippingQuoter
	taxRates   TaxRateProvider
	logger     func(context.Context, string, map[string]any)
}

// NewPricingService constructs a PricingService.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("pricing service: engine is required")
	case deps.Promotions == nil:
		return nil, errors.New("pricing service: promotion service is required")
	case deps.Shipping == nil:
		return nil, errors.New("pricing service: shipping quoter is required")
	case deps.TaxRates == nil:
		return nil, errors.New("pricing service: tax rate provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{
		engine:     deps.Engine,
		promotions: deps.Promotions,
		shipping:   deps.Shipping,
		taxRates:   deps.TaxRates,
		logger:     logger,
	}, nil
}

// QuoteLines resolves the promotion, shipping option, and tax table for the request and runs the
// engine. An ineligible promotion code does not fail the quote; it is reported in PromotionResult
// and priced as if absent.
func (s *pricingService) QuoteLines(ctx context.Context, cmd QuoteLinesCommand) (Quote, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return Quote{}, fmt.Errorf("%w: tenant is required", ErrPricingInvalidInput)
	}
	currency := normalizeCurrency(cmd.Currency)
	if currency == "" {
		currency = s.engine.converter.BaseCurrency()
	}
	destination := strings.ToUpper(strings.TrimSpace(cmd.Destination))
	for _, line := range cmd.Lines {
		if line.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: quantity must be positive for %s", ErrPricingInvalidInput, line.ProductID)
		}
	}
	if cmd.ShippingCost != nil && cmd.ShippingCost.IsNegative() {
		return Quote{}, fmt.Errorf("%w: shipping cost must not be negative", ErrPricingInvalidInput)
	}

	var quote Quote

	if code := strings.TrimSpace(cmd.PromotionCode); code != "" {
		result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{
			TenantID:  tenantID,
			Code:      code,
			Lines:     cmd.Lines,
			Currency:  currency,
			Wholesale: cmd.Wholesale,
		})
		if err != nil {
			if errors.Is(err, ErrPromotionInvalidCode) {
				return Quote{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
			}
			return Quote{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
		}
		quote.PromotionResult = &result
		if result.Eligible {
			quote.Promotion = result.Promotion
		}
	}

	shippingCost := cmd.ShippingCost
	if shippingCost == nil && strings.TrimSpace(cmd.ShippingOptionID) != "" {
		if destination == "" {
			return Quote{}, fmt.Errorf("%w: destination is required to select shipping", ErrPricingInvalidInput)
		}
		option, err := s.shipping.Option(ctx, destination, currency, cmd.ShippingOptionID)
		if err != nil {
			if errors.Is(err, ErrShippingOptionNotFound) || errors.Is(err, ErrShippingInvalidInput) || errors.Is(err, ErrShippingUnavailable) {
				return Quote{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
			}
			return Quote{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
		}
		quote.Shipping = &option
		cost := option.Cost
		shippingCost = &cost
	}

	taxRates, err := s.taxRates.TaxRates(ctx, tenantID)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}

	quote.Totals = s.engine.Compute(ctx, PricingInput{
		Lines:              cmd.Lines,
		Currency:           currency,
		DestinationCountry: destination,
		Promotion:          quote.Promotion,
		ShippingCost:       shippingCost,
		TaxRates:           taxRates,
		Wholesale:          cmd.Wholesale,
	})
	return quote, nil
}

// appliedPromotion snapshots the promotion that priced an order.
func appliedPromotion(promo *domain.Promotion) *domain.AppliedPromotion {
	if promo == nil || promo.Discount == nil {
		return nil
	}
	return &domain.AppliedPromotion{
		PromotionID: promo.ID,
		Code:        promo.Code,
		Kind:        promo.Discount.Kind(),
		Value:       promo.Discount.Value(),
	}
}
