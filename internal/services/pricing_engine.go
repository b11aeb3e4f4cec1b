package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/storefront-commerce/api/internal/domain"
)

// DefaultPlatformFeeRate is the share of the pre-discount subtotal retained by the marketplace.
var DefaultPlatformFeeRate = decimal.RequireFromString("0.15")

var tracer = otel.Tracer("github.com/storefront-commerce/api/internal/services")

// ErrPricingEngineInvalidConfig is returned when the engine cannot be constructed.
var ErrPricingEngineInvalidConfig = errors.New("pricing engine: invalid configuration")

// PricingEngineDeps bundles the collaborators of a PricingEngine.
type PricingEngineDeps struct {
	Converter       *CurrencyConverter
	PlatformFeeRate *decimal.Decimal
	Meter           metric.Meter
	Logger          func(context.Context, string, map[string]any)
}

// PricingEngine computes order totals. It holds no mutable state and is safe for concurrent use.
type PricingEngine struct {
	converter    *CurrencyConverter
	feeRate      decimal.Decimal
	taxFallbacks metric.Int64Counter
	logger       func(context.Context, string, map[string]any)
}

// PricingInput is everything the engine needs to price an order.
type PricingInput struct {
	Lines              []domain.CartLine
	Currency           string
	DestinationCountry string
	Promotion          *domain.Promotion
	// ShippingCost nil means no shipping has been selected and prices as zero.
	ShippingCost *decimal.Decimal
	TaxRates     domain.TaxRateTable
	Wholesale    bool
}

// NewPricingEngine validates deps and constructs an engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Converter == nil {
		return nil, errors.Join(ErrPricingEngineInvalidConfig, errors.New("currency converter is required"))
	}
	feeRate := DefaultPlatformFeeRate
	if deps.PlatformFeeRate != nil {
		feeRate = *deps.PlatformFeeRate
	}
	if feeRate.IsNegative() || feeRate.GreaterThan(one) {
		return nil, errors.Join(ErrPricingEngineInvalidConfig, errors.New("platform fee rate must be between 0 and 1"))
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(pricingMetricNamespace)
	}
	taxFallbacks, err := meter.Int64Counter(
		"pricing.tax.fallbacks",
		metric.WithDescription("Orders taxed at zero because the destination has no configured rate"),
	)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PricingEngine{
		converter:    deps.Converter,
		feeRate:      feeRate,
		taxFallbacks: taxFallbacks,
		logger:       logger,
	}, nil
}

// Compute produces the full financial breakdown of an order. Steps run in a fixed order because
// later ones read earlier results. No rounding is applied; callers round for display or capture.
func (e *PricingEngine) Compute(ctx context.Context, in PricingInput) domain.OrderTotals {
	ctx, span := tracer.Start(ctx, "pricing.Compute", trace.WithAttributes(
		attribute.String("pricing.currency", in.Currency),
		attribute.String("pricing.destination", in.DestinationCountry),
		attribute.Int("pricing.lines", len(in.Lines)),
		attribute.Bool("pricing.wholesale", in.Wholesale),
	))
	defer span.End()

	shipping := decimal.Zero
	if in.ShippingCost != nil {
		shipping = *in.ShippingCost
	}

	subtotal := cartSubtotal(in.Lines, in.Currency, in.Wholesale)

	discount := decimal.Zero
	freeShipping := false
	if promo := in.Promotion; promo != nil && promo.Discount != nil && e.meetsMinSpend(ctx, promo, subtotal, in.Currency) {
		preWaiverShipping := shipping
		switch d := promo.Discount.(type) {
		case domain.PercentageOff:
			discount = subtotal.Mul(d.Percent.Shift(-2))
		case domain.TargetedPercentageOff:
			discount = targetedSubtotal(in.Lines, promo.Target, in.Currency).Mul(d.Percent.Shift(-2))
		case domain.FixedAmountOff:
			discount = d.Amount
		case domain.FreeShipping:
			discount = shipping
			shipping = decimal.Zero
			freeShipping = true
		}
		discount = decimal.Min(subtotal.Add(preWaiverShipping), discount)
		span.SetAttributes(attribute.String("pricing.promotion", promo.Code))
	}

	discountedSubtotal := subtotal
	if !freeShipping {
		discountedSubtotal = subtotal.Sub(discount)
	}

	taxRate, ok := in.TaxRates.Rate(in.DestinationCountry)
	if !ok {
		taxRate = decimal.Zero
		e.reportTaxFallback(ctx, in.DestinationCountry)
	}
	taxes := discountedSubtotal.Mul(taxRate)

	feeLocal := subtotal.Mul(e.feeRate)
	fee := domain.PlatformFee{
		Local:        feeLocal,
		Base:         e.converter.ConvertToBase(ctx, feeLocal, in.Currency),
		BaseCurrency: e.converter.BaseCurrency(),
	}

	return domain.OrderTotals{
		Currency:       in.Currency,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		ShippingCost:   shipping,
		Taxes:          taxes,
		PlatformFee:    fee,
		Total:          discountedSubtotal.Add(shipping).Add(taxes),
		SellerPayout:   subtotal.Sub(feeLocal),
	}
}

// meetsMinSpend compares in the base currency, the unit MinSpend is stored in.
func (e *PricingEngine) meetsMinSpend(ctx context.Context, promo *domain.Promotion, subtotal decimal.Decimal, currency string) bool {
	if promo.MinSpend == nil {
		return true
	}
	return e.converter.ConvertToBase(ctx, subtotal, currency).GreaterThanOrEqual(*promo.MinSpend)
}

// targetedSubtotal always prices from the consumer map, even for wholesale buyers.
func targetedSubtotal(lines []domain.CartLine, target domain.PromotionTarget, currency string) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if !target.Matches(line) {
			continue
		}
		total = total.Add(line.UnitPrice(currency).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func (e *PricingEngine) reportTaxFallback(ctx context.Context, country string) {
	if e.taxFallbacks != nil {
		e.taxFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("country", country)))
	}
	e.logger(ctx, "pricing.tax.fallback", map[string]any{
		"country": country,
	})
}
