package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/storefront-commerce/api/internal/domain"
)

const pricingMetricNamespace = "github.com/storefront-commerce/api/internal/services/pricing"

var one = decimal.NewFromInt(1)

// ErrCurrencyConverterInvalidConfig is returned when the rate table cannot back a converter.
var ErrCurrencyConverterInvalidConfig = errors.New("currency converter: invalid configuration")

// CurrencyConverterDeps configures a CurrencyConverter.
type CurrencyConverterDeps struct {
	BaseCurrency string
	// Rates maps currency code to units of base currency per unit of that currency.
	Rates  map[string]decimal.Decimal
	Meter  metric.Meter
	Logger func(context.Context, string, map[string]any)
}

// CurrencyConverter converts amounts into the settlement base currency using a static table.
// Unknown currencies convert at rate 1; the fallback is reported, never raised.
type CurrencyConverter struct {
	base      string
	rates     map[string]decimal.Decimal
	logger    func(context.Context, string, map[string]any)
	fallbacks metric.Int64Counter
}

// Conversion describes a single conversion and whether the identity fallback was used.
type Conversion struct {
	Amount   decimal.Decimal
	Currency string
	Rate     decimal.Decimal
	Fallback bool
}

// NewCurrencyConverter builds a converter over a copy of the supplied rates.
func NewCurrencyConverter(deps CurrencyConverterDeps) (*CurrencyConverter, error) {
	base := normalizeCurrency(deps.BaseCurrency)
	if base == "" {
		base = domain.DefaultBaseCurrency
	}

	rates := make(map[string]decimal.Decimal, len(deps.Rates)+1)
	for code, rate := range deps.Rates {
		code = normalizeCurrency(code)
		if code == "" {
			continue
		}
		if !rate.IsPositive() {
			return nil, errors.Join(ErrCurrencyConverterInvalidConfig, errors.New("rate for "+code+" must be positive"))
		}
		rates[code] = rate
	}
	if rate, ok := rates[base]; ok && !rate.Equal(one) {
		return nil, errors.Join(ErrCurrencyConverterInvalidConfig, errors.New("base currency "+base+" must have rate 1"))
	}
	rates[base] = one

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(pricingMetricNamespace)
	}
	fallbacks, err := meter.Int64Counter(
		"pricing.currency.fallbacks",
		metric.WithDescription("Conversions that used the identity rate because the currency is not configured"),
	)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CurrencyConverter{
		base:      base,
		rates:     rates,
		logger:    logger,
		fallbacks: fallbacks,
	}, nil
}

// BaseCurrency returns the settlement currency code.
func (c *CurrencyConverter) BaseCurrency() string {
	if c == nil || c.base == "" {
		return domain.DefaultBaseCurrency
	}
	return c.base
}

// Rate returns the configured rate to base and whether the currency is known.
func (c *CurrencyConverter) Rate(currency string) (decimal.Decimal, bool) {
	if c == nil {
		return one, false
	}
	rate, ok := c.rates[normalizeCurrency(currency)]
	if !ok {
		return one, false
	}
	return rate, true
}

// Currencies returns the sorted codes with a configured rate, base included.
func (c *CurrencyConverter) Currencies() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.rates))
}

// Supports reports whether the currency has a configured rate.
func (c *CurrencyConverter) Supports(currency string) bool {
	_, ok := c.Rate(currency)
	return ok
}

// Convert multiplies amount by the source currency's rate to base.
func (c *CurrencyConverter) Convert(ctx context.Context, amount decimal.Decimal, sourceCurrency string) Conversion {
	rate, ok := c.Rate(sourceCurrency)
	if !ok {
		c.reportFallback(ctx, sourceCurrency, "to_base")
	}
	return Conversion{
		Amount:   amount.Mul(rate),
		Currency: c.BaseCurrency(),
		Rate:     rate,
		Fallback: !ok,
	}
}

// ConvertToBase converts an amount into the base currency. Negative amounts convert like any other.
func (c *CurrencyConverter) ConvertToBase(ctx context.Context, amount decimal.Decimal, sourceCurrency string) decimal.Decimal {
	return c.Convert(ctx, amount, sourceCurrency).Amount
}

// ConvertBetween converts an amount from one currency to another through the base currency.
func (c *CurrencyConverter) ConvertBetween(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if normalizeCurrency(from) == normalizeCurrency(to) {
		return amount
	}
	base := c.ConvertToBase(ctx, amount, from)
	rate, ok := c.Rate(to)
	if !ok {
		c.reportFallback(ctx, to, "from_base")
	}
	return base.DivRound(rate, 8)
}

func (c *CurrencyConverter) reportFallback(ctx context.Context, currency, direction string) {
	if c == nil {
		return
	}
	if c.fallbacks != nil {
		c.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("currency", normalizeCurrency(currency)),
			attribute.String("direction", direction),
		))
	}
	c.logger(ctx, "pricing.currency.fallback", map[string]any{
		"currency":     currency,
		"baseCurrency": c.base,
		"direction":    direction,
	})
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
