package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront-commerce/api/internal/domain"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func newTestConverter(t *testing.T) *CurrencyConverter {
	t.Helper()
	converter, err := NewCurrencyConverter(CurrencyConverterDeps{
		BaseCurrency: "GBP",
		Rates: map[string]decimal.Decimal{
			"GBP": dec("1"),
			"USD": dec("0.8"),
			"EUR": dec("0.85"),
		},
	})
	if err != nil {
		t.Fatalf("NewCurrencyConverter: %v", err)
	}
	return converter
}

func newTestEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{Converter: newTestConverter(t)})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func hundredPoundCart() []domain.CartLine {
	return []domain.CartLine{
		{
			ProductID:   "prod_mug",
			Category:    "home",
			SubCategory: "kitchen",
			Prices:      map[string]decimal.Decimal{"GBP": dec("30")},
			Quantity:    2,
		},
		{
			ProductID:   "prod_print",
			Category:    "art",
			SubCategory: "prints",
			Prices:      map[string]decimal.Decimal{"GBP": dec("40")},
			Quantity:    1,
		},
	}
}

var ukTax = domain.TaxRateTable{"GB": dec("0.2")}

func assertDecimal(t *testing.T, field string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", field, want, got)
	}
}

func TestPricingEngine_NoPromotion(t *testing.T) {
	engine := newTestEngine(t)

	totals := engine.Compute(context.Background(), PricingInput{
		Lines:              hundredPoundCart(),
		Currency:           "GBP",
		DestinationCountry: "GB",
		ShippingCost:       decPtr("5.99"),
		TaxRates:           ukTax,
	})

	assertDecimal(t, "subtotal", totals.Subtotal, "100")
	assertDecimal(t, "discount", totals.DiscountAmount, "0")
	assertDecimal(t, "shipping", totals.ShippingCost, "5.99")
	assertDecimal(t, "taxes", totals.Taxes, "20")
	assertDecimal(t, "total", totals.Total, "125.99")
	assertDecimal(t, "platform fee", totals.PlatformFee.Local, "15")
	assertDecimal(t, "platform fee base", totals.PlatformFee.Base, "15")
	assertDecimal(t, "seller payout", totals.SellerPayout, "85")
	if totals.PlatformFee.BaseCurrency != "GBP" {
		t.Fatalf("expected GBP base currency, got %q", totals.PlatformFee.BaseCurrency)
	}
	if totals.Currency != "GBP" {
		t.Fatalf("expected GBP currency, got %q", totals.Currency)
	}
}

func TestPricingEngine_PercentageOffKeepsFeeOnOriginalSubtotal(t *testing.T) {
	engine := newTestEngine(t)

	promo := &domain.Promotion{
		Code:     "TENOFF",
		Active:   true,
		Discount: domain.PercentageOff{Percent: dec("10")},
		MinSpend: decPtr("50"),
	}
	totals := engine.Compute(context.Background(), PricingInput{
		Lines:              hundredPoundCart(),
		Currency:           "GBP",
		DestinationCountry: "GB",
		Promotion:          promo,
		ShippingCost:       decPtr("5.99"),
		TaxRates:           ukTax,
	})

	assertDecimal(t, "discount", totals.DiscountAmount, "10")
	assertDecimal(t, "taxes", totals.Taxes, "18")
	assertDecimal(t, "total", totals.Total, "113.99")
	assertDecimal(t, "platform fee", totals.PlatformFee.Local, "15")
	assertDecimal(t, "seller payout", totals.SellerPayout, "85")
}

func TestPricingEngine_FreeShippingWaivesShipping(t *testing.T) {
	engine := newTestEngine(t)

	promo := &domain.Promotion{Code: "SHIPFREE", Active: true, Discount: domain.FreeShipping{}}
	totals := engine.Compute(context.Background(), PricingInput{
		Lines:              hundredPoundCart(),
		Currency:           "GBP",
		DestinationCountry: "GB",
		Promotion:          promo,
		ShippingCost:       decPtr("9.99"),
		TaxRates:           ukTax,
	})

	assertDecimal(t, "shipping", totals.ShippingCost, "0")
	assertDecimal(t, "discount", totals.DiscountAmount, "9.99")
	assertDecimal(t, "taxes", totals.Taxes, "20")
	assertDecimal(t, "total", totals.Total, "120")
}

func TestPricingEngine_MinSpendNotMetContributesNoDiscount(t *testing.T) {
	engine := newTestEngine(t)
	base := PricingInput{
		Lines:              hundredPoundCart(),
		Currency:           "GBP",
		DestinationCountry: "GB",
		ShippingCost:       decPtr("5.99"),
		TaxRates:           ukTax,
	}
	withPromo := base
	withPromo.Promotion = &domain.Promotion{
		Code:     "BIGSPEND",
		Active:   true,
		Discount: domain.PercentageOff{Percent: dec("10")},
		MinSpend: decPtr("200"),
	}

	ctx := context.Background()
	want := engine.Compute(ctx, base)
	got := engine.Compute(ctx, withPromo)
	if !totalsEqual(want, got) {
		t.Fatalf("expected ineligible promotion to match no-promotion totals\nwant %+v\ngot  %+v", want, got)
	}
}

func TestPricingEngine_MinSpendComparedInBaseCurrency(t *testing.T) {
	converter, err := NewCurrencyConverter(CurrencyConverterDeps{
		BaseCurrency: "GBP",
		Rates: map[string]decimal.Decimal{
			"GBP": dec("1"),
			"KWD": dec("2.5"),
		},
	})
	if err != nil {
		t.Fatalf("NewCurrencyConverter: %v", err)
	}
	engine, err := NewPricingEngine(PricingEngineDeps{Converter: converter})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}

	lines := []domain.CartLine{{
		ProductID: "prod_lamp",
		Prices:    map[string]decimal.Decimal{"KWD": dec("50")},
		Quantity:  1,
	}}
	ctx := context.Background()

	tests := []struct {
		name     string
		minSpend string
		eligible bool
		discount string
	}{
		{name: "base subtotal above min spend", minSpend: "80", eligible: true, discount: "5"},
		{name: "base subtotal equals min spend", minSpend: "125", eligible: true, discount: "5"},
		{name: "base subtotal below min spend", minSpend: "130", eligible: false, discount: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			promo := &domain.Promotion{
				Code:     "LAMP10",
				Active:   true,
				Discount: domain.PercentageOff{Percent: dec("10")},
				MinSpend: decPtr(tc.minSpend),
			}
			reason := CheckPromotionEligibility(ctx, promo, EligibilityInput{Lines: lines, Currency: "KWD"}, converter)
			if got := reason == domain.PromotionRejectionNone; got != tc.eligible {
				t.Fatalf("expected eligible=%v, got rejection %q", tc.eligible, reason)
			}
			totals := engine.Compute(ctx, PricingInput{Lines: lines, Currency: "KWD", Promotion: promo})
			assertDecimal(t, "discount", totals.DiscountAmount, tc.discount)
		})
	}
}

func TestPricingEngine_WholesaleSubtotalButConsumerTargetedBase(t *testing.T) {
	engine := newTestEngine(t)
	lines := []domain.CartLine{
		{
			ProductID:       "prod_vase",
			SubCategory:     "ceramics",
			Prices:          map[string]decimal.Decimal{"GBP": dec("50")},
			WholesalePrices: map[string]decimal.Decimal{"GBP": dec("30")},
			Quantity:        2,
		},
		{
			ProductID:   "prod_card",
			SubCategory: "stationery",
			Prices:      map[string]decimal.Decimal{"GBP": dec("5")},
			Quantity:    4,
		},
	}
	promo := &domain.Promotion{
		Code:     "CERAMICS20",
		Active:   true,
		Discount: domain.TargetedPercentageOff{Percent: dec("20")},
		Target:   domain.PromotionTarget{Category: "ceramics"},
	}

	totals := engine.Compute(context.Background(), PricingInput{
		Lines:              lines,
		Currency:           "GBP",
		DestinationCountry: "GB",
		Promotion:          promo,
		TaxRates:           ukTax,
		Wholesale:          true,
	})

	// wholesale: 2*30 + 4*5 (no trade price) = 80
	assertDecimal(t, "subtotal", totals.Subtotal, "80")
	// targeted base uses consumer price: 2*50 = 100, 20% = 20
	assertDecimal(t, "discount", totals.DiscountAmount, "20")
	assertDecimal(t, "taxes", totals.Taxes, "12")
	assertDecimal(t, "platform fee", totals.PlatformFee.Local, "12")
	assertDecimal(t, "seller payout", totals.SellerPayout, "68")
	assertDecimal(t, "total", totals.Total, "72")
}

func TestPricingEngine_TargetMatchesCategoryOrProduct(t *testing.T) {
	engine := newTestEngine(t)
	promo := &domain.Promotion{
		Code:     "MIXED",
		Active:   true,
		Discount: domain.TargetedPercentageOff{Percent: dec("50")},
		Target:   domain.PromotionTarget{Category: "kitchen", ProductIDs: []string{"prod_print"}},
	}

	totals := engine.Compute(context.Background(), PricingInput{
		Lines:     hundredPoundCart(),
		Currency:  "GBP",
		Promotion: promo,
		TaxRates:  ukTax,
	})

	assertDecimal(t, "discount", totals.DiscountAmount, "50")
}

func TestPricingEngine_FixedAmountClampedToSubtotalPlusShipping(t *testing.T) {
	engine := newTestEngine(t)
	promo := &domain.Promotion{Code: "HUGE", Active: true, Discount: domain.FixedAmountOff{Amount: dec("500")}}

	totals := engine.Compute(context.Background(), PricingInput{
		Lines:              hundredPoundCart(),
		Currency:           "GBP",
		DestinationCountry: "GB",
		Promotion:          promo,
		ShippingCost:       decPtr("5"),
		TaxRates:           ukTax,
	})

	assertDecimal(t, "discount", totals.DiscountAmount, "105")
	assertDecimal(t, "taxes", totals.Taxes, "-1")
	assertDecimal(t, "seller payout", totals.SellerPayout, "85")
}

func TestPricingEngine_MissingDataDefaultsToZero(t *testing.T) {
	engine := newTestEngine(t)
	var events []string
	engine.logger = func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}

	totals := engine.Compute(context.Background(), PricingInput{
		Lines: []domain.CartLine{
			{ProductID: "prod_usd_only", Prices: map[string]decimal.Decimal{"USD": dec("10")}, Quantity: 3},
		},
		Currency:           "GBP",
		DestinationCountry: "ZZ",
		TaxRates:           ukTax,
	})

	for name, value := range map[string]decimal.Decimal{
		"subtotal": totals.Subtotal,
		"discount": totals.DiscountAmount,
		"shipping": totals.ShippingCost,
		"taxes":    totals.Taxes,
		"total":    totals.Total,
		"fee":      totals.PlatformFee.Local,
		"feeBase":  totals.PlatformFee.Base,
		"payout":   totals.SellerPayout,
	} {
		if !value.IsZero() {
			t.Fatalf("%s: expected zero, got %s", name, value)
		}
	}
	if len(events) != 1 || events[0] != "pricing.tax.fallback" {
		t.Fatalf("expected tax fallback event, got %v", events)
	}
}

func TestPricingEngine_PlatformFeeConvertedToBase(t *testing.T) {
	engine := newTestEngine(t)

	totals := engine.Compute(context.Background(), PricingInput{
		Lines: []domain.CartLine{
			{ProductID: "prod_a", Prices: map[string]decimal.Decimal{"USD": dec("200")}, Quantity: 1},
		},
		Currency:           "USD",
		DestinationCountry: "US",
		TaxRates:           domain.TaxRateTable{"US": dec("0")},
	})

	assertDecimal(t, "fee local", totals.PlatformFee.Local, "30")
	assertDecimal(t, "fee base", totals.PlatformFee.Base, "24")
}

func TestNewPricingEngine_Validation(t *testing.T) {
	if _, err := NewPricingEngine(PricingEngineDeps{}); err == nil {
		t.Fatalf("expected error without converter")
	}
	if _, err := NewPricingEngine(PricingEngineDeps{Converter: newTestConverter(t), PlatformFeeRate: decPtr("1.5")}); err == nil {
		t.Fatalf("expected error for fee rate above 1")
	}
	engine, err := NewPricingEngine(PricingEngineDeps{Converter: newTestConverter(t), PlatformFeeRate: decPtr("0.1")})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	totals := engine.Compute(context.Background(), PricingInput{Lines: hundredPoundCart(), Currency: "GBP"})
	assertDecimal(t, "fee", totals.PlatformFee.Local, "10")
}

func TestPricingEngine_Properties(t *testing.T) {
	converter := newTestConverter(t)
	engine, err := NewPricingEngine(PricingEngineDeps{Converter: converter})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		in := randomPricingInput(rng, now)

		first := engine.Compute(ctx, in)
		second := engine.Compute(ctx, in)
		if !totalsEqual(first, second) {
			t.Fatalf("case %d: non-deterministic totals\n%+v\n%+v", i, first, second)
		}

		preWaiverShipping := decimal.Zero
		if in.ShippingCost != nil {
			preWaiverShipping = *in.ShippingCost
		}
		if first.DiscountAmount.GreaterThan(first.Subtotal.Add(preWaiverShipping)) {
			t.Fatalf("case %d: discount %s exceeds subtotal+shipping %s", i, first.DiscountAmount, first.Subtotal.Add(preWaiverShipping))
		}

		_, freeShipping := promotionDiscount(in.Promotion).(domain.FreeShipping)
		applied := in.Promotion != nil && (in.Promotion.MinSpend == nil || converter.ConvertToBase(ctx, first.Subtotal, in.Currency).GreaterThanOrEqual(*in.Promotion.MinSpend))
		if freeShipping && applied {
			if !first.ShippingCost.IsZero() {
				t.Fatalf("case %d: free shipping left shipping %s", i, first.ShippingCost)
			}
			if !first.DiscountAmount.Equal(preWaiverShipping) {
				t.Fatalf("case %d: free shipping discount %s, want %s", i, first.DiscountAmount, preWaiverShipping)
			}
		}

		taxable := first.Subtotal
		if !(freeShipping && applied) {
			taxable = first.Subtotal.Sub(first.DiscountAmount)
		}
		rate, _ := in.TaxRates.Rate(in.DestinationCountry)
		if !first.Taxes.Equal(taxable.Mul(rate)) {
			t.Fatalf("case %d: taxes %s, want %s", i, first.Taxes, taxable.Mul(rate))
		}

		if !first.PlatformFee.Local.Equal(first.Subtotal.Mul(dec("0.15"))) {
			t.Fatalf("case %d: fee %s not 15%% of %s", i, first.PlatformFee.Local, first.Subtotal)
		}
		if !first.SellerPayout.Add(first.PlatformFee.Local).Equal(first.Subtotal) {
			t.Fatalf("case %d: payout %s + fee %s != subtotal %s", i, first.SellerPayout, first.PlatformFee.Local, first.Subtotal)
		}
		if !first.Total.Equal(taxable.Add(first.ShippingCost).Add(first.Taxes)) {
			t.Fatalf("case %d: total %s inconsistent", i, first.Total)
		}
	}
}

func promotionDiscount(p *domain.Promotion) domain.PromotionDiscount {
	if p == nil {
		return nil
	}
	return p.Discount
}

func randomPricingInput(rng *rand.Rand, now time.Time) PricingInput {
	currencies := []string{"GBP", "USD", "EUR"}
	currency := currencies[rng.Intn(len(currencies))]
	subCategories := []string{"kitchen", "prints", "ceramics"}

	lines := make([]domain.CartLine, rng.Intn(5))
	for i := range lines {
		line := domain.CartLine{
			ProductID:   []string{"p1", "p2", "p3", "p4"}[rng.Intn(4)],
			SubCategory: subCategories[rng.Intn(len(subCategories))],
			Prices:      map[string]decimal.Decimal{currency: decimal.New(int64(rng.Intn(20000)), -2)},
			Quantity:    1 + rng.Intn(5),
		}
		if rng.Intn(2) == 0 {
			line.WholesalePrices = map[string]decimal.Decimal{currency: decimal.New(int64(rng.Intn(15000)), -2)}
		}
		lines[i] = line
	}

	in := PricingInput{
		Lines:              lines,
		Currency:           currency,
		DestinationCountry: []string{"GB", "FR", "ZZ"}[rng.Intn(3)],
		TaxRates:           domain.TaxRateTable{"GB": dec("0.2"), "FR": dec("0.2")},
		Wholesale:          rng.Intn(2) == 0,
	}
	if rng.Intn(4) != 0 {
		cost := decimal.New(int64(rng.Intn(2000)), -2)
		in.ShippingCost = &cost
	}

	var discount domain.PromotionDiscount
	switch rng.Intn(5) {
	case 0:
		discount = domain.PercentageOff{Percent: decimal.NewFromInt(int64(1 + rng.Intn(100)))}
	case 1:
		discount = domain.FixedAmountOff{Amount: decimal.New(int64(rng.Intn(50000)), -2)}
	case 2:
		discount = domain.FreeShipping{}
	case 3:
		discount = domain.TargetedPercentageOff{Percent: decimal.NewFromInt(int64(1 + rng.Intn(100)))}
	}
	if discount != nil {
		promo := &domain.Promotion{
			Code:     "RANDOM",
			Active:   true,
			Discount: discount,
			Target:   domain.PromotionTarget{Category: subCategories[rng.Intn(len(subCategories))], ProductIDs: []string{"p2"}},
			StartsAt: &now,
		}
		if rng.Intn(2) == 0 {
			promo.MinSpend = decPtr("100")
		}
		in.Promotion = promo
	}
	return in
}

func totalsEqual(a, b domain.OrderTotals) bool {
	return a.Currency == b.Currency &&
		a.Subtotal.Equal(b.Subtotal) &&
		a.DiscountAmount.Equal(b.DiscountAmount) &&
		a.ShippingCost.Equal(b.ShippingCost) &&
		a.Taxes.Equal(b.Taxes) &&
		a.PlatformFee.Local.Equal(b.PlatformFee.Local) &&
		a.PlatformFee.Base.Equal(b.PlatformFee.Base) &&
		a.PlatformFee.BaseCurrency == b.PlatformFee.BaseCurrency &&
		a.Total.Equal(b.Total) &&
		a.SellerPayout.Equal(b.SellerPayout)
}
