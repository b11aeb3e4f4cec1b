package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultBaseCurrency is the currency platform revenue is reported in.
const DefaultBaseCurrency = "GBP"

// CartLine is a single product entry in a cart with its per-currency price tables.
type CartLine struct {
	ProductID       string
	SellerID        string
	Name            string
	Category        string
	SubCategory     string
	Prices          map[string]decimal.Decimal
	WholesalePrices map[string]decimal.Decimal
	Quantity        int
	VariationID     *string
}

// UnitPrice returns the consumer price for the currency; a missing entry prices as zero.
func (l CartLine) UnitPrice(currency string) decimal.Decimal {
	return lookupPrice(l.Prices, currency)
}

// EffectiveUnitPrice prefers the wholesale price when wholesale is requested and one exists.
func (l CartLine) EffectiveUnitPrice(currency string, wholesale bool) decimal.Decimal {
	if wholesale {
		if price, ok := findPrice(l.WholesalePrices, currency); ok {
			return price
		}
	}
	return l.UnitPrice(currency)
}

// HasPrice reports whether the line carries a consumer price in currency.
func (l CartLine) HasPrice(currency string) bool {
	_, ok := findPrice(l.Prices, currency)
	return ok
}

// LineKey identifies a line by product and optional variation.
func (l CartLine) LineKey() string {
	if l.VariationID == nil || strings.TrimSpace(*l.VariationID) == "" {
		return l.ProductID
	}
	return l.ProductID + "#" + strings.TrimSpace(*l.VariationID)
}

func lookupPrice(prices map[string]decimal.Decimal, currency string) decimal.Decimal {
	price, _ := findPrice(prices, currency)
	return price
}

func findPrice(prices map[string]decimal.Decimal, currency string) (decimal.Decimal, bool) {
	if len(prices) == 0 {
		return decimal.Zero, false
	}
	if price, ok := prices[currency]; ok {
		return price, true
	}
	price, ok := prices[strings.ToUpper(strings.TrimSpace(currency))]
	return price, ok
}

// PlatformFee records the platform's commission in the order currency and in the base currency.
type PlatformFee struct {
	Local        decimal.Decimal
	Base         decimal.Decimal
	BaseCurrency string
}

// OrderTotals is the full price breakdown persisted with an order.
type OrderTotals struct {
	Currency       string
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Taxes          decimal.Decimal
	PlatformFee    PlatformFee
	Total          decimal.Decimal
	SellerPayout   decimal.Decimal
}

// TaxRateTable maps ISO country codes to fractional tax rates (0.20 = 20%).
type TaxRateTable map[string]decimal.Decimal

// Rate returns the rate for the country and whether one is configured.
func (t TaxRateTable) Rate(country string) (decimal.Decimal, bool) {
	if len(t) == 0 {
		return decimal.Zero, false
	}
	if rate, ok := t[country]; ok {
		return rate, true
	}
	rate, ok := t[strings.ToUpper(strings.TrimSpace(country))]
	return rate, ok
}

// ShippingOption is a priced delivery choice for a destination.
type ShippingOption struct {
	ID                string
	Carrier           string
	Name              string
	Cost              decimal.Decimal
	Currency          string
	EstimatedDelivery string
}
