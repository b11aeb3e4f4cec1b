package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinorUnits converts a decimal amount into the integer minor units PSPs expect
// (pence for GBP, yen for JPY), rounding half away from zero.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := currencyScale(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}

// FromMinorUnits converts PSP minor units back into a decimal amount.
func FromMinorUnits(units int64, code string) (decimal.Decimal, error) {
	scale, err := currencyScale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(units, -int32(scale)), nil
}

// RoundForCharge rounds an amount to the currency's minor unit.
func RoundForCharge(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	scale, err := currencyScale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Round(int32(scale)), nil
}

func currencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("%w: currency %q: %v", ErrInvalidRequest, code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}
