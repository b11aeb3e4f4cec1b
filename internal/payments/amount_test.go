package payments

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"125.99", "GBP", 12599},
		{"0.005", "usd", 1},
		{"1000.4", "JPY", 1000},
		{"19.999999", "EUR", 2000},
	}
	for _, tc := range cases {
		got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.amount, tc.currency, err)
		}
		if got != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.amount, tc.currency, tc.want, got)
		}
	}
}

func TestFromMinorUnits(t *testing.T) {
	got, err := FromMinorUnits(12599, "GBP")
	if err != nil {
		t.Fatalf("from minor units: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("125.99")) {
		t.Fatalf("expected 125.99, got %s", got)
	}
	yen, err := FromMinorUnits(500, "JPY")
	if err != nil {
		t.Fatalf("from minor units: %v", err)
	}
	if !yen.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected 500, got %s", yen)
	}
}

func TestMinorUnitsRejectsUnknownCurrency(t *testing.T) {
	if _, err := MinorUnits(decimal.NewFromInt(1), "ZZZZ"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
