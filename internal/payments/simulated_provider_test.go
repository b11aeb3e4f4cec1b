package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func sequence(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestSimulatedProviderSucceedsBelowRate(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	provider, err := NewSimulatedProvider(SimulatedProviderConfig{
		Random: sequence(0.10),
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new simulated provider: %v", err)
	}

	details, err := provider.Charge(context.Background(), chargeOf("19.99", "gbp"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", details.Status)
	}
	if !strings.HasPrefix(details.TransactionID, "sim_") {
		t.Fatalf("unexpected transaction id %q", details.TransactionID)
	}
	if details.Currency != "GBP" || !details.ProcessedAt.Equal(now) {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.Method != "pm_card_visa" {
		t.Fatalf("expected payment method to be echoed, got %q", details.Method)
	}
}

func TestSimulatedProviderDeclinesAtOrAboveRate(t *testing.T) {
	provider, err := NewSimulatedProvider(SimulatedProviderConfig{Random: sequence(0.95)})
	if err != nil {
		t.Fatalf("new simulated provider: %v", err)
	}
	if _, err := provider.Charge(context.Background(), chargeOf("5", "GBP")); !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
}

func TestSimulatedProviderDeclineRateOverManyCharges(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i) / 100
	}
	provider, err := NewSimulatedProvider(SimulatedProviderConfig{Random: sequence(values...)})
	if err != nil {
		t.Fatalf("new simulated provider: %v", err)
	}

	declines := 0
	for range values {
		if _, err := provider.Charge(context.Background(), chargeOf("1", "GBP")); err != nil {
			declines++
		}
	}
	if declines != 5 {
		t.Fatalf("expected 5 declines out of 100, got %d", declines)
	}
}

func TestSimulatedProviderRefund(t *testing.T) {
	provider, err := NewSimulatedProvider(SimulatedProviderConfig{Random: sequence(0)})
	if err != nil {
		t.Fatalf("new simulated provider: %v", err)
	}
	ctx := context.Background()

	charge, err := provider.Charge(ctx, chargeOf("12", "EUR"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	refund, err := provider.Refund(ctx, RefundRequest{TransactionID: charge.TransactionID})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", refund.Status)
	}
	if _, err := provider.Refund(ctx, RefundRequest{TransactionID: "sim_missing"}); err == nil {
		t.Fatalf("expected error for unknown transaction")
	}
}

func TestNewSimulatedProviderValidatesRate(t *testing.T) {
	if _, err := NewSimulatedProvider(SimulatedProviderConfig{SuccessRate: 1.5}); err == nil {
		t.Fatalf("expected error for success rate above 1")
	}
}
