package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	lastOp     string
	lastCharge ChargeRequest
	payment    PaymentDetails
	err        error
}

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	f.lastOp = "charge"
	f.lastCharge = req
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func chargeOf(amount string, currency string) ChargeRequest {
	return ChargeRequest{Amount: decimal.RequireFromString(amount), Currency: currency, PaymentMethod: "pm_card_visa"}
}

func TestManagerChargeUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{TransactionID: "pi_1"}}
	simulated := &fakeProvider{payment: PaymentDetails{TransactionID: "sim_1"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderStripe:    stripe,
		ProviderSimulated: simulated,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Charge(ctx, PaymentContext{PreferredProvider: "Simulated"}, chargeOf("10.50", "GBP"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if details.Provider != ProviderSimulated {
		t.Fatalf("expected provider %q, got %q", ProviderSimulated, details.Provider)
	}
	if simulated.lastOp != "charge" || stripe.lastOp != "" {
		t.Fatalf("expected only the simulated provider to handle the call")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{}
	simulated := &fakeProvider{}

	mgr, err := NewManager(
		map[string]Provider{ProviderStripe: stripe, ProviderSimulated: simulated},
		WithCurrencyRoutes(map[string]string{"jpy": ProviderSimulated}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.Charge(ctx, PaymentContext{}, chargeOf("1000", "JPY")); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if simulated.lastOp != "charge" {
		t.Fatalf("expected JPY charge to route to simulated provider")
	}
	if _, err := mgr.Charge(ctx, PaymentContext{}, chargeOf("10", "GBP")); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if stripe.lastOp != "charge" {
		t.Fatalf("expected GBP charge to use default stripe provider")
	}
}

func TestManagerRefundFallsBackToSoleProvider(t *testing.T) {
	ctx := context.Background()
	only := &fakeProvider{payment: PaymentDetails{Status: StatusRefunded}}

	mgr, err := NewManager(map[string]Provider{"simulated": only})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{TransactionID: "sim_123"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if only.lastOp != "refund" || details.Provider != "simulated" {
		t.Fatalf("unexpected refund routing: op=%q provider=%q", only.lastOp, details.Provider)
	}

	if _, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing transaction id, got %v", err)
	}
}

func TestManagerRejectsInvalidCharge(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderStripe: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for name, req := range map[string]ChargeRequest{
		"zero amount":      chargeOf("0", "GBP"),
		"negative amount":  chargeOf("-1", "GBP"),
		"missing currency": chargeOf("5", ""),
	} {
		if _, err := mgr.Charge(context.Background(), PaymentContext{}, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{ProviderStripe: &fakeProvider{}, ProviderSimulated: &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Charge(ctx, PaymentContext{PreferredProvider: "unknown"}, chargeOf("5", "USD"))
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerPropagatesDecline(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderStripe: &fakeProvider{err: ErrPaymentDeclined}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Charge(context.Background(), PaymentContext{}, chargeOf("5", "GBP")); !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
