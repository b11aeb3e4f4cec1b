package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
)

type fakeStripeIntents struct {
	params *stripe.PaymentIntentParams
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeStripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	return f.intent, f.err
}

type fakeStripeRefunds struct {
	params *stripe.RefundParams
	refund *stripe.Refund
	err    error
}

func (f *fakeStripeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return f.refund, f.err
}

func newFakeStripe(t *testing.T, intents *fakeStripeIntents, refunds *fakeStripeRefunds) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{intents: intents, refunds: refunds},
		Clock:   func() time.Time { return time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeProviderChargeConfirmsIntent(t *testing.T) {
	intents := &fakeStripeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_123",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   12599,
		Currency: stripe.CurrencyGBP,
		PaymentMethod: &stripe.PaymentMethod{
			Type: stripe.PaymentMethodTypeCard,
		},
	}}
	provider := newFakeStripe(t, intents, &fakeStripeRefunds{})

	details, err := provider.Charge(context.Background(), ChargeRequest{
		Amount:         decimal.RequireFromString("125.99"),
		Currency:       "GBP",
		PaymentMethod:  "pm_card_visa",
		IdempotencyKey: "order-1",
		Metadata:       map[string]string{"tenantId": "t1"},
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	if got := *intents.params.Amount; got != 12599 {
		t.Fatalf("expected 12599 minor units, got %d", got)
	}
	if got := *intents.params.Currency; got != "gbp" {
		t.Fatalf("expected lower-case currency, got %q", got)
	}
	if intents.params.Confirm == nil || !*intents.params.Confirm {
		t.Fatalf("expected intent to be confirmed on creation")
	}
	if intents.params.IdempotencyKey == nil || *intents.params.IdempotencyKey != "order-1" {
		t.Fatalf("expected idempotency key to be forwarded")
	}
	if intents.params.Metadata["tenantId"] != "t1" {
		t.Fatalf("expected metadata to be forwarded")
	}
	if details.TransactionID != "pi_123" || details.Status != StatusSucceeded || details.Method != "card" {
		t.Fatalf("unexpected details %+v", details)
	}
	if !details.Amount.Equal(decimal.RequireFromString("125.99")) {
		t.Fatalf("expected amount 125.99, got %s", details.Amount)
	}
}

func TestStripeProviderCardErrorIsDecline(t *testing.T) {
	intents := &fakeStripeIntents{err: &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}}
	provider := newFakeStripe(t, intents, &fakeStripeRefunds{})

	_, err := provider.Charge(context.Background(), chargeOf("5", "GBP"))
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
}

func TestStripeProviderIncompleteIntentIsDecline(t *testing.T) {
	intents := &fakeStripeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_456",
		Status:   stripe.PaymentIntentStatusRequiresAction,
		Currency: stripe.CurrencyGBP,
	}}
	provider := newFakeStripe(t, intents, &fakeStripeRefunds{})

	if _, err := provider.Charge(context.Background(), chargeOf("5", "GBP")); !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
}

func TestStripeProviderChargeRequiresPaymentMethod(t *testing.T) {
	provider := newFakeStripe(t, &fakeStripeIntents{}, &fakeStripeRefunds{})
	req := chargeOf("5", "GBP")
	req.PaymentMethod = ""
	if _, err := provider.Charge(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStripeProviderRefund(t *testing.T) {
	refunds := &fakeStripeRefunds{refund: &stripe.Refund{
		ID:       "re_1",
		Status:   stripe.RefundStatusSucceeded,
		Amount:   500,
		Currency: stripe.CurrencyGBP,
	}}
	provider := newFakeStripe(t, &fakeStripeIntents{}, refunds)

	details, err := provider.Refund(context.Background(), RefundRequest{
		TransactionID: "pi_123",
		Reason:        "duplicate",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if *refunds.params.PaymentIntent != "pi_123" || *refunds.params.Reason != "duplicate" {
		t.Fatalf("unexpected refund params")
	}
	if refunds.params.Amount != nil {
		t.Fatalf("expected full refund without amount")
	}
	if details.Status != StatusRefunded || !details.Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected refund details %+v", details)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
