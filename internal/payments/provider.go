package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the provider-neutral payment state stored on orders.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrPaymentDeclined means the provider refused the charge; checkout surfaces it as 402.
	ErrPaymentDeclined = errors.New("payments: payment declined")
	ErrInvalidRequest  = errors.New("payments: invalid request")
)

// ChargeRequest is a one-shot charge of an order total.
type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerID     string
	PaymentMethod  string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

func (r ChargeRequest) validate() error {
	switch {
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case strings.TrimSpace(r.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	return nil
}

// RefundRequest reverses a previous charge, fully when Amount is nil. Checkout uses it to
// compensate a charge whose order could not be committed.
type RefundRequest struct {
	TransactionID  string
	Amount         *decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentDetails is what an order records about its payment.
type PaymentDetails struct {
	Provider      string
	Method        string
	TransactionID string
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	ProcessedAt   time.Time
	Raw           map[string]any
}

// Provider is implemented by each PSP adapter.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// PaymentContext carries the hints used to pick a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Gateway is the provider-routing surface consumed by checkout.
type Gateway interface {
	Charge(ctx context.Context, paymentCtx PaymentContext, req ChargeRequest) (PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error)
}
