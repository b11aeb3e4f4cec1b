package payments

import (
	"context"
	"crypto/rand"
	"errors"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProviderSimulated is the registry key for the simulated provider.
const ProviderSimulated = "simulated"

// DefaultSimulatedSuccessRate matches the reference gateway: 95% of charges succeed.
const DefaultSimulatedSuccessRate = 0.95

// SimulatedProviderConfig configures a SimulatedProvider.
type SimulatedProviderConfig struct {
	// SuccessRate is the probability in [0,1] that a charge succeeds.
	SuccessRate float64
	// Random returns values in [0,1). Defaults to a time-seeded source.
	Random func() float64
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// SimulatedProvider stands in for a PSP in development and tests. Charges succeed with a fixed
// probability and otherwise fail with a generic decline.
type SimulatedProvider struct {
	successRate float64
	random      func() float64
	clock       func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	charges map[string]PaymentDetails
}

var _ Provider = (*SimulatedProvider)(nil)

// NewSimulatedProvider builds a simulated provider.
func NewSimulatedProvider(cfg SimulatedProviderConfig) (*SimulatedProvider, error) {
	rate := cfg.SuccessRate
	if rate == 0 {
		rate = DefaultSimulatedSuccessRate
	}
	if rate < 0 || rate > 1 {
		return nil, errors.New("simulated payments: success rate must be between 0 and 1")
	}
	random := cfg.Random
	if random == nil {
		src := mrand.New(mrand.NewSource(time.Now().UnixNano()))
		var mu sync.Mutex
		random = func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return src.Float64()
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SimulatedProvider{
		successRate: rate,
		random:      random,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
		charges:     make(map[string]PaymentDetails),
	}, nil
}

// Charge succeeds or declines according to the configured success rate.
func (p *SimulatedProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if err := req.validate(); err != nil {
		return PaymentDetails{}, err
	}
	if p.random() >= p.successRate {
		p.logger(ctx, "payments.simulated.charge.declined", map[string]any{
			"amount":   req.Amount.String(),
			"currency": req.Currency,
		})
		return PaymentDetails{}, ErrPaymentDeclined
	}

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "card"
	}
	now := p.clock()
	details := PaymentDetails{
		Provider:      ProviderSimulated,
		Method:        method,
		TransactionID: "sim_" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Status:        StatusSucceeded,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		ProcessedAt:   now,
	}

	p.mu.Lock()
	p.charges[details.TransactionID] = details
	p.mu.Unlock()

	p.logger(ctx, "payments.simulated.charge.completed", map[string]any{
		"transactionId": details.TransactionID,
	})
	return details, nil
}

// Refund reverses a charge previously made through this provider.
func (p *SimulatedProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	charge, ok := p.charges[req.TransactionID]
	if !ok {
		return PaymentDetails{}, errors.New("simulated payments: unknown transaction " + req.TransactionID)
	}
	if charge.Status == StatusRefunded {
		return charge, nil
	}
	charge.Status = StatusRefunded
	charge.ProcessedAt = p.clock()
	if req.Amount != nil {
		charge.Amount = *req.Amount
	}
	p.charges[req.TransactionID] = charge

	p.logger(ctx, "payments.simulated.refund.completed", map[string]any{
		"transactionId": req.TransactionID,
	})
	return charge, nil
}
