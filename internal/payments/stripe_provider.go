package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe is the registry key for the Stripe provider.
const ProviderStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using confirmed Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Charge creates and confirms a Payment Intent in one call. Card declines surface as ErrPaymentDeclined.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return PaymentDetails{}, fmt.Errorf("%w: stripe payment method is required", ErrInvalidRequest)
	}
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return PaymentDetails{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			p.logger(ctx, "payments.stripe.charge.declined", map[string]any{
				"code":        stripeErr.Code,
				"declineCode": stripeErr.DeclineCode,
			})
			return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentDeclined, stripeErr.Msg)
		}
		return PaymentDetails{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	details := p.intentDetails(intent)
	p.logger(ctx, "payments.stripe.charge.completed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	if details.Status != StatusSucceeded {
		return PaymentDetails{}, fmt.Errorf("%w: payment intent %s is %s", ErrPaymentDeclined, intent.ID, intent.Status)
	}
	return details, nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		amount, err := MinorUnits(*req.Amount, req.Currency)
		if err != nil {
			return PaymentDetails{}, err
		}
		params.Amount = stripe.Int64(amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.TransactionID,
		"refund":        refund.ID,
		"status":        refund.Status,
	})

	currencyCode := strings.ToUpper(string(refund.Currency))
	amount, _ := FromMinorUnits(refund.Amount, currencyCode)
	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusRefunded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}
	return PaymentDetails{
		Provider:      ProviderStripe,
		TransactionID: req.TransactionID,
		Status:        status,
		Amount:        amount,
		Currency:      currencyCode,
		ProcessedAt:   p.clock(),
		Raw:           rawMap(refund, "refund"),
	}, nil
}

func (p *StripeProvider) intentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		status = StatusFailed
	}

	currencyCode := strings.ToUpper(string(intent.Currency))
	amount, _ := FromMinorUnits(intent.Amount, currencyCode)

	method := "card"
	if intent.PaymentMethod != nil && intent.PaymentMethod.Type != "" {
		method = string(intent.PaymentMethod.Type)
	}

	processedAt := p.clock()
	if intent.Created != 0 {
		processedAt = time.Unix(intent.Created, 0).UTC()
	}

	return PaymentDetails{
		Provider:      ProviderStripe,
		Method:        method,
		TransactionID: intent.ID,
		Status:        status,
		Amount:        amount,
		Currency:      currencyCode,
		ProcessedAt:   processedAt,
		Raw:           rawMap(intent, "payment_intent"),
	}
}

func rawMap(v any, key string) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw[key] = v
	}
	return raw
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
