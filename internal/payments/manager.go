package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager routes charges and refunds to a registered Provider. Resolution order: the caller's
// preferred provider, the currency route, the default provider, then the only provider.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider for currencies without a route.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = providerKey(provider)
	}
}

// WithCurrencyRoutes pins currencies to providers, e.g. JPY to stripe.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(provider)
		}
	}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewManager registers providers under case-insensitive names. Stripe is the default when
// registered and no default is given.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: make(map[string]string),
	}
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(hint PaymentContext) (string, Provider, error) {
	if preferred := providerKey(hint.PreferredProvider); preferred != "" {
		if p, ok := m.providers[preferred]; ok {
			return preferred, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, preferred)
	}

	candidates := []string{
		m.currencyRoutes[strings.ToUpper(strings.TrimSpace(hint.Currency))],
		m.defaultProvider,
	}
	for _, key := range candidates {
		if p, ok := m.providers[key]; ok && key != "" {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Charge validates req and delegates to the resolved provider.
func (m *Manager) Charge(ctx context.Context, hint PaymentContext, req ChargeRequest) (PaymentDetails, error) {
	if err := req.validate(); err != nil {
		return PaymentDetails{}, err
	}
	if hint.Currency == "" {
		hint.Currency = req.Currency
	}
	key, provider, err := m.resolve(hint)
	if err != nil {
		return PaymentDetails{}, err
	}
	return withProvider(key)(provider.Charge(ctx, req))
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, hint PaymentContext, req RefundRequest) (PaymentDetails, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return PaymentDetails{}, fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	}
	if hint.Currency == "" {
		hint.Currency = req.Currency
	}
	key, provider, err := m.resolve(hint)
	if err != nil {
		return PaymentDetails{}, err
	}
	return withProvider(key)(provider.Refund(ctx, req))
}

// withProvider stamps the routing key on details the provider left unlabelled.
func withProvider(key string) func(PaymentDetails, error) (PaymentDetails, error) {
	return func(details PaymentDetails, err error) (PaymentDetails, error) {
		if err != nil {
			return PaymentDetails{}, err
		}
		if details.Provider == "" {
			details.Provider = key
		}
		return details, nil
	}
}
