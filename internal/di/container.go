package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/storefront-commerce/api/internal/payments"
	"github.com/storefront-commerce/api/internal/platform/config"
	"github.com/storefront-commerce/api/internal/platform/ratetable"
	"github.com/storefront-commerce/api/internal/repositories"
	"github.com/storefront-commerce/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Promotions services.PromotionService
	Cart       services.CartService
	Pricing    services.PricingService
	Checkout   services.CheckoutService
	Shipping   services.ShippingQuoter
	System     services.SystemService
	Converter  *services.CurrencyConverter
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises the collaborators that do not come from the repository registry.
type Option func(*options)

type options struct {
	tables   *ratetable.Tables
	gateway  payments.Gateway
	events   services.OrderEventPublisher
	meter    metric.Meter
	logger   func(context.Context, string, map[string]any)
	clock    func() time.Time
	build    services.BuildInfo
	newOrder func() string
}

// WithRateTables supplies the parsed currency, tax and shipping tables.
func WithRateTables(tables ratetable.Tables) Option {
	return func(o *options) {
		o.tables = &tables
	}
}

// WithPaymentGateway sets the gateway used by checkout.
func WithPaymentGateway(gateway payments.Gateway) Option {
	return func(o *options) {
		o.gateway = gateway
	}
}

// WithOrderEvents sets the publisher notified after an order commits.
func WithOrderEvents(events services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = events
	}
}

// WithMeter sets the OpenTelemetry meter for pricing and conversion counters.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithEventLogger sets the structured event hook shared by every service.
func WithEventLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithBuildInfo sets the version metadata reported by the health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// WithOrderIDGenerator overrides order id generation.
func WithOrderIDGenerator(gen func() string) Option {
	return func(o *options) {
		o.newOrder = gen
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry; tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if o.tables == nil {
		tables, err := ratetable.Load(cfg.Pricing.RateTableFile)
		if err != nil {
			return nil, err
		}
		o.tables = &tables
	}

	svc, err := buildServices(ctx, cfg, reg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, o options) (Services, error) {
	var svc Services

	baseCurrency := cfg.Pricing.BaseCurrency
	if o.tables.BaseCurrency != "" {
		baseCurrency = o.tables.BaseCurrency
	}
	converter, err := services.NewCurrencyConverter(services.CurrencyConverterDeps{
		BaseCurrency: baseCurrency,
		Rates:        o.tables.CurrencyRates,
		Meter:        o.meter,
		Logger:       o.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("currency converter: %w", err)
	}
	svc.Converter = converter

	feeRate := cfg.Pricing.PlatformFeeRate
	engine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Converter:       converter,
		PlatformFeeRate: &feeRate,
		Meter:           o.meter,
		Logger:          o.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("pricing engine: %w", err)
	}

	if svc.Shipping, err = services.NewZoneShippingQuoter(services.ZoneShippingQuoterDeps{
		Zones:     o.tables.Zones,
		Converter: converter,
		Logger:    o.logger,
	}); err != nil {
		return svc, fmt.Errorf("shipping quoter: %w", err)
	}

	taxRates, err := services.NewTaxRateProvider(services.TaxRateProviderDeps{
		Repository: reg.FinancialConfig(),
		Fallback:   o.tables.TaxRates,
		Logger:     o.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("tax rate provider: %w", err)
	}

	if svc.Promotions, err = services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Converter:  converter,
		Clock:      o.clock,
		Logger:     o.logger,
	}); err != nil {
		return svc, fmt.Errorf("promotion service: %w", err)
	}

	if svc.Pricing, err = services.NewPricingService(services.PricingServiceDeps{
		Engine:     engine,
		Promotions: svc.Promotions,
		Shipping:   svc.Shipping,
		TaxRates:   taxRates,
		Logger:     o.logger,
	}); err != nil {
		return svc, fmt.Errorf("pricing service: %w", err)
	}

	if svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Store:           reg.Carts(),
		Pricing:         svc.Pricing,
		Promotions:      svc.Promotions,
		Clock:           o.clock,
		DefaultCurrency: baseCurrency,
		Logger:          o.logger,
	}); err != nil {
		return svc, fmt.Errorf("cart service: %w", err)
	}

	if svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:       svc.Cart,
		Promotions:  svc.Promotions,
		Orders:      reg.Orders(),
		Payments:    o.gateway,
		UnitOfWork:  reg,
		Events:      o.events,
		Clock:       o.clock,
		IDGenerator: o.newOrder,
		Logger:      o.logger,
	}); err != nil {
		return svc, fmt.Errorf("checkout service: %w", err)
	}

	if health := reg.Health(); health != nil {
		if svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Probes:           []services.SystemProbe{services.CurrencyRatesProbe(converter)},
			Clock:            o.clock,
			Build:            o.build,
		}); err != nil {
			return svc, fmt.Errorf("system service: %w", err)
		}
	}

	return svc, nil
}
