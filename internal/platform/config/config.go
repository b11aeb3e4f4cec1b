package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultTxAttempts           = 5
	defaultTxTimeout            = 15 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultLogLevel             = "info"
	defaultOrderEventsTopic     = "order-events"
	defaultPaymentProvider      = "simulated"
	defaultSimulatedSuccessRate = 1.0
	defaultBaseCurrency         = "GBP"
	defaultPlatformFeeRate      = "0.15"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	PSP           PSPConfig
	Pricing       PricingConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters. TxAttempts and TxTimeout bound the checkout
// transaction.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxAttempts   int
	TxTimeout    time.Duration
}

// PubSubConfig selects where order events are published. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// PSPConfig selects and configures the payment gateway.
type PSPConfig struct {
	// Provider is the default gateway: "stripe" or "simulated".
	Provider             string
	StripeAPIKey         string
	StripeAccountID      string
	SimulatedSuccessRate float64
	// CurrencyRoutes pins currencies to providers, e.g. "JPY=stripe".
	CurrencyRoutes map[string]string
}

// PricingConfig holds the platform commercial terms and the static rate table location.
type PricingConfig struct {
	BaseCurrency    string
	PlatformFeeRate decimal.Decimal
	// RateTableFile is a YAML file of currency rates, fallback tax rates and shipping zones.
	// When empty the embedded defaults are used.
	RateTableFile string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecurityConfig carries the deployment environment used to select secret projects.
type SecurityConfig struct {
	Environment string
}

// ObservabilityConfig configures logging and trace correlation.
type ObservabilityConfig struct {
	LogLevel       string
	TraceProjectID string
}

// ValidationError lists every missing or out-of-range field, not just the first.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile overrides the dotenv path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields, such as "PSP.StripeAPIKey", that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment Load would see, so callers can build the
// secret fetcher before loading the config itself.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newEnvSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.flatten(), nil
}

// Load assembles the configuration from defaults, the dotenv file, the environment and resolved
// secret references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newEnvSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := fromSource(src)

	resolved := make(map[string]string)
	secretFields := map[string]*string{
		"PSP.StripeAPIKey": &cfg.PSP.StripeAPIKey,
	}
	for name, field := range secretFields {
		value, err := resolveSecret(ctx, *field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*field = value
		resolved[name] = value
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Observability.TraceProjectID == "" {
		cfg.Observability.TraceProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(o.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func fromSource(src envSource) Config {
	return Config{
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   src.int("API_FIRESTORE_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:    src.duration("API_FIRESTORE_TX_TIMEOUT", defaultTxTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     src.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			Provider:             strings.ToLower(src.str("API_PSP_PROVIDER", defaultPaymentProvider)),
			StripeAPIKey:         src.str("API_PSP_STRIPE_API_KEY", ""),
			StripeAccountID:      src.str("API_PSP_STRIPE_ACCOUNT_ID", ""),
			SimulatedSuccessRate: src.float("API_PSP_SIMULATED_SUCCESS_RATE", defaultSimulatedSuccessRate),
			CurrencyRoutes:       src.pairs("API_PSP_CURRENCY_ROUTES"),
		},
		Pricing: PricingConfig{
			BaseCurrency:    strings.ToUpper(src.str("API_PRICING_BASE_CURRENCY", defaultBaseCurrency)),
			PlatformFeeRate: src.decimal("API_PRICING_PLATFORM_FEE_RATE", defaultPlatformFeeRate),
			RateTableFile:   src.str("API_PRICING_RATE_TABLE_FILE", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(src.str("LOG_LEVEL", defaultLogLevel)),
			TraceProjectID: src.str("API_TRACE_PROJECT_ID", ""),
		},
	}
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.Firestore.TxAttempts > 0, "Firestore.TxAttempts")
	check(cfg.Firestore.TxTimeout > 0, "Firestore.TxTimeout")
	switch cfg.PSP.Provider {
	case "stripe":
		check(strings.TrimSpace(cfg.PSP.StripeAPIKey) != "", "PSP.StripeAPIKey")
	case "simulated":
		rate := cfg.PSP.SimulatedSuccessRate
		check(rate >= 0 && rate <= 1, "PSP.SimulatedSuccessRate")
	default:
		check(false, "PSP.Provider")
	}
	check(len(cfg.Pricing.BaseCurrency) == 3, "Pricing.BaseCurrency")
	fee := cfg.Pricing.PlatformFeeRate
	check(!fee.IsNegative() && fee.LessThan(decimal.NewFromInt(1)), "Pricing.PlatformFeeRate")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
