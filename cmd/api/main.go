package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront-commerce/api/internal/di"
	"github.com/storefront-commerce/api/internal/handlers"
	"github.com/storefront-commerce/api/internal/payments"
	"github.com/storefront-commerce/api/internal/platform/config"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/platform/idempotency"
	"github.com/storefront-commerce/api/internal/platform/jobs"
	"github.com/storefront-commerce/api/internal/platform/observability"
	"github.com/storefront-commerce/api/internal/platform/secrets"
	"github.com/storefront-commerce/api/internal/repositories"
	firestoreRepo "github.com/storefront-commerce/api/internal/repositories/firestore"
	"github.com/storefront-commerce/api/internal/services"
)

const instrumentationName = "github.com/storefront-commerce/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger = logger.With(zap.String("version", buildInfo.Version), zap.String("environment", buildInfo.Environment))

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore,
		pfirestore.WithTransactionOptions(
			pfirestore.WithTxAttempts(cfg.Firestore.TxAttempts),
			pfirestore.WithTxTimeout(cfg.Firestore.TxTimeout),
		),
	)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var checks []repositories.DependencyCheck
	var orderEvents services.OrderEventPublisher
	topic, closePubSub, err := newOrderEventsTopic(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pubsub topic", zap.Error(err))
	}
	defer closePubSub()
	if topic != nil {
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		orderEvents = publisher
		checks = append(checks, topicCheck(topic))
	} else {
		logger.Warn("order events topic not configured; order.placed events are disabled")
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, checks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	gateway, err := newPaymentGateway(cfg.PSP, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithPaymentGateway(gateway),
		di.WithOrderEvents(orderEvents),
		di.WithMeter(otel.Meter(instrumentationName)),
		di.WithEventLogger(observability.EventLogger(logger.Named("services"))),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider, "")
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval,
			cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	router := newRouter(cfg, container.Services, buildInfo, idempotencyMiddleware, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	<-cleanupDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newRouter(cfg config.Config, svc di.Services, build services.BuildInfo, idem func(http.Handler) http.Handler, logger *zap.Logger) http.Handler {
	projectID := strings.TrimSpace(cfg.Observability.TraceProjectID)

	pricingHandlers := handlers.NewPricingHandlers(svc.Pricing, svc.Shipping)
	promotionHandlers := handlers.NewPromotionHandlers(svc.Promotions)
	cartHandlers := handlers.NewCartHandlers(svc.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout, idem)
	orderHandlers := handlers.NewOrderHandlers(svc.Checkout)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithAPIMiddlewares(observability.CallerLoggerMiddleware),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithShippingRoutes(pricingHandlers.ShippingRoutes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithPromotionRoutes(promotionHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(promotionHandlers.AdminRoutes),
	)
}

// newPaymentGateway registers Stripe when a key is configured and the simulated provider when it
// is selected. cfg.Provider becomes the default; currency routes override it per currency.
func newPaymentGateway(cfg config.PSPConfig, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)
	eventLogger := observability.EventLogger(logger)

	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    key,
			AccountID: cfg.StripeAccountID,
			Logger:    payments.StripeLogger(eventLogger),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
	}
	if cfg.Provider == payments.ProviderSimulated || len(providers) == 0 {
		simulated, err := payments.NewSimulatedProvider(payments.SimulatedProviderConfig{
			SuccessRate: cfg.SimulatedSuccessRate,
			Clock:       time.Now,
			Logger:      eventLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("simulated provider: %w", err)
		}
		providers[payments.ProviderSimulated] = simulated
	}

	opts := []payments.ManagerOption{payments.WithCurrencyRoutes(cfg.CurrencyRoutes)}
	if provider := strings.TrimSpace(cfg.Provider); provider != "" {
		opts = append(opts, payments.WithDefaultProvider(provider))
	}
	return payments.NewManager(providers, opts...)
}

// newOrderEventsTopic returns a nil topic when no topic is configured.
func newOrderEventsTopic(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Topic, func(), error) {
	noop := func() {}
	topicID := strings.TrimSpace(cfg.OrderEventsTopic)
	if topicID == "" {
		return nil, noop, nil
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", host); err != nil {
			return nil, noop, err
		}
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, noop, err
	}
	topic := client.Topic(topicID)
	return topic, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

func topicCheck(topic *pubsub.Topic) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(instrumentationName)),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the server starts.
func requiredSecretNames(env map[string]string) []string {
	if strings.ToLower(strings.TrimSpace(env["API_PSP_PROVIDER"])) == payments.ProviderStripe {
		return []string{"PSP.StripeAPIKey"}
	}
	return nil
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS ("prod=shop-prod,stg=shop-stg").
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	raw := strings.TrimSpace(env["API_SECRET_PROJECT_IDS"])
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
