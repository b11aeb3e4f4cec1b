package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	return Load(context.Background(), opts...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIRESTORE_PROJECT_ID": "shop-dev"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "shop-dev" || cfg.PubSub.OrderEventsTopic != "order-events" {
		t.Errorf("expected pubsub to default to firestore project, got %+v", cfg.PubSub)
	}
	if cfg.PSP.Provider != "simulated" || cfg.PSP.SimulatedSuccessRate != 1 {
		t.Errorf("unexpected psp defaults %+v", cfg.PSP)
	}
	if cfg.Pricing.BaseCurrency != "GBP" || !cfg.Pricing.PlatformFeeRate.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("unexpected pricing defaults %+v", cfg.Pricing)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if cfg.Firestore.TxAttempts != 5 || cfg.Firestore.TxTimeout != 15*time.Second {
		t.Errorf("unexpected transaction defaults %+v", cfg.Firestore)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.TraceProjectID != "shop-dev" {
		t.Errorf("unexpected observability defaults %+v", cfg.Observability)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_FIRESTORE_PROJECT_ID":      "shop-prod",
		"API_PUBSUB_PROJECT_ID":         "events-prod",
		"API_PSP_PROVIDER":              "Stripe",
		"API_PSP_STRIPE_API_KEY":        "sm://stripe/api-key",
		"API_PSP_CURRENCY_ROUTES":       "JPY=stripe, USD=simulated",
		"API_PRICING_BASE_CURRENCY":     "usd",
		"API_PRICING_PLATFORM_FEE_RATE": "0.125",
		"API_PRICING_RATE_TABLE_FILE":   "/etc/storefront/rates.yaml",
		"API_SECURITY_ENVIRONMENT":      "PROD",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://stripe/api-key" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "sk_live_123", nil
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("PSP.StripeAPIKey"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.PubSub.ProjectID != "events-prod" {
		t.Errorf("expected explicit pubsub project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PSP.Provider != "stripe" || cfg.PSP.StripeAPIKey != "sk_live_123" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if cfg.PSP.CurrencyRoutes["JPY"] != "stripe" || cfg.PSP.CurrencyRoutes["USD"] != "simulated" {
		t.Errorf("unexpected currency routes %v", cfg.PSP.CurrencyRoutes)
	}
	if cfg.Pricing.BaseCurrency != "USD" || !cfg.Pricing.PlatformFeeRate.Equal(decimal.RequireFromString("0.125")) {
		t.Errorf("unexpected pricing config %+v", cfg.Pricing)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIRESTORE_PROJECT_ID=\"shop-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Firestore.ProjectID != "shop-dot" {
		t.Errorf("expected values from dotenv, got port=%s project=%s", cfg.Server.Port, cfg.Firestore.ProjectID)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]struct {
		env   map[string]string
		field string
	}{
		"missing project": {
			env:   map[string]string{},
			field: "Firestore.ProjectID",
		},
		"stripe without key": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_PSP_PROVIDER": "stripe"},
			field: "PSP.StripeAPIKey",
		},
		"unknown provider": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_PSP_PROVIDER": "paypal"},
			field: "PSP.Provider",
		},
		"success rate out of range": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_PSP_SIMULATED_SUCCESS_RATE": "1.5"},
			field: "PSP.SimulatedSuccessRate",
		},
		"fee rate too high": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_PRICING_PLATFORM_FEE_RATE": "1"},
			field: "Pricing.PlatformFeeRate",
		},
		"zero transaction attempts": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_FIRESTORE_TX_ATTEMPTS": "0"},
			field: "Firestore.TxAttempts",
		},
		"bad base currency": {
			env:   map[string]string{"API_FIRESTORE_PROJECT_ID": "p", "API_PRICING_BASE_CURRENCY": "POUNDS"},
			field: "Pricing.BaseCurrency",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(t, tc.env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range validation.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "p",
		"API_PSP_STRIPE_API_KEY":   "secret://missing",
	}
	_, err := load(t, env)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{"API_FIRESTORE_PROJECT_ID": "p"}, WithRequiredSecrets("PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("PSP.StripeAPIKey") {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestLoadCurrencyRoutesSkipsMalformedEntries(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_FIRESTORE_PROJECT_ID": "p",
		"API_PSP_CURRENCY_ROUTES":  "EUR=stripe,broken,=simulated,USD=",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.PSP.CurrencyRoutes) != 1 || cfg.PSP.CurrencyRoutes["EUR"] != "stripe" {
		t.Fatalf("unexpected currency routes %v", cfg.PSP.CurrencyRoutes)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}
	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}
