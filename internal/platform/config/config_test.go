package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "gk-dev",
		"API_SECURITY_APP_ID":     "app-123",
		"API_SECURITY_APP_SECRET": "shh",
		"API_MERCHANT_STORE_URL":  "https://shop.example.in/",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != defaultRequestTimeout {
		t.Errorf("unexpected request timeout: %s", cfg.Server.RequestTimeout)
	}
	if cfg.Firestore.ProjectID != "gk-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Merchant.StoreURL != "https://shop.example.in" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Merchant.StoreURL)
	}
	if cfg.Merchant.Currency != "INR" || cfg.Merchant.CartPath != "/cart/" || cfg.Merchant.CheckoutPath != "/checkout/" {
		t.Errorf("unexpected merchant defaults %+v", cfg.Merchant)
	}
	if len(cfg.Merchant.Settings) != 0 {
		t.Errorf("expected no setting overrides, got %v", cfg.Merchant.Settings)
	}
	if cfg.AbandonedCart.Sink != AbandonedCartSinkNone {
		t.Errorf("expected abandoned cart sink none, got %s", cfg.AbandonedCart.Sink)
	}
	if !cfg.Geo.Enabled || cfg.Geo.CacheTTL != 24*time.Hour {
		t.Errorf("unexpected geo defaults %+v", cfg.Geo)
	}
	if !cfg.Shipping.TaxRate.IsZero() {
		t.Errorf("expected zero shipping tax, got %s", cfg.Shipping.TaxRate)
	}
	if cfg.Orders.PlacementClaimTTL != defaultPlacementClaimTTL {
		t.Errorf("unexpected claim ttl %s", cfg.Orders.PlacementClaimTTL)
	}
	if cfg.RateLimits.PerMinute != defaultRateLimitPerMinute {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.PerMinute)
	}
	if cfg.Idempotency.Store != IdempotencyStoreMemory {
		t.Errorf("expected memory idempotency store, got %s", cfg.Idempotency.Store)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIREBASE_PROJECT_ID":          "gk-prod",
		"API_FIRESTORE_PROJECT_ID":         "gk-fire",
		"API_REDIS_ADDR":                   "redis:6379",
		"API_REDIS_PASSWORD":               "secret://redis/password",
		"API_REDIS_DB":                     "2",
		"API_WALLET_BASE_URL":              "https://wallet.example.in/api/",
		"API_WALLET_API_KEY":               "secret://wallet/key",
		"API_ABANDONED_CART_SINK":          "Kafka",
		"API_ABANDONED_CART_KAFKA_BROKERS": "k1:9092, k2:9092",
		"API_ABANDONED_CART_KAFKA_TOPIC":   "abandoned-carts",
		"API_SHIPPING_TAX_RATE":            "0.18",
		"API_ORDERS_NUMBER_PREFIX":         "GK-",
		"API_ORDERS_NUMBER_PAD_LENGTH":     "6",
		"API_ORDERS_SEQUENCE_SEEDS":        "orders=1000, Customers=500",
		"API_MERCHANT_CURRENCY":            "inr",
		"API_MERCHANT_STORE_URL":           "https://shop.example.in",
		"API_MERCHANT_SETTINGS":            "section_mid=19g6jl; cod_allowed_pincodes=400001,400002;section_sandbox_mode=yes",
		"API_RATELIMIT_PER_MIN":            "600",
		"API_SECURITY_ENVIRONMENT":         "PROD",
		"API_SECURITY_APP_ID":              "app-123",
		"API_SECURITY_APP_SECRET":          "secret://checkout/app-secret",
		"API_IDEMPOTENCY_STORE":            "redis",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
	}

	secrets := map[string]string{
		"secret://redis/password":      "redis-pass",
		"secret://wallet/key":          "wallet-key",
		"secret://checkout/app-secret": "app-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "gk-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Wallet.BaseURL != "https://wallet.example.in/api" || cfg.Wallet.APIKey != "wallet-key" {
		t.Errorf("unexpected wallet config %+v", cfg.Wallet)
	}
	if cfg.AbandonedCart.Sink != AbandonedCartSinkKafka || len(cfg.AbandonedCart.KafkaBrokers) != 2 {
		t.Errorf("unexpected abandoned cart config %+v", cfg.AbandonedCart)
	}
	if cfg.Shipping.TaxRate.String() != "0.18" {
		t.Errorf("unexpected tax rate %s", cfg.Shipping.TaxRate)
	}
	if cfg.Orders.NumberPrefix != "GK-" || cfg.Orders.NumberPadLength != 6 {
		t.Errorf("unexpected order numbering %+v", cfg.Orders)
	}
	if cfg.Orders.SequenceSeeds["orders"] != 1000 || cfg.Orders.SequenceSeeds["customers"] != 500 {
		t.Errorf("unexpected sequence seeds %v", cfg.Orders.SequenceSeeds)
	}
	if cfg.Merchant.Currency != "INR" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Merchant.Currency)
	}
	if got := cfg.Merchant.Settings["cod_allowed_pincodes"]; got != "400001,400002" {
		t.Errorf("expected list setting to keep commas, got %q", got)
	}
	if cfg.Merchant.Settings["section_mid"] != "19g6jl" || cfg.Merchant.Settings["section_sandbox_mode"] != "yes" {
		t.Errorf("unexpected merchant settings %v", cfg.Merchant.Settings)
	}
	if cfg.RateLimits.PerMinute != 600 {
		t.Errorf("unexpected rate limit %d", cfg.RateLimits.PerMinute)
	}
	if cfg.Security.Environment != "prod" || cfg.Security.AppSecret != "app-secret" {
		t.Errorf("unexpected security config %+v", cfg.Security)
	}
	if cfg.Idempotency.Store != IdempotencyStoreRedis || cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=gk-dot\nexport API_SECURITY_APP_ID=\"dot-app\"\nAPI_SECURITY_APP_SECRET=dot-secret\nAPI_MERCHANT_STORE_URL=https://dot.example.in\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Security.AppID != "dot-app" {
		t.Errorf("expected quoted app id unwrapped, got %s", cfg.Security.AppID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	want := map[string]bool{"Firebase.ProjectID": true, "Security.AppID": true, "Security.AppSecret": true, "Merchant.StoreURL": true}
	for _, field := range validation.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("expected fields %v in %v", want, validation.Fields())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{name: "negative tax", key: "API_SHIPPING_TAX_RATE", value: "-0.1", field: "Shipping.TaxRate"},
		{name: "malformed seeds", key: "API_ORDERS_SEQUENCE_SEEDS", value: "orders", field: "Orders.SequenceSeeds"},
		{name: "unknown sink", key: "API_ABANDONED_CART_SINK", value: "sqs", field: "AbandonedCart.Sink"},
		{name: "pubsub without topic", key: "API_ABANDONED_CART_SINK", value: "pubsub", field: "AbandonedCart.PubSubTopic"},
		{name: "redis store without addr", key: "API_IDEMPOTENCY_STORE", value: "redis", field: "Redis.Addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			env[tc.key] = tc.value
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			fields := validation.Fields()
			if len(fields) != 1 || fields[0] != tc.field {
				t.Fatalf("expected %s, got %v", tc.field, fields)
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_SECURITY_APP_SECRET"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Wallet.APIKey", "Security.AppSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Wallet.APIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Wallet.APIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Wallet.APIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_SECURITY_APP_SECRET"] = "sm://checkout/app-secret"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://checkout/app-secret" {
			return "legacy-secret", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Security.AppSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Security.AppSecret)
	}
}
