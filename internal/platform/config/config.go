package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
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
	defaultRequestTimeout       = 25 * time.Second
	defaultRateLimitPerMinute   = 300
	defaultRateLimitBurst       = 60
	defaultSecurityEnvironment  = "local"
	defaultRedisKeyPrefix       = "checkout:"
	defaultWalletTimeout        = 5 * time.Second
	defaultGeoEndpoint          = "https://ipapi.co/%s/country/"
	defaultGeoCacheTTL          = 24 * time.Hour
	defaultGeoTimeout           = 3 * time.Second
	defaultAbandonedCartSink    = AbandonedCartSinkNone
	defaultShippingRateCacheTTL = 30 * time.Minute
	defaultOrderNumberPadLength = 0
	defaultPlacementClaimTTL    = 30 * time.Second
	defaultMerchantCurrency     = "INR"
	defaultMerchantCartPath     = "/cart/"
	defaultMerchantCheckoutPath = "/checkout/"
	defaultMerchantSettingsTTL  = time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Abandoned cart sinks understood by the loader.
const (
	AbandonedCartSinkNone   = "none"
	AbandonedCartSinkPubSub = "pubsub"
	AbandonedCartSinkKafka  = "kafka"
)

// Idempotency stores understood by the loader.
const (
	IdempotencyStoreMemory    = "memory"
	IdempotencyStoreRedis     = "redis"
	IdempotencyStoreFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Redis         RedisConfig
	Wallet        WalletConfig
	Geo           GeoConfig
	AbandonedCart AbandonedCartConfig
	Shipping      ShippingConfig
	Orders        OrderConfig
	Merchant      MerchantConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the cache used for shipping rates, geo lookups and placement claims.
// An empty Addr disables every Redis-backed component.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// WalletConfig configures the external stored-credit ledger. An empty BaseURL means the ledger
// is not installed.
type WalletConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GeoConfig configures IP country lookups.
type GeoConfig struct {
	Enabled  bool
	Endpoint string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// AbandonedCartConfig selects where recovery records are published.
type AbandonedCartConfig struct {
	Sink         string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// ShippingConfig carries shipping pricing inputs.
type ShippingConfig struct {
	TaxRate      decimal.Decimal
	RateCacheTTL time.Duration
}

// OrderConfig controls order numbering and placement claims.
type OrderConfig struct {
	NumberPrefix      string
	NumberPadLength   int
	SequenceSeeds     map[string]int64
	PlacementClaimTTL time.Duration
}

// MerchantConfig holds the static store settings. Settings carries raw store option overrides
// keyed by option name (with or without the wc_settings_gokwik_ prefix).
type MerchantConfig struct {
	Currency            string
	StoreURL            string
	CartPath            string
	CheckoutPath        string
	PlaceholderImageURL string
	Settings            map[string]string
	SettingsTTL         time.Duration
}

// RateLimitConfig controls request throttling per app id.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// SecurityConfig groups the app credentials the hosted checkout presents on every call.
type SecurityConfig struct {
	Environment string
	AppID       string
	AppSecret   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Store            string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader (e.g. "Security.AppSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	taxRate, err := decimalWithDefault(lookup, "API_SHIPPING_TAX_RATE", decimal.Zero)
	if err != nil {
		invalid = append(invalid, "Shipping.TaxRate")
	}
	seeds, err := seedsWithDefault(lookup, "API_ORDERS_SEQUENCE_SEEDS")
	if err != nil {
		invalid = append(invalid, "Orders.SequenceSeeds")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "API_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "API_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Wallet: WalletConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "API_WALLET_BASE_URL", ""), "/"),
			APIKey:  stringWithDefault(lookup, "API_WALLET_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "API_WALLET_TIMEOUT", defaultWalletTimeout),
		},
		Geo: GeoConfig{
			Enabled:  boolWithDefault(lookup, "API_GEO_ENABLED", true),
			Endpoint: stringWithDefault(lookup, "API_GEO_ENDPOINT", defaultGeoEndpoint),
			CacheTTL: durationWithDefault(lookup, "API_GEO_CACHE_TTL", defaultGeoCacheTTL),
			Timeout:  durationWithDefault(lookup, "API_GEO_TIMEOUT", defaultGeoTimeout),
		},
		AbandonedCart: AbandonedCartConfig{
			Sink:         strings.ToLower(stringWithDefault(lookup, "API_ABANDONED_CART_SINK", defaultAbandonedCartSink)),
			PubSubTopic:  stringWithDefault(lookup, "API_ABANDONED_CART_PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "API_ABANDONED_CART_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_ABANDONED_CART_KAFKA_TOPIC", ""),
		},
		Shipping: ShippingConfig{
			TaxRate:      taxRate,
			RateCacheTTL: durationWithDefault(lookup, "API_SHIPPING_RATE_CACHE_TTL", defaultShippingRateCacheTTL),
		},
		Orders: OrderConfig{
			NumberPrefix:      stringWithDefault(lookup, "API_ORDERS_NUMBER_PREFIX", ""),
			NumberPadLength:   intWithDefault(lookup, "API_ORDERS_NUMBER_PAD_LENGTH", defaultOrderNumberPadLength),
			SequenceSeeds:     seeds,
			PlacementClaimTTL: durationWithDefault(lookup, "API_ORDERS_PLACEMENT_CLAIM_TTL", defaultPlacementClaimTTL),
		},
		Merchant: MerchantConfig{
			Currency:            strings.ToUpper(stringWithDefault(lookup, "API_MERCHANT_CURRENCY", defaultMerchantCurrency)),
			StoreURL:            strings.TrimRight(stringWithDefault(lookup, "API_MERCHANT_STORE_URL", ""), "/"),
			CartPath:            stringWithDefault(lookup, "API_MERCHANT_CART_PATH", defaultMerchantCartPath),
			CheckoutPath:        stringWithDefault(lookup, "API_MERCHANT_CHECKOUT_PATH", defaultMerchantCheckoutPath),
			PlaceholderImageURL: stringWithDefault(lookup, "API_MERCHANT_PLACEHOLDER_IMAGE_URL", ""),
			Settings:            settingsWithDefault(lookup, "API_MERCHANT_SETTINGS"),
			SettingsTTL:         durationWithDefault(lookup, "API_MERCHANT_SETTINGS_TTL", defaultMerchantSettingsTTL),
		},
		RateLimits: RateLimitConfig{
			PerMinute: intWithDefault(lookup, "API_RATELIMIT_PER_MIN", defaultRateLimitPerMinute),
			Burst:     intWithDefault(lookup, "API_RATELIMIT_BURST", defaultRateLimitBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			AppID:       stringWithDefault(lookup, "API_SECURITY_APP_ID", ""),
			AppSecret:   stringWithDefault(lookup, "API_SECURITY_APP_SECRET", ""),
		},
		Idempotency: IdempotencyConfig{
			Store:            strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_STORE", IdempotencyStoreMemory)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Security.AppSecret", &cfg.Security.AppSecret},
		{"Wallet.APIKey", &cfg.Wallet.APIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Security.AppID) == "" {
		missing = append(missing, "Security.AppID")
	}
	if strings.TrimSpace(cfg.Security.AppSecret) == "" {
		missing = append(missing, "Security.AppSecret")
	}
	if cfg.Merchant.StoreURL == "" {
		missing = append(missing, "Merchant.StoreURL")
	}
	if cfg.Merchant.Currency == "" {
		missing = append(missing, "Merchant.Currency")
	}

	switch cfg.AbandonedCart.Sink {
	case AbandonedCartSinkNone:
	case AbandonedCartSinkPubSub:
		if cfg.AbandonedCart.PubSubTopic == "" {
			missing = append(missing, "AbandonedCart.PubSubTopic")
		}
	case AbandonedCartSinkKafka:
		if len(cfg.AbandonedCart.KafkaBrokers) == 0 {
			missing = append(missing, "AbandonedCart.KafkaBrokers")
		}
		if cfg.AbandonedCart.KafkaTopic == "" {
			missing = append(missing, "AbandonedCart.KafkaTopic")
		}
	default:
		missing = append(missing, "AbandonedCart.Sink")
	}

	switch cfg.Idempotency.Store {
	case IdempotencyStoreMemory, IdempotencyStoreFirestore:
	case IdempotencyStoreRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Idempotency.Store")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.RateLimits.PerMinute < 0 {
		missing = append(missing, "RateLimits.PerMinute")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func decimalWithDefault(lookup func(string) (string, bool), key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || value.IsNegative() {
		return fallback, fmt.Errorf("config: %s must be a non-negative decimal", key)
	}
	return value, nil
}

// seedsWithDefault parses "orders=1000,customers=500" into sequence starting values.
func seedsWithDefault(lookup func(string) (string, bool), key string) (map[string]int64, error) {
	seeds := make(map[string]int64)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return seeds, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, found := strings.Cut(entry, "=")
		if !found {
			return seeds, fmt.Errorf("config: %s entry %q must be name=value", key, entry)
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || parsed < 0 {
			return seeds, fmt.Errorf("config: %s entry %q must be a non-negative integer", key, entry)
		}
		seeds[strings.ToLower(strings.TrimSpace(name))] = parsed
	}
	return seeds, nil
}

// settingsWithDefault parses ";"-separated key=value store options. Values may contain commas
// since list settings are stored comma separated.
func settingsWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		values[name] = strings.TrimSpace(value)
	}
	return values
}
