package main

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/platform/secrets"
)

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithEnvironment(firstSet(get("API_SECURITY_ENVIRONMENT"), "local")),
		secrets.WithDefaultProject(firstSet(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID"))),
		secrets.WithFallbackFile(firstSet(get("API_SECRET_FALLBACK_FILE"), ".secrets.local")),
		secrets.WithCacheTTL(15 * time.Minute),
		secrets.WithProjectMap(secretProjectMap(get("API_SECRET_PROJECT_IDS"))),
		secrets.WithVersionPins(secretVersionPins(get("API_SECRET_VERSION_PINS"))),
	}
	if file := get("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets whose resolution failure aborts start-up. The wallet key
// and Redis password only count once their component is configured.
func requiredSecretNames(env map[string]string) []string {
	set := func(keys ...string) bool {
		for _, key := range keys {
			if strings.TrimSpace(env[key]) == "" {
				return false
			}
		}
		return true
	}
	required := []string{"Security.AppSecret"}
	if set("API_WALLET_BASE_URL", "API_WALLET_API_KEY") {
		required = append(required, "Wallet.APIKey")
	}
	if set("API_REDIS_ADDR", "API_REDIS_PASSWORD") {
		required = append(required, "Redis.Password")
	}
	slices.Sort(required)
	return required
}

// secretProjectMap parses "prod=gk-prod,stg=gk-stg".
func secretProjectMap(raw string) map[string]string {
	out := map[string]string{}
	for env, project := range pairs(raw) {
		out[strings.ToLower(env)] = project
	}
	return out
}

// secretVersionPins parses "app_secret=3,prod:wallet_api_key=7". Names are normalised to
// secret:// references; an "env:" prefix limits the pin to one environment.
func secretVersionPins(raw string) map[string]string {
	out := map[string]string{}
	for name, version := range pairs(raw) {
		var env string
		if idx := strings.Index(name, ":"); idx > 0 && !strings.HasPrefix(name[idx:], "://") {
			env, name = strings.ToLower(name[:idx])+":", name[idx+1:]
		}
		if !strings.Contains(name, "://") {
			name = "secret://" + name
		}
		ref, err := secrets.ParseReference(name)
		if err != nil {
			continue
		}
		out[env+ref.Canonical] = version
	}
	return out
}

func pairs(raw string) map[string]string {
	out := map[string]string{}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
