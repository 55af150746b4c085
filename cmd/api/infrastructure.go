package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/cache"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/geo"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/jobs"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	"github.com/hanko-field/checkout/internal/platform/wallet"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/services"
)

// infrastructure holds the optional clients built from configuration. Interface fields stay nil
// when the backing component is not configured.
type infrastructure struct {
	redis *redis.Client

	rateCache  services.ShippingRateCache
	claims     services.PlacementClaimer
	wallet     services.WalletLedger
	recorder   services.AbandonedCartRecorder
	identities services.IdentityProvisioner
	countries  services.CountryResolver

	closers []func() error
}

func buildInfrastructure(ctx context.Context, logger *zap.Logger, cfg config.Config) (*infrastructure, error) {
	infra := &infrastructure{}

	client, err := cache.NewClient(cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logger.Info("redis not configured; rate cache, geo cache and placement claims disabled")
	case err != nil:
		return nil, fmt.Errorf("redis: %w", err)
	default:
		infra.redis = client
		infra.closers = append(infra.closers, client.Close)
		prefix := cfg.Redis.KeyPrefix
		infra.rateCache = cache.NewShippingRateCache(client, prefix, cfg.Shipping.RateCacheTTL)
		infra.claims = cache.NewPlacementClaimer(client, prefix)
	}

	if strings.TrimSpace(cfg.Wallet.BaseURL) != "" {
		infra.wallet = wallet.NewClient(cfg.Wallet, wallet.WithLogger(logger.Named("wallet")))
	}

	if cfg.Geo.Enabled {
		geoOpts := []geo.Option{geo.WithLogger(logger.Named("geo"))}
		if infra.redis != nil {
			geoOpts = append(geoOpts, geo.WithCache(cache.NewCountryCache(infra.redis, cfg.Redis.KeyPrefix, cfg.Geo.CacheTTL)))
		}
		infra.countries = geo.NewResolver(cfg.Geo, geoOpts...)
	}

	switch cfg.AbandonedCart.Sink {
	case config.AbandonedCartSinkPubSub:
		projectID := traceProjectID(cfg)
		psClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			infra.close(logger)
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := psClient.Topic(cfg.AbandonedCart.PubSubTopic)
		recorder, err := jobs.NewPubSubAbandonedCartRecorder(topic)
		if err != nil {
			_ = psClient.Close()
			infra.close(logger)
			return nil, err
		}
		infra.recorder = recorder
		infra.closers = append(infra.closers, func() error {
			topic.Stop()
			return psClient.Close()
		})
	case config.AbandonedCartSinkKafka:
		writer, err := jobs.NewKafkaWriter(cfg.AbandonedCart.KafkaBrokers, cfg.AbandonedCart.KafkaTopic)
		if err != nil {
			infra.close(logger)
			return nil, fmt.Errorf("kafka writer: %w", err)
		}
		recorder, err := jobs.NewKafkaAbandonedCartRecorder(writer)
		if err != nil {
			_ = writer.Close()
			infra.close(logger)
			return nil, err
		}
		infra.recorder = recorder
		infra.closers = append(infra.closers, recorder.Close)
	}

	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		provisioner, err := auth.NewFirebaseIdentityProvisioner(ctx, cfg.Firebase)
		if err != nil {
			logger.Warn("firebase identity provisioning disabled", zap.Error(err))
		} else {
			infra.identities = provisioner
		}
	}

	return infra, nil
}

func (i *infrastructure) close(logger *zap.Logger) {
	if i == nil {
		return
	}
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		if err := i.closers[idx](); err != nil {
			logger.Warn("infrastructure close error", zap.Error(err))
		}
	}
	i.closers = nil
}

func newIdempotencyStore(cfg config.Config, client *firestore.Client, redisClient *redis.Client) idempotency.Store {
	switch cfg.Idempotency.Store {
	case config.IdempotencyStoreRedis:
		if redisClient != nil {
			return idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix+"idem:")
		}
	case config.IdempotencyStoreFirestore:
		if client != nil {
			return idempotency.NewFirestoreStore(client)
		}
	}
	return idempotency.NewMemoryStore()
}

func newHealthRepository(client *firestore.Client, redisClient *redis.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Required: true,
			Timeout:  1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if redisClient != nil {
		r := redisClient
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return cache.Ping(ctx, r)
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}
