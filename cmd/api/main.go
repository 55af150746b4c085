// Command api serves the checkout REST API.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/checkout/internal/di"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/observability"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	shutdownGrace = 10 * time.Second
	closeTimeout  = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger.Named("api")); err != nil {
		logger.Error("checkout api stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	var missing *config.MissingSecretsError
	if errors.As(err, &missing) {
		logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	build := buildInfo(env, cfg, startedAt)

	provider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("firestore: %w", err)
	}

	infra, err := buildInfrastructure(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("infrastructure: %w", err)
	}
	defer infra.close(logger)

	health, err := newHealthRepository(firestoreClient, infra.redis, fetcher)
	if err != nil {
		logger.Warn("readiness checks disabled", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(provider, firestoreRepo.RegistryOptions{
		Counter:       []firestoreRepo.CounterOption{firestoreRepo.WithCounterSeeds(cfg.Orders.SequenceSeeds)},
		Health:        health,
		CloseProvider: true,
	})
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		RateCache:  infra.rateCache,
		Claims:     infra.claims,
		Wallet:     infra.wallet,
		Recorder:   infra.recorder,
		Identities: infra.identities,
		Countries:  infra.countries,
		Logger:     logger,
		Clock:      time.Now,
		Build:      build,
	})
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close failed", zap.Error(err))
		}
	}()

	idemStore := newIdempotencyStore(cfg, firestoreClient, infra.redis)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, logger, container.Services, idemStore, build),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("checkout api listening", zap.String("addr", server.Addr), zap.String("environment", build.Environment))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if interval := cfg.Idempotency.CleanupInterval; interval > 0 {
		group.Go(func() error {
			sweepIdempotencyKeys(gctx, logger.Named("idempotency"), idemStore, interval, cfg.Idempotency.CleanupBatchSize)
			return nil
		})
	}
	return group.Wait()
}

func newRouter(cfg config.Config, logger *zap.Logger, svc di.Services, store idempotency.Store, build services.BuildInfo) http.Handler {
	guard := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}
	httpLogger := logger.Named("http")
	projectID := traceProjectID(cfg)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithRateLimit(cfg.RateLimits.PerMinute, cfg.RateLimits.Burst),
		handlers.WithProtectedMiddlewares(auth.NewAppAuthenticator(cfg.Security.AppID, cfg.Security.AppSecret).RequireAppCredentials()),
		handlers.WithCartRoutes(handlers.NewCartHandlers(svc.Sessions, svc.Orders, handlers.WithCartIdempotency(guard)).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(svc.Script).Routes),
	)
}

// sweepIdempotencyKeys deletes expired keys until ctx ends. Redis-backed stores report nothing.
func sweepIdempotencyKeys(ctx context.Context, logger *zap.Logger, store idempotency.Store, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Sweep(runCtx, time.Now().UTC(), batch)
			cancel()
			switch {
			case err != nil:
				logger.Error("idempotency sweep failed", zap.Error(err))
			case removed > 0:
				logger.Info("idempotency sweep", zap.Int("removed", removed))
			}
		}
	}
}

func buildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	orDefault := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     orDefault(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   orDefault(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: orDefault(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
