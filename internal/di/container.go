package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/services"
)

// Infrastructure carries the optional collaborators built outside the repository layer. A nil
// field disables the feature it backs.
type Infrastructure struct {
	RateCache  services.ShippingRateCache
	Claims     services.PlacementClaimer
	Wallet     services.WalletLedger
	Recorder   services.AbandonedCartRecorder
	Identities services.IdentityProvisioner
	Countries  services.CountryResolver
	Logger     *zap.Logger
	Clock      func() time.Time
	Build      services.BuildInfo
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Sessions services.CheckoutSessionService
	Orders   services.OrderPlacementService
	Script   services.CheckoutScriptService
	System   services.SystemService
	Gateways *payments.Registry
	Merchant *services.MerchantConfigProvider
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
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

// MerchantBase converts static configuration into the merchant config the settings overlay starts from.
func MerchantBase(cfg config.MerchantConfig) domain.MerchantConfig {
	base := domain.MerchantConfig{
		Currency:            cfg.Currency,
		StoreURL:            cfg.StoreURL,
		CartPath:            cfg.CartPath,
		CheckoutPath:        cfg.CheckoutPath,
		PlaceholderImageURL: cfg.PlaceholderImageURL,
	}
	return services.ApplyMerchantSettings(base, cfg.Settings)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	events := func(component string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger, component)
	}

	var svc Services

	merchant, err := services.NewMerchantConfigProvider(services.MerchantConfigProviderDeps{
		Base:     MerchantBase(cfg.Merchant),
		Settings: reg.MerchantSettings(),
		TTL:      cfg.Merchant.SettingsTTL,
		Clock:    clock,
		Logger:   events("merchant"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build merchant config: %w", err)
	}
	svc.Merchant = merchant

	// COD stays registered; the merchant flag and cart eligibility decide per cart whether it shows.
	gateways, err := payments.NewRegistry(
		payments.DefaultGateways(true, infra.Wallet != nil),
		payments.WithVisibilityFilter(payments.FilterVisibleGateways),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build gateway registry: %w", err)
	}
	svc.Gateways = gateways

	sessions, err := services.NewSessionStore(reg.Sessions(), events("sessions"))
	if err != nil {
		return Services{}, fmt.Errorf("build session store: %w", err)
	}

	calculator, err := services.NewZoneRateCalculator(reg.ShippingZones(), cfg.Shipping.TaxRate)
	if err != nil {
		return Services{}, fmt.Errorf("build shipping calculator: %w", err)
	}

	engine, err := services.NewCartEngine(services.CartEngineDeps{
		Catalog:   reg.Catalog(),
		Coupons:   reg.Coupons(),
		Shipping:  calculator,
		RateCache: infra.RateCache,
		TaxRate:   cfg.Shipping.TaxRate,
		Clock:     clock,
		Logger:    events("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart engine: %w", err)
	}

	guard, err := services.NewEligibilityGuard(reg.Catalog(), events("eligibility"))
	if err != nil {
		return Services{}, fmt.Errorf("build eligibility guard: %w", err)
	}

	recovery, err := services.NewCartRecovery(services.CartRecoveryDeps{
		Orders:   reg.Orders(),
		Sessions: sessions,
		Recorder: infra.Recorder,
		Gateways: gateways,
		Clock:    clock,
		Logger:   events("recovery"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart recovery: %w", err)
	}

	svc.Sessions, err = services.NewCheckoutSessionService(services.CheckoutSessionServiceDeps{
		Sessions:  sessions,
		Engine:    engine,
		Guard:     guard,
		Merchant:  merchant,
		Customers: reg.Customers(),
		Coupons:   reg.Coupons(),
		Gateways:  gateways,
		Wallet:    infra.Wallet,
		Recovery:  recovery,
		Logger:    events("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout session service: %w", err)
	}

	numbers, err := services.NewOrderNumbers(services.OrderNumbersDeps{
		Counters:  reg.Counters(),
		Prefix:    cfg.Orders.NumberPrefix,
		PadLength: cfg.Orders.NumberPadLength,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order numbers: %w", err)
	}

	svc.Orders, err = services.NewOrderPlacementService(services.OrderPlacementServiceDeps{
		Sessions:   sessions,
		Engine:     engine,
		Customers:  reg.Customers(),
		Orders:     reg.Orders(),
		Merchant:   merchant,
		Gateways:   gateways,
		Numbers:    numbers,
		Claims:     infra.Claims,
		Identities: infra.Identities,
		ClaimTTL:   cfg.Orders.PlacementClaimTTL,
		Clock:      clock,
		Logger:     events("placement"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order placement service: %w", err)
	}

	svc.Script, err = services.NewCheckoutScriptService(services.CheckoutScriptServiceDeps{
		Sessions:  sessions,
		Engine:    engine,
		Guard:     guard,
		Customers: reg.Customers(),
		Orders:    reg.Orders(),
		Merchant:  merchant,
		Gateways:  gateways,
		Countries: infra.Countries,
		Logger:    events("script"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout script service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Probes:           map[string]services.ReadinessProbe{"merchantConfig": services.MerchantConfigProbe(svc.Merchant)},
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
