package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// RegistryOptions tunes the repositories assembled by NewRegistry.
type RegistryOptions struct {
	Session       []SessionRepositoryOption
	Counter       []CounterOption
	Health        repositories.HealthRepository
	CloseProvider bool
}

// Registry exposes the Firestore repositories behind the repositories.Registry contract.
type Registry struct {
	provider      *pfirestore.Provider
	closeProvider bool

	sessions  *SessionRepository
	customers *CustomerRepository
	coupons   *CouponRepository
	catalog   *CatalogRepository
	zones     *ShippingZoneRepository
	orders    *OrderRepository
	settings  *MerchantSettingsRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts RegistryOptions) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	reg := &Registry{provider: provider, closeProvider: opts.CloseProvider, health: opts.Health}

	var err error
	if reg.counters, err = NewCounterRepository(provider, opts.Counter...); err != nil {
		return nil, fmt.Errorf("counter repository: %w", err)
	}
	if reg.sessions, err = NewSessionRepository(provider, opts.Session...); err != nil {
		return nil, fmt.Errorf("session repository: %w", err)
	}
	if reg.customers, err = NewCustomerRepository(provider, reg.counters); err != nil {
		return nil, fmt.Errorf("customer repository: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("coupon repository: %w", err)
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, fmt.Errorf("catalog repository: %w", err)
	}
	if reg.zones, err = NewShippingZoneRepository(provider); err != nil {
		return nil, fmt.Errorf("shipping zone repository: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	if reg.settings, err = NewMerchantSettingsRepository(provider); err != nil {
		return nil, fmt.Errorf("merchant settings repository: %w", err)
	}
	return reg, nil
}

// Close releases the provider when the registry owns it.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || !r.closeProvider {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Sessions() repositories.SessionRepository { return r.sessions }

func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) ShippingZones() repositories.ShippingZoneRepository { return r.zones }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) MerchantSettings() repositories.MerchantSettingsRepository { return r.settings }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository, which may be nil.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
