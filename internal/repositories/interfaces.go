package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Sessions() SessionRepository
	Customers() CustomerRepository
	Coupons() CouponRepository
	Catalog() CatalogRepository
	ShippingZones() ShippingZoneRepository
	Orders() OrderRepository
	MerchantSettings() MerchantSettingsRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SessionRepository persists checkout session snapshots keyed by the opaque session key.
// Field writes must be atomic per field and fail with a not-found error when the session is gone.
type SessionRepository interface {
	Get(ctx context.Context, key string) (domain.SessionSnapshot, error)
	UpdateField(ctx context.Context, key string, field domain.SessionField, value any) error
	RemoveAppliedCoupon(ctx context.Context, key string, code string) error
}

// CustomerRepository stores registered store accounts and their profile meta.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	UpdateMeta(ctx context.Context, customerID string, meta map[string]string) error
	SavePersistentCart(ctx context.Context, customerID string, lines []domain.SessionCartLine) error
	SetFirebaseUID(ctx context.Context, customerID string, uid string) error
}

// CouponRepository reads coupon definitions.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Coupon, error)
	ListRestrictedToEmail(ctx context.Context, email string) ([]domain.Coupon, error)
}

// CatalogRepository resolves products and the category tree.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// CategoryDescendants returns the given categories together with every descendant category id.
	CategoryDescendants(ctx context.Context, categoryIDs []string) ([]string, error)
	// ProductVariations returns the variation ids of the given parent products.
	ProductVariations(ctx context.Context, productIDs []string) ([]string, error)
}

// ShippingZoneRepository lists the configured shipping zones ordered by priority.
type ShippingZoneRepository interface {
	ListZones(ctx context.Context) ([]domain.ShippingZone, error)
}

// OrderRepository persists orders created by checkout.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindPendingBySession(ctx context.Context, sessionKey string) (domain.Order, error)
	FindLatest(ctx context.Context, filter OrderLookupFilter) (domain.Order, error)
}

// MerchantSettingsRepository loads runtime overrides of the store settings.
type MerchantSettingsRepository interface {
	Load(ctx context.Context) (map[string]string, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// OrderLookupFilter narrows FindLatest to orders matching every populated field.
type OrderLookupFilter struct {
	SessionKey    string
	Status        domain.OrderStatus
	PaymentMethod string
	BillingEmail  string
	CreatedAfter  time.Time
	DraftOnly     bool
}
