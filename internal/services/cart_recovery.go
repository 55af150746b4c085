package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

// abandonedCartOpenStatus marks a recovery record that has not turned into an order.
const abandonedCartOpenStatus = "normal"

// CartRecoveryDeps wires the pending-order and abandoned-cart side effects of cart reads.
type CartRecoveryDeps struct {
	Orders   repositories.OrderRepository
	Sessions *SessionStore
	Recorder AbandonedCartRecorder
	Gateways *payments.Registry
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// CartRecovery exposes cart intent to recovery tooling before checkout completes.
type CartRecovery struct {
	orders   repositories.OrderRepository
	sessions *SessionStore
	recorder AbandonedCartRecorder
	gateways *payments.Registry
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCartRecovery validates dependencies. A nil recorder disables abandoned-cart records.
func NewCartRecovery(deps CartRecoveryDeps) (*CartRecovery, error) {
	if deps.Orders == nil {
		return nil, errors.New("cart recovery: order repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("cart recovery: session store is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("cart recovery: gateway registry is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartRecovery{
		orders:   deps.Orders,
		sessions: deps.Sessions,
		recorder: deps.Recorder,
		gateways: deps.Gateways,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Track runs the recovery side effect of a cart read. Failures are logged and never returned.
func (r *CartRecovery) Track(ctx context.Context, loaded *loadedSession) {
	snapshot := loaded.Snapshot
	validPhone := snapshot.Customer.ValidPhone()

	if loaded.Merchant.PendingOrderFlow {
		if !validPhone && !isPlacementMethod(snapshot.ChosenPaymentMethod) {
			return
		}
		if _, err := r.SyncPendingOrder(ctx, loaded); err != nil {
			r.logger(ctx, "recovery.pending_order_failed", map[string]any{
				"sessionKey": snapshot.Key,
				"error":      err.Error(),
			})
		}
		r.recordAbandonedCart(ctx, loaded)
		return
	}
	if validPhone {
		r.recordAbandonedCart(ctx, loaded)
	}
}

// SyncPendingOrder creates the draft order of a session or refreshes the existing one from the cart.
func (r *CartRecovery) SyncPendingOrder(ctx context.Context, loaded *loadedSession) (domain.Order, error) {
	if loaded.Cart.Empty() {
		return domain.Order{}, ErrCartEmpty
	}
	key := loaded.Snapshot.Key
	now := r.now()

	order, err := r.orders.FindPendingBySession(ctx, key)
	exists := err == nil
	if err != nil {
		if !isRepoNotFound(err) {
			return domain.Order{}, dependencyError(err)
		}
		order = domain.Order{
			ID:         ulid.Make().String(),
			Status:     domain.OrderStatusPending,
			CreatedVia: checkoutCreatedVia,
			CreatedAt:  now,
			Draft:      true,
		}
		order.SetMeta(domain.OrderMetaSessionKey, key)
	}

	applyCartToOrder(&order, loaded.Cart)
	if loaded.Account != nil {
		order.Billing = loaded.Account.BillingAddress()
		order.Shipping = loaded.Account.ShippingAddress()
	} else {
		order.Billing, order.Shipping = addressesFromSession(loaded.Snapshot.Customer)
	}
	if loaded.Account != nil {
		order.CustomerID = loaded.Account.ID
	}
	if method := strings.TrimSpace(loaded.Snapshot.ChosenPaymentMethod); method != "" {
		if gateway, err := r.gateways.Lookup(method); err == nil {
			order.PaymentMethod = gateway.ID
			order.PaymentMethodTitle = gateway.Title
		}
	}
	order.SetMeta(domain.OrderMetaIsVatExempt, yesNo(loaded.Snapshot.Customer.IsVatExempt))
	order.UpdatedAt = now

	if exists {
		if err := r.orders.Update(ctx, order); err != nil {
			return domain.Order{}, dependencyError(err)
		}
		return order, nil
	}
	created, err := r.orders.Insert(ctx, order)
	if err != nil {
		return domain.Order{}, dependencyError(err)
	}
	return created, nil
}

func (r *CartRecovery) recordAbandonedCart(ctx context.Context, loaded *loadedSession) {
	if r.recorder == nil || !loaded.Merchant.AbandonedCartEnabled {
		return
	}
	snapshot := loaded.Snapshot
	customer := snapshot.Customer

	sessionID := strings.TrimSpace(snapshot.AbandonedCartID)
	fresh := sessionID == ""
	if fresh {
		sessionID = ulid.Make().String()
	}
	record := domain.AbandonedCart{
		SessionID:    sessionID,
		SessionKey:   snapshot.Key,
		Email:        customer.Email,
		CartContents: loaded.Cart.SnapshotLines(),
		CartTotal:    domain.FormatAmount(loaded.Cart.Total()),
		Time:         r.now(),
		OtherFields: map[string]string{
			"wcf_billing_company":     customer.Company,
			"wcf_billing_address_1":   customer.Address1,
			"wcf_billing_address_2":   customer.Address2,
			"wcf_billing_state":       customer.State,
			"wcf_billing_postcode":    customer.Postcode,
			"wcf_shipping_first_name": customer.ShippingFirstName,
			"wcf_shipping_last_name":  customer.ShippingLastName,
			"wcf_shipping_company":    customer.ShippingCompany,
			"wcf_shipping_country":    customer.ShippingCountry,
			"wcf_shipping_address_1":  customer.ShippingAddress1,
			"wcf_shipping_address_2":  customer.ShippingAddress2,
			"wcf_shipping_city":       customer.ShippingCity,
			"wcf_shipping_state":      customer.ShippingState,
			"wcf_shipping_postcode":   customer.ShippingPostcode,
			"wcf_order_comments":      customer.OrderComments,
			"wcf_first_name":          customer.FirstName,
			"wcf_last_name":           customer.LastName,
			"wcf_phone_number":        customer.Phone,
			"wcf_location":            customer.Country,
		},
		CheckoutID:  loaded.Merchant.CartPath,
		OrderStatus: abandonedCartOpenStatus,
	}
	if err := r.recorder.RecordAbandonedCart(ctx, record); err != nil {
		r.logger(ctx, "recovery.abandoned_cart_failed", map[string]any{
			"sessionKey": snapshot.Key,
			"error":      err.Error(),
		})
		return
	}
	if fresh {
		if err := r.sessions.WriteField(ctx, snapshot.Key, domain.SessionFieldAbandonedCartID, sessionID); err != nil {
			r.logger(ctx, "recovery.abandoned_cart_link_failed", map[string]any{
				"sessionKey": snapshot.Key,
				"error":      err.Error(),
			})
		}
	}
}

// isPlacementMethod reports whether method is one placement accepts.
func isPlacementMethod(method string) bool {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case domain.PaymentMethodCOD, domain.PaymentMethodPrepaid, domain.PaymentMethodWallet:
		return true
	default:
		return false
	}
}
