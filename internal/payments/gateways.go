package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Gateway identifiers registered by the checkout API.
const (
	GatewayCOD     = "cod"
	GatewayPrepaid = "gokwik_prepaid"
	GatewayWallet  = "wallet"
)

// ErrUnsupportedGateway is returned when the registry cannot locate a gateway.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// Gateway describes a payment method the store can bind an order to.
type Gateway struct {
	ID          string
	Title       string
	Description string
	// Prepaid gateways settle before fulfilment, so orders placed through them may be marked paid.
	Prepaid bool
	Enabled bool
}

// VisibilityContext carries the per-cart facts visibility filters decide on.
type VisibilityContext struct {
	CheckoutEnabled bool
	CodAvailable    bool
	CodBlocked      bool
}

// VisibilityFilter narrows the gateways offered for a cart. Filters run in registration order.
type VisibilityFilter func(ctx context.Context, gateways []Gateway, in VisibilityContext) []Gateway

// Registry resolves gateways by id and applies the visibility filters.
type Registry struct {
	gateways map[string]Gateway
	order    []string
	filters  []VisibilityFilter
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithVisibilityFilter appends a filter applied by Visible.
func WithVisibilityFilter(filter VisibilityFilter) RegistryOption {
	return func(r *Registry) {
		if filter != nil {
			r.filters = append(r.filters, filter)
		}
	}
}

// NewRegistry constructs a Registry over the supplied gateways, keeping their order.
func NewRegistry(gateways []Gateway, opts ...RegistryOption) (*Registry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gateway := range gateways {
		key := normalizeID(gateway.ID)
		if key == "" {
			return nil, fmt.Errorf("payments: invalid gateway registration %q", gateway.ID)
		}
		if _, dup := r.gateways[key]; dup {
			return nil, fmt.Errorf("payments: gateway %q registered twice", key)
		}
		gateway.ID = key
		r.gateways[key] = gateway
		r.order = append(r.order, key)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultGateways returns the gateways served by the checkout API.
func DefaultGateways(codEnabled, walletEnabled bool) []Gateway {
	return []Gateway{
		{ID: GatewayCOD, Title: "Cash on delivery", Description: "Pay with cash upon delivery.", Enabled: codEnabled},
		{ID: GatewayPrepaid, Title: "Pay Online", Description: "UPI, cards, wallets and net banking.", Prepaid: true, Enabled: true},
		{ID: GatewayWallet, Title: "Wallet", Description: "Pay using the store wallet balance.", Prepaid: true, Enabled: walletEnabled},
	}
}

// Lookup returns the gateway registered under id.
func (r *Registry) Lookup(id string) (Gateway, error) {
	if r == nil {
		return Gateway{}, errors.New("payments: registry is nil")
	}
	gateway, ok := r.gateways[normalizeID(id)]
	if !ok {
		return Gateway{}, ErrUnsupportedGateway
	}
	return gateway, nil
}

// Available returns the enabled gateways in registration order.
func (r *Registry) Available() []Gateway {
	if r == nil {
		return nil
	}
	out := make([]Gateway, 0, len(r.order))
	for _, key := range r.order {
		if gateway := r.gateways[key]; gateway.Enabled {
			out = append(out, gateway)
		}
	}
	return out
}

// Visible returns the enabled gateways after every visibility filter ran.
func (r *Registry) Visible(ctx context.Context, in VisibilityContext) []Gateway {
	gateways := r.Available()
	if r == nil {
		return gateways
	}
	for _, filter := range r.filters {
		gateways = filter(ctx, gateways, in)
	}
	return gateways
}

// FilterVisibleGateways hides the hosted prepaid gateway when checkout is switched off and COD when
// the cart is not eligible for it.
func FilterVisibleGateways(_ context.Context, gateways []Gateway, in VisibilityContext) []Gateway {
	out := gateways[:0:0]
	for _, gateway := range gateways {
		switch gateway.ID {
		case GatewayPrepaid:
			if !in.CheckoutEnabled {
				continue
			}
		case GatewayCOD:
			if !in.CodAvailable || in.CodBlocked {
				continue
			}
		}
		out = append(out, gateway)
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
