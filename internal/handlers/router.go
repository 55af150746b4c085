package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	aliasPaths  []string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	cart     RouteRegistrar
	checkout RouteRegistrar

	// protected runs on every cart and checkout route, after rate limiting.
	protected []func(http.Handler) http.Handler
	limiter   rateLimiter
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix   = "/api/v1"
	legacyCartPrefix   = "/wp-json/gokwik/v1"
	defaultTimeout     = 60 * time.Second
	errorNotFoundCode  = "route_not_found"
	errorMethodCode    = "method_not_allowed"
	notImplementedCode = "not_implemented"
)

// NewRouter constructs the chi router with shared middleware and the checkout route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:   defaultAPIPrefix,
		aliasPaths: []string{legacyCartPrefix},
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorMethodCode, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	groupMW := make([]func(http.Handler) http.Handler, 0, len(cfg.protected)+1)
	if cfg.limiter != nil {
		groupMW = append(groupMW, rateLimitMiddleware(cfg.limiter))
	}
	groupMW = append(groupMW, cfg.protected...)

	mount := func(api chi.Router, path string, registrar RouteRegistrar, name string) {
		api.Route(path, func(group chi.Router) {
			for _, mw := range groupMW {
				if mw != nil {
					group.Use(mw)
				}
			}
			if registrar != nil {
				registrar(group)
				return
			}
			registerNotImplemented(group, name)
		})
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		mount(api, "/cart", cfg.cart, "cart")
		mount(api, "/checkout", cfg.checkout, "checkout")
	})

	// The hosted checkout client still calls the storefront plugin path for cart routes.
	for _, alias := range cfg.aliasPaths {
		if alias == "" || alias == cfg.basePath {
			continue
		}
		r.Route(alias, func(api chi.Router) {
			mount(api, "/cart", cfg.cart, "cart")
		})
	}

	return r
}

// WithBasePath overrides the API prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithAliasPaths replaces the prefixes the cart routes are additionally served under.
func WithAliasPaths(paths ...string) Option {
	return func(cfg *routerConfig) {
		cfg.aliasPaths = append([]string(nil), paths...)
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes configures the registrar responsible for cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.cart = reg
	}
}

// WithCheckoutRoutes configures the registrar responsible for checkout helper endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithProtectedMiddlewares configures middlewares applied to the cart and checkout groups, such as
// app credential checks.
func WithProtectedMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.protected = append(cfg.protected, mw...)
	}
}

// WithRateLimit throttles the cart and checkout groups per app id.
func WithRateLimit(perMinute, burst int) Option {
	return func(cfg *routerConfig) {
		cfg.limiter = newAppRateLimiter(perMinute, burst, nil)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(notImplementedCode, fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}
