// Package geo resolves the country of shopper IP addresses through an HTTP lookup service.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hanko-field/checkout/internal/platform/config"
)

const (
	defaultTimeout = 3 * time.Second
	maxBody        = 256
)

// ErrDisabled is returned when lookups are switched off.
var ErrDisabled = errors.New("geo: lookups disabled")

// Cache stores resolved country codes keyed by IP.
type Cache interface {
	Get(ctx context.Context, ip string) (string, bool, error)
	Put(ctx context.Context, ip, country string) error
}

// Resolver looks up countries for IP addresses. Concurrent lookups for the same IP share one request.
type Resolver struct {
	endpoint string
	enabled  bool
	http     *http.Client
	cache    Cache
	logger   *zap.Logger
	group    singleflight.Group
}

// Option customises the resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.http = c
		}
	}
}

// WithCache plugs in a cache for resolved countries.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver constructs a resolver. The endpoint must contain a single %s placeholder for the IP.
func NewResolver(cfg config.GeoConfig, opts ...Option) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Resolver{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		enabled:  cfg.Enabled,
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.endpoint == "" || !strings.Contains(r.endpoint, "%s") {
		r.enabled = false
	}
	return r
}

// CountryForIP returns the upper-case ISO country code for ip. Private and loopback addresses
// resolve to an empty string without a lookup.
func (r *Resolver) CountryForIP(ctx context.Context, ip string) (string, error) {
	if r == nil || !r.enabled {
		return "", ErrDisabled
	}
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("geo: invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return "", nil
	}

	if r.cache != nil {
		code, ok, err := r.cache.Get(ctx, ip)
		if err != nil {
			r.logger.Warn("geo: cache read failed", zap.Error(err))
		} else if ok {
			return code, nil
		}
	}

	value, err, _ := r.group.Do(ip, func() (any, error) {
		return r.lookup(ctx, ip)
	})
	if err != nil {
		return "", err
	}
	code := value.(string)

	if r.cache != nil && code != "" {
		if err := r.cache.Put(ctx, ip, code); err != nil {
			r.logger.Warn("geo: cache write failed", zap.Error(err))
		}
	}
	return code, nil
}

func (r *Resolver) lookup(ctx context.Context, ip string) (string, error) {
	target := fmt.Sprintf(r.endpoint, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("geo: build request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo: lookup failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("geo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo: unexpected status %d", resp.StatusCode)
	}
	code := strings.ToUpper(strings.TrimSpace(string(body)))
	if len(code) != 2 {
		return "", fmt.Errorf("geo: unexpected country %q", code)
	}
	return code, nil
}
