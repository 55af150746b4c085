// Package secrets resolves secret:// references against Google Secret Manager, with an in-process
// cache and a local file fallback for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/hanko-field/checkout/internal/platform/secrets"

// ErrNotFound reports a secret that exists neither remotely nor in the fallback file.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references. It is safe for concurrent use.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	ttl         time.Duration
	now         func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     fallbackValues

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry

	fetches metric.Int64Counter
	latency metric.Float64Histogram
}

type cacheEntry struct {
	value   string
	expires time.Time
}

type settings struct {
	logger      *zap.Logger
	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	fallback    string
	ttl         time.Duration
	meter       metric.Meter
	client      accessClient
	clientOpts  []option.ClientOption
}

// Option configures a Fetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the entry of the project map to use.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projectMap = cloneMap(m) }
}

// WithVersionPins pins canonical references, optionally prefixed with "env:", to a version.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.versionPins = cloneMap(pins) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallback = path }
}

// WithCacheTTL expires cached values so rotated secrets are picked up. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

func withClient(client accessClient) Option {
	return func(s *settings) { s.client = client }
}

// NewFetcher never fails on missing credentials: without a client every reference is served from
// the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:   zap.NewNop(),
		env:      "local",
		fallback: ".secrets.local",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       s.client,
		logger:       s.logger,
		env:          s.env,
		project:      s.project,
		projectMap:   cloneMap(s.projectMap),
		versionPins:  cloneMap(s.versionPins),
		ttl:          s.ttl,
		now:          time.Now,
		fallbackPath: s.fallback,
		cache:        make(map[string]cacheEntry),
	}

	var err error
	if f.fetches, err = s.meter.Int64Counter("secrets.resolve.count",
		metric.WithDescription("Secret resolutions by source")); err != nil {
		return nil, fmt.Errorf("secrets: register counter: %w", err)
	}
	if f.latency, err = s.meter.Float64Histogram("secrets.remote.latency",
		metric.WithUnit("ms"), metric.WithDescription("Secret Manager access latency")); err != nil {
		return nil, fmt.Errorf("secrets: register histogram: %w", err)
	}

	if f.client == nil && f.resolveProject(Reference{}) != "" {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve returns the value for ref. Secret Manager is preferred. The fallback file is consulted
// when there is no client or the remote failure is about access, not existence.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.resolveVersion(parsed)
	project := f.resolveProject(parsed)
	key := cacheKey(project, parsed.Canonical, version)

	if value, ok := f.cached(key); ok {
		f.count(ctx, parsed, "cache")
		return value, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, parsed, project, version)
		if err != nil {
			return "", err
		}
		f.store(key, value)
		f.count(ctx, parsed, source)
		return value, nil
	})
	if err != nil {
		f.count(ctx, parsed, "error")
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops every cached version of ref in every project.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return
	}
	prefix := parsed.Canonical + "#"
	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) load(ctx context.Context, ref Reference, project, version string) (string, string, error) {
	if f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resource(project, version))
		if err == nil {
			return value, "remote", nil
		}
		switch status.Code(err) {
		case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
			f.logger.Debug("secret manager access failed, trying fallback",
				zap.String("secret", fingerprint(ref.Canonical)), zap.Error(err))
		case codes.NotFound:
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Canonical)
		default:
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.Canonical, err)
		}
	}

	values, err := f.loadFallback()
	if err != nil {
		return "", "", err
	}
	if value, ok := values.lookup(ref, version); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Canonical)
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	start := time.Now()
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond))
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) loadFallback() (fallbackValues, error) {
	var err error
	f.fallbackOnce.Do(func() {
		f.fallback, err = loadFallbackFile(f.fallbackPath)
		if err != nil {
			f.logger.Warn("secrets fallback file unreadable", zap.Error(err))
			f.fallback = fallbackValues{}
		}
	})
	return f.fallback, err
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	entry, ok := f.cache[key]
	f.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !entry.expires.IsZero() && !f.now().Before(entry.expires) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	entry := cacheEntry{value: value}
	if f.ttl > 0 {
		entry.expires = f.now().Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) resolveProject(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := strings.TrimSpace(f.projectMap[f.env]); project != "" {
		return project
	}
	if f.project != "" {
		return f.project
	}
	return strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
}

func (f *Fetcher) resolveVersion(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.env + ":" + ref.Canonical, ref.Canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) count(ctx context.Context, ref Reference, source string) {
	f.fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", fingerprint(ref.Canonical)),
	))
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
