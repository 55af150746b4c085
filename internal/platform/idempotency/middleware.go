package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// ReplayHeader marks responses served from the store.
const ReplayHeader = "X-Idempotent-Replay"

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	optional bool
	now      func() time.Time
	logger   *zap.Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*guard)

// WithHeader overrides the "Idempotency-Key" request header.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey passes requests without a key straight through instead of rejecting them.
// The hosted checkout only sends a key on retries it generated itself.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(now func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Middleware guards POST requests. The first response for a key is stored and replayed to every
// retry with the same body; 5xx responses are not stored so they stay retryable.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: "Idempotency-Key",
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(next, w, r)
		})
	}
}

func (g *guard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_key_required", "Idempotency key header is missing.", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_read_body_failed", "Unable to read request body.", http.StatusBadRequest))
		return
	}

	caller := "anonymous"
	if app, ok := auth.AppFromContext(ctx); ok && app.ID != "" {
		caller = app.ID
	}
	scoped := key + "|" + caller
	fingerprint := fingerprintRequest(r, body, caller)
	logger := g.logger.With(zap.String("idempotency_key", key), zap.String("caller", caller))

	outcome, record, err := g.store.Begin(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_key_conflict", "Idempotency key was already used for a different request.", http.StatusConflict))
		return
	case err != nil:
		logger.Error("idempotency begin failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_store_error", "Unable to process idempotency key.", http.StatusInternalServerError))
		return
	case outcome == Replay:
		replay(w, record)
		return
	case outcome == InFlight:
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_in_progress", "Another request is processing this idempotency key.", http.StatusConflict))
		return
	}

	capture := &capturingWriter{header: make(http.Header)}
	next.ServeHTTP(capture, r)

	if capture.statusCode() >= http.StatusInternalServerError {
		if err := g.store.Abandon(ctx, scoped, fingerprint); err != nil {
			logger.Warn("idempotency abandon failed", zap.Error(err))
		}
		capture.flush(w)
		return
	}
	resp := Response{Status: capture.statusCode(), Header: capture.header, Body: capture.body.Bytes()}
	if err := g.store.Complete(ctx, scoped, fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
		logger.Error("idempotency complete failed", zap.Error(err))
		if err := g.store.Abandon(ctx, scoped, fingerprint); err != nil {
			logger.Warn("idempotency abandon failed", zap.Error(err))
		}
		httpx.WriteError(ctx, w, httpx.NewError("gc_idempotency_store_error", "Unable to persist idempotency state.", http.StatusInternalServerError))
		return
	}
	capture.flush(w)
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest binds a key to one request: method, target, content type, caller and body.
func fingerprintRequest(r *http.Request, body []byte, caller string) string {
	parts := []string{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), caller, hashHex(body)}
	return hashHex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(ReplayHeader, "true")
	status := record.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

// capturingWriter buffers the handler output until the store has accepted it.
type capturingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) Header() http.Header { return c.header }

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capturingWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capturingWriter) flush(w http.ResponseWriter) {
	header := w.Header()
	for name, values := range c.header {
		header[name] = values
	}
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}
