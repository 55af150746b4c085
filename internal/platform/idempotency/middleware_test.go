package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/platform/auth"
)

func newPost(path, body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	return payload.Code
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"order_id":"ord-1"}`))
	})
}

func TestMiddlewareRequiresKeyByDefault(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost("/api/v1/cart/place-order", `{}`, ""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "gc_idempotency_key_required", errorCode(t, rr))
	assert.Zero(t, calls)
}

func TestMiddlewareOptionalKeyAndNonPostPassThrough(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithOptionalKey())(countingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newPost("/api/v1/cart/place-order", `{}`, ""))
	}
	get := httptest.NewRequest(http.MethodGet, "/api/v1/cart/session", nil)
	get.Header.Set("Idempotency-Key", "k")
	handler.ServeHTTP(httptest.NewRecorder(), get)
	handler.ServeHTTP(httptest.NewRecorder(), get)
	assert.Equal(t, 4, calls)
}

func TestMiddlewareReplaysFirstResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newPost("/api/v1/cart/place-order", `{"session_key":"s1"}`, "abc"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newPost("/api/v1/cart/place-order", `{"session_key":"s1"}`, "abc"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.Empty(t, first.Header().Get(ReplayHeader))
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newPost("/api/v1/cart/place-order", `{"session_key":"s1"}`, "same"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost("/api/v1/cart/place-order", `{"session_key":"s2"}`, "same"))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "gc_idempotency_key_conflict", errorCode(t, rr))
	assert.Equal(t, 1, calls)
}

func TestMiddlewareInFlightKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := newPost("/api/v1/cart/deduct-wallet-balance", `{"amount":"10"}`, "busy")
	fp := fingerprintRequest(req, []byte(`{"amount":"10"}`), "anonymous")
	_, _, err := store.Begin(context.Background(), "busy|anonymous", fp, fixedTime, time.Hour)
	require.NoError(t, err)

	calls := 0
	rr := httptest.NewRecorder()
	Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusOK)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "gc_idempotency_in_progress", errorCode(t, rr))
	assert.Zero(t, calls)
}

func TestMiddlewareServerErrorsStayRetryable(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newPost("/api/v1/cart/deduct-wallet-balance", `{"amount":"10"}`, "retry"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newPost("/api/v1/cart/deduct-wallet-balance", `{"amount":"10"}`, "retry"))

	assert.Equal(t, http.StatusBadGateway, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 2, calls)
}

func TestMiddlewareScopesKeysPerApp(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	for _, appID := range []string{"app-a", "app-b"} {
		req := newPost("/api/v1/cart/place-order", `{}`, "shared")
		req = req.WithContext(auth.WithApp(req.Context(), &auth.App{ID: appID}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareCompleteFailureAbandonsKey(t *testing.T) {
	store := &failingStore{}
	calls := 0
	rr := httptest.NewRecorder()
	Middleware(store)(countingHandler(&calls, http.StatusCreated)).ServeHTTP(rr, newPost("/api/v1/cart/place-order", `{}`, "k"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "gc_idempotency_store_error", errorCode(t, rr))
	assert.True(t, store.abandoned)
}

type failingStore struct {
	abandoned bool
}

func (s *failingStore) Begin(context.Context, string, string, time.Time, time.Duration) (Outcome, Record, error) {
	return Proceed, Record{}, nil
}

func (s *failingStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("write failed")
}

func (s *failingStore) Abandon(context.Context, string, string) error {
	s.abandoned = true
	return nil
}

func (s *failingStore) Sweep(context.Context, time.Time, int) (int, error) { return 0, nil }
