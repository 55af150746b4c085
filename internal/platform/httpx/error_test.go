package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("gc_coupon_invalid", "Coupon\nexpired", http.StatusUnprocessableEntity))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "gc_coupon_invalid", body["code"])
	assert.Equal(t, "Coupon expired", body["message"])
	assert.Equal(t, map[string]any{
		"status":     float64(422),
		"request_id": "req-42",
		"trace_id":   "4bf92f3577b34da6a3ce929d0e0e4736",
	}, body["data"])
}

func TestNewErrorClampsStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, NewError("x", "y", 0).Status)
	assert.Equal(t, http.StatusInternalServerError, NewError("x", "y", http.StatusOK).Status)
	assert.Equal(t, http.StatusConflict, NewError("x", "y", http.StatusConflict).Status)
}

func TestNewErrorWithStatusKeepsSuccessStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, NewErrorWithStatus("gc_cart_coupon_invalid", "y", http.StatusOK).Status)
	assert.Equal(t, http.StatusInternalServerError, NewErrorWithStatus("x", "y", 0).Status)

	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewErrorWithStatus("gc_cart_coupon_does_not_exist", "Coupon does not exist.", http.StatusOK))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"code":"gc_cart_coupon_does_not_exist","message":"Coupon does not exist.","data":{"status":200}}`, rr.Body.String())
}

func TestWriteErrorOmitsMissingIDs(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
	assert.JSONEq(t, `{"code":"rate_limited","message":"too many requests","data":{"status":429}}`, rr.Body.String())
}
