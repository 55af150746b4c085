package handlers

import (
	"context"
	"net/http"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/services"

	"go.uber.org/zap"
)

func writeHTTPError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// writeServiceError maps checkout errors onto the error envelope. Anything else is logged and
// reported as an internal error without leaking its text.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if checkoutErr, ok := services.AsCheckoutError(err); ok {
		if checkoutErr.Err != nil {
			observability.FromContext(ctx).Warn("checkout request failed",
				zap.String("code", checkoutErr.Code),
				zap.Error(checkoutErr.Err),
			)
		}
		httpx.WriteError(ctx, w, httpx.NewErrorWithStatus(checkoutErr.Code, checkoutErr.Message, checkoutErr.Status))
		return
	}
	observability.FromContext(ctx).Error("unexpected checkout failure", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError(services.ErrCheckoutUnavailable.Code, services.ErrCheckoutUnavailable.Message, http.StatusInternalServerError))
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	writeHTTPError(ctx, w, name+"_unavailable", name+" service is unavailable", http.StatusServiceUnavailable)
}
