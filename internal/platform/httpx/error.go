// Package httpx writes the JSON bodies shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

// Error is rendered as the envelope the hosted checkout client parses:
//
//	{"code": "gc_...", "message": "...", "data": {"status": 409, "request_id": "...", "trace_id": "..."}}
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an error response. Statuses outside 4xx/5xx become 500.
func NewError(code, message string, status int) Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return NewErrorWithStatus(code, message, status)
}

// NewErrorWithStatus keeps any valid HTTP status, including 2xx for business failures the hosted
// client expects to read from a successful response.
func NewErrorWithStatus(code, message string, status int) Error {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, 80), Message: oneLine(message, 512), Status: status}
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

type envelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Data    envelopeData `json:"data"`
}

type envelopeData struct {
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError renders err, tagging it with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, envelope{
		Code:    err.Code,
		Message: err.Message,
		Data: envelopeData{
			Status:    err.Status,
			RequestID: oneLine(middleware.GetReqID(ctx), 80),
			TraceID:   oneLine(requestctx.TraceID(ctx), 64),
		},
	})
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// oneLine keeps client-visible strings on a single bounded line.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
