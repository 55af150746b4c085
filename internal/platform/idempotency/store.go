// Package idempotency replays the first response of a keyed POST to any retry carrying the same key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Outcome is what a caller must do after Begin.
type Outcome int

const (
	// Proceed means the key was claimed for this request.
	Proceed Outcome = iota
	// Replay means a completed response is stored on the returned record.
	Replay
	// InFlight means another request holds the key.
	InFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// Record is the persisted state of one key. Redis stores it as JSON, Firestore as a document.
type Record struct {
	Key         string              `json:"key" firestore:"key"`
	Fingerprint string              `json:"fingerprint" firestore:"fingerprint"`
	Completed   bool                `json:"completed" firestore:"completed"`
	StatusCode  int                 `json:"status_code,omitempty" firestore:"status_code"`
	Header      map[string][]string `json:"header,omitempty" firestore:"header"`
	Body        []byte              `json:"body,omitempty" firestore:"body"`
	CreatedAt   time.Time           `json:"created_at" firestore:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at" firestore:"expires_at"`
}

// Response is the captured handler output.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists keys. Implementations must make Begin atomic per key.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Abandon frees a key held by fingerprint so the request can be retried.
	Abandon(ctx context.Context, key, fingerprint string) error
	// Sweep deletes up to limit expired records and reports how many were removed.
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// decide applies the reuse rules to whatever is stored under a key.
func decide(existing Record, found bool, fingerprint string, now time.Time) (Outcome, error) {
	switch {
	case !found || existing.expired(now):
		return Proceed, nil
	case existing.Fingerprint != fingerprint:
		return InFlight, ErrFingerprintMismatch
	case existing.Completed:
		return Replay, nil
	default:
		return InFlight, nil
	}
}

func pending(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// completed fills r with resp. A record that vanished is recreated from key and fingerprint.
func completed(r Record, found bool, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	if found && r.Fingerprint != fingerprint {
		return Record{}, ErrFingerprintMismatch
	}
	if !found {
		r = pending(key, fingerprint, now, ttl)
	}
	r.Completed = true
	r.StatusCode = resp.Status
	r.Header = storableHeader(resp.Header)
	r.Body = append([]byte(nil), resp.Body...)
	r.ExpiresAt = now.Add(ttl)
	return r, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// documentID hashes the scoped key so it is safe as a Redis key or Firestore document id.
func documentID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]bool{
	"Connection": true, "Content-Length": true, "Date": true, "Keep-Alive": true,
	"Proxy-Authenticate": true, "Proxy-Authorization": true, "Te": true, "Trailer": true,
	"Transfer-Encoding": true, "Upgrade": true,
}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if hopHeaders[name] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
