package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// ErrSessionFieldValue indicates WriteField received a value whose type does not match the field.
var ErrSessionFieldValue = errors.New("session store: invalid field value")

// SessionStore loads session snapshots and writes individual fields back.
type SessionStore struct {
	sessions repositories.SessionRepository
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSessionStore wraps the session repository.
func NewSessionStore(sessions repositories.SessionRepository, logger func(context.Context, string, map[string]any)) (*SessionStore, error) {
	if sessions == nil {
		return nil, errors.New("session store: session repository is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionStore{sessions: sessions, logger: logger}, nil
}

// Load returns the snapshot for key. Applied coupon codes are normalised on the way out.
func (s *SessionStore) Load(ctx context.Context, key string) (domain.SessionSnapshot, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.SessionSnapshot{}, ErrSessionMissingKey
	}
	snapshot, err := s.sessions.Get(ctx, key)
	if err != nil {
		return domain.SessionSnapshot{}, s.translate(ctx, "session.load_failed", key, err)
	}
	snapshot.Key = key
	snapshot.AppliedCoupons = normalizeCouponCodes(snapshot.AppliedCoupons)
	if snapshot.ChosenShippingMethods == nil {
		snapshot.ChosenShippingMethods = map[string]string{}
	}
	return snapshot, nil
}

// WriteField persists one snapshot field. The value must have the Go type associated with the field.
func (s *SessionStore) WriteField(ctx context.Context, key string, field domain.SessionField, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrSessionMissingKey
	}
	if !field.Valid() {
		return fmt.Errorf("%w: unknown field %q", ErrSessionFieldValue, field)
	}
	normalized, err := normalizeSessionValue(field, value)
	if err != nil {
		return err
	}
	if err := s.sessions.UpdateField(ctx, key, field, normalized); err != nil {
		return s.translate(ctx, "session.write_failed", key, err)
	}
	return nil
}

// RemoveCoupon removes a coupon code from the applied set by value.
func (s *SessionStore) RemoveCoupon(ctx context.Context, key, code string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrSessionMissingKey
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return ErrCouponRequired
	}
	if err := s.sessions.RemoveAppliedCoupon(ctx, key, code); err != nil {
		return s.translate(ctx, "session.coupon_remove_failed", key, err)
	}
	return nil
}

func (s *SessionStore) translate(ctx context.Context, event, key string, err error) error {
	if isRepoNotFound(err) {
		return ErrSessionNotFound.Wrap(err)
	}
	s.logger(ctx, event, map[string]any{"sessionKey": key, "error": err.Error()})
	return dependencyError(err)
}

func normalizeSessionValue(field domain.SessionField, value any) (any, error) {
	switch field {
	case domain.SessionFieldCustomer:
		switch v := value.(type) {
		case domain.SessionCustomer:
			return v, nil
		case *domain.SessionCustomer:
			if v != nil {
				return *v, nil
			}
		}
	case domain.SessionFieldCart:
		if v, ok := value.([]domain.SessionCartLine); ok {
			return v, nil
		}
	case domain.SessionFieldAppliedCoupons:
		if v, ok := value.([]string); ok {
			return normalizeCouponCodes(v), nil
		}
	case domain.SessionFieldChosenShippingMethods:
		if v, ok := value.(map[string]string); ok {
			return v, nil
		}
	case domain.SessionFieldChosenPaymentMethod, domain.SessionFieldCustomerEmail, domain.SessionFieldAbandonedCartID:
		if v, ok := value.(string); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s", ErrSessionFieldValue, value, field)
}

func normalizeCouponCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		normalized := domain.NormalizeCouponCode(code)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
