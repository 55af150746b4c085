package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const sessionCollection = "checkout_sessions"

// SessionRepository stores checkout session snapshots keyed by the session key.
type SessionRepository struct {
	base *pfirestore.BaseRepository[sessionDocument]
	ttl  time.Duration
	now  func() time.Time
}

// SessionRepositoryOption customises the session repository.
type SessionRepositoryOption func(*SessionRepository)

// WithSessionTTL sets how long a session stays readable after its last write. Zero leaves the
// stored expiry untouched.
func WithSessionTTL(ttl time.Duration) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// WithSessionClock overrides the clock used for expiry checks.
func WithSessionClock(clock func() time.Time) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider, opts ...SessionRepositoryOption) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	repo := &SessionRepository{
		base: pfirestore.NewBaseRepository[sessionDocument](provider, sessionCollection),
		ttl:  48 * time.Hour,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Get loads the snapshot. Expired sessions are reported as not found.
func (r *SessionRepository) Get(ctx context.Context, key string) (domain.SessionSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.SessionSnapshot{}, errors.New("session repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(key))
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if !doc.Data.ExpiresAt.IsZero() && r.now().UTC().After(doc.Data.ExpiresAt) {
		return domain.SessionSnapshot{}, notFound("checkout_sessions.get", "session expired")
	}
	snapshot := decodeSession(doc.Data)
	snapshot.Key = doc.ID
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = doc.UpdateTime
	}
	return snapshot, nil
}

// UpdateField rewrites one snapshot field and slides the session expiry. The session must exist.
func (r *SessionRepository) UpdateField(ctx context.Context, key string, field domain.SessionField, value any) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	encoded, err := encodeSessionField(field, value)
	if err != nil {
		return err
	}
	updates := append([]firestore.Update{{Path: string(field), Value: encoded}}, r.touch()...)
	return r.base.Update(ctx, strings.TrimSpace(key), updates, firestore.Exists)
}

// RemoveAppliedCoupon drops a code from the applied coupon array.
func (r *SessionRepository) RemoveAppliedCoupon(ctx context.Context, key string, code string) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	updates := append([]firestore.Update{{Path: string(domain.SessionFieldAppliedCoupons), Value: firestore.ArrayRemove(code)}}, r.touch()...)
	return r.base.Update(ctx, strings.TrimSpace(key), updates, firestore.Exists)
}

// touch stamps a write and keeps an active session readable for another ttl.
func (r *SessionRepository) touch() []firestore.Update {
	now := r.now().UTC()
	updates := []firestore.Update{{Path: "updated_at", Value: now}}
	if r.ttl > 0 {
		updates = append(updates, firestore.Update{Path: "expires_at", Value: now.Add(r.ttl)})
	}
	return updates
}

func encodeSessionField(field domain.SessionField, value any) (any, error) {
	switch v := value.(type) {
	case domain.SessionCustomer:
		if field == domain.SessionFieldCustomer {
			return encodeSessionCustomer(v), nil
		}
	case []domain.SessionCartLine:
		if field == domain.SessionFieldCart {
			return encodeCartLines(v), nil
		}
	case []string:
		if field == domain.SessionFieldAppliedCoupons {
			return append([]string{}, v...), nil
		}
	case map[string]string:
		if field == domain.SessionFieldChosenShippingMethods {
			return cloneStringMap(v), nil
		}
	case string:
		switch field {
		case domain.SessionFieldChosenPaymentMethod, domain.SessionFieldCustomerEmail, domain.SessionFieldAbandonedCartID:
			return v, nil
		}
	}
	return nil, fmt.Errorf("session repository: unsupported value %T for field %s", value, field)
}

type sessionDocument struct {
	Customer              sessionCustomerDocument `firestore:"customer"`
	Cart                  []cartLineDocument      `firestore:"cart"`
	AppliedCoupons        []string                `firestore:"applied_coupons"`
	ChosenShippingMethods map[string]string       `firestore:"chosen_shipping_methods"`
	ChosenPaymentMethod   string                  `firestore:"chosen_payment_method"`
	CustomerEmail         string                  `firestore:"customer_email"`
	AbandonedCartID       string                  `firestore:"wcf_session_id"`
	Currency              string                  `firestore:"currency"`
	UpdatedAt             time.Time               `firestore:"updated_at"`
	ExpiresAt             time.Time               `firestore:"expires_at"`
}

type sessionCustomerDocument struct {
	ID                string `firestore:"id"`
	FirstName         string `firestore:"first_name"`
	LastName          string `firestore:"last_name"`
	Company           string `firestore:"company"`
	Email             string `firestore:"email"`
	Phone             string `firestore:"phone"`
	Address1          string `firestore:"address_1"`
	Address2          string `firestore:"address_2"`
	City              string `firestore:"city"`
	State             string `firestore:"state"`
	Postcode          string `firestore:"postcode"`
	Country           string `firestore:"country"`
	ShippingFirstName string `firestore:"shipping_first_name"`
	ShippingLastName  string `firestore:"shipping_last_name"`
	ShippingCompany   string `firestore:"shipping_company"`
	ShippingPhone     string `firestore:"shipping_phone"`
	ShippingAddress1  string `firestore:"shipping_address_1"`
	ShippingAddress2  string `firestore:"shipping_address_2"`
	ShippingCity      string `firestore:"shipping_city"`
	ShippingState     string `firestore:"shipping_state"`
	ShippingPostcode  string `firestore:"shipping_postcode"`
	ShippingCountry   string `firestore:"shipping_country"`
	OrderComments     string `firestore:"order_comments"`
	IsVatExempt       bool   `firestore:"is_vat_exempt"`
}

func encodeSessionCustomer(customer domain.SessionCustomer) sessionCustomerDocument {
	return sessionCustomerDocument(customer)
}

func encodeSession(snapshot domain.SessionSnapshot) sessionDocument {
	coupons := snapshot.AppliedCoupons
	if coupons == nil {
		coupons = []string{}
	}
	return sessionDocument{
		Customer:              encodeSessionCustomer(snapshot.Customer),
		Cart:                  encodeCartLines(snapshot.Cart),
		AppliedCoupons:        append([]string{}, coupons...),
		ChosenShippingMethods: cloneStringMap(snapshot.ChosenShippingMethods),
		ChosenPaymentMethod:   snapshot.ChosenPaymentMethod,
		CustomerEmail:         snapshot.CustomerEmail,
		AbandonedCartID:       snapshot.AbandonedCartID,
		Currency:              strings.ToUpper(strings.TrimSpace(snapshot.Currency)),
	}
}

func decodeSession(doc sessionDocument) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Customer:              domain.SessionCustomer(doc.Customer),
		Cart:                  decodeCartLines(doc.Cart),
		AppliedCoupons:        append([]string(nil), doc.AppliedCoupons...),
		ChosenShippingMethods: cloneStringMap(doc.ChosenShippingMethods),
		ChosenPaymentMethod:   doc.ChosenPaymentMethod,
		CustomerEmail:         doc.CustomerEmail,
		AbandonedCartID:       doc.AbandonedCartID,
		Currency:              doc.Currency,
		UpdatedAt:             doc.UpdatedAt,
		ExpiresAt:             doc.ExpiresAt,
	}
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)
