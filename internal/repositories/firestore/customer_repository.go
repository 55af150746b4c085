package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	customerCollection = "customers"
	// customerCounterID names the counter that hands out numeric account ids.
	customerCounterID = "customers"
)

// CustomerRepository persists store accounts. Account ids are numeric so that session keys can
// identify authenticated shoppers.
type CustomerRepository struct {
	base     *pfirestore.BaseRepository[customerDocument]
	counters repositories.CounterRepository
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider, counters repositories.CounterRepository) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	if counters == nil {
		return nil, errors.New("customer repository requires counter repository")
	}
	return &CustomerRepository{
		base:     pfirestore.NewBaseRepository[customerDocument](provider, customerCollection),
		counters: counters,
	}, nil
}

// FindByID loads the account by its numeric id.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}
	return decodeCustomer(doc), nil
}

// FindByEmail loads the account registered with email, compared case-insensitively.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailLower", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, notFound("customers.find_by_email", "customer not found")
	}
	return decodeCustomer(docs[0]), nil
}

// UsernameExists reports whether a login name is already taken.
func (r *CustomerRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("customer repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("username", "==", strings.TrimSpace(username)).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// Insert creates the account, allocating the next numeric id when none is set.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	id := strings.TrimSpace(customer.ID)
	if id == "" {
		next, err := r.counters.Next(ctx, customerCounterID, 1)
		if err != nil {
			return domain.Customer{}, err
		}
		id = strconv.FormatInt(next, 10)
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	if customer.UpdatedAt.IsZero() {
		customer.UpdatedAt = customer.CreatedAt
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if _, err := ref.Create(ctx, encodeCustomer(customer)); err != nil {
		return domain.Customer{}, pfirestore.WrapError("customers.insert", err)
	}
	customer.ID = id
	return customer, nil
}

// UpdateMeta merges profile meta into the account. Existing keys not in meta are kept.
func (r *CustomerRepository) UpdateMeta(ctx context.Context, customerID string, meta map[string]string) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	if len(meta) == 0 {
		return nil
	}
	updates := make([]firestore.Update, 0, len(meta)+1)
	for key, value := range meta {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"meta", key}, Value: value})
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now().UTC()})
	return r.base.Update(ctx, strings.TrimSpace(customerID), updates, firestore.Exists)
}

// SavePersistentCart stores the cart lines restored when the account signs in again.
func (r *CustomerRepository) SavePersistentCart(ctx context.Context, customerID string, lines []domain.SessionCartLine) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	return r.base.Update(ctx, strings.TrimSpace(customerID), []firestore.Update{
		{Path: "persistentCart", Value: encodeCartLines(lines)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}, firestore.Exists)
}

// SetFirebaseUID links the account to its identity provider user.
func (r *CustomerRepository) SetFirebaseUID(ctx context.Context, customerID string, uid string) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	return r.base.Update(ctx, strings.TrimSpace(customerID), []firestore.Update{
		{Path: "firebaseUid", Value: strings.TrimSpace(uid)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}, firestore.Exists)
}

type customerDocument struct {
	Email          string             `firestore:"email"`
	EmailLower     string             `firestore:"emailLower"`
	Username       string             `firestore:"username"`
	FirstName      string             `firestore:"firstName"`
	LastName       string             `firestore:"lastName"`
	DisplayName    string             `firestore:"displayName"`
	FirebaseUID    string             `firestore:"firebaseUid,omitempty"`
	Meta           map[string]string  `firestore:"meta,omitempty"`
	PersistentCart []cartLineDocument `firestore:"persistentCart,omitempty"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

func encodeCustomer(customer domain.Customer) customerDocument {
	email := strings.TrimSpace(customer.Email)
	doc := customerDocument{
		Email:       email,
		EmailLower:  strings.ToLower(email),
		Username:    strings.TrimSpace(customer.Username),
		FirstName:   strings.TrimSpace(customer.FirstName),
		LastName:    strings.TrimSpace(customer.LastName),
		DisplayName: strings.TrimSpace(customer.DisplayName),
		FirebaseUID: strings.TrimSpace(customer.FirebaseUID),
		Meta:        cloneStringMap(customer.Meta),
		CreatedAt:   customer.CreatedAt.UTC(),
		UpdatedAt:   customer.UpdatedAt.UTC(),
	}
	if len(customer.PersistentCart) > 0 {
		doc.PersistentCart = encodeCartLines(customer.PersistentCart)
	}
	return doc
}

func decodeCustomer(doc pfirestore.Document[customerDocument]) domain.Customer {
	customer := domain.Customer{
		ID:             doc.ID,
		Email:          doc.Data.Email,
		Username:       doc.Data.Username,
		FirstName:      doc.Data.FirstName,
		LastName:       doc.Data.LastName,
		DisplayName:    doc.Data.DisplayName,
		FirebaseUID:    doc.Data.FirebaseUID,
		Meta:           cloneStringMap(doc.Data.Meta),
		PersistentCart: decodeCartLines(doc.Data.PersistentCart),
		CreatedAt:      doc.Data.CreatedAt,
		UpdatedAt:      doc.Data.UpdatedAt,
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = doc.CreateTime
	}
	if customer.UpdatedAt.IsZero() {
		customer.UpdatedAt = doc.UpdateTime
	}
	return customer
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)
