package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const sequenceCollection = "sequences"

type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	MaxValue  *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out monotonically increasing sequence values (order numbers, account
// ids) using Firestore transactions.
type CounterRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.BaseRepository[sequenceDocument]
	seeds     map[string]int64
	now       func() time.Time
}

// CounterOption customises the counter repository.
type CounterOption func(*CounterRepository)

// WithCounterSeeds sets the value a sequence starts from when its document does not exist yet,
// so numbering can continue from an existing store.
func WithCounterSeeds(seeds map[string]int64) CounterOption {
	return func(r *CounterRepository) {
		for id, seed := range seeds {
			id = strings.TrimSpace(id)
			if id != "" && seed > 0 {
				r.seeds[id] = seed
			}
		}
	}
}

// NewCounterRepository constructs a Firestore-backed sequence repository.
func NewCounterRepository(provider *pfirestore.Provider, opts ...CounterOption) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	repo := &CounterRepository{
		provider:  provider,
		sequences: pfirestore.NewBaseRepository[sequenceDocument](provider, sequenceCollection),
		seeds:     map[string]int64{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Next advances the sequence by step (minimum 1) and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		var doc sequenceDocument
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("sequences decode %s: %w", id, err)
			}
		case codes.NotFound:
			doc.Value = r.seeds[id]
		default:
			return err
		}

		value := doc.Value + step
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}
		doc.Value = value
		doc.UpdatedAt = r.now().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			counterErr.Op = "sequences.next"
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("sequences.next", err)
	}
	return next, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)
