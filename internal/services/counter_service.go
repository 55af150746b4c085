package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied an empty sequence name.
	ErrCounterInvalidInput = errors.New("order numbers: invalid input")
	// ErrCounterExhausted indicates the sequence reached its configured maximum.
	ErrCounterExhausted = errors.New("order numbers: exhausted")
)

// orderSequence is the counter document backing order numbers.
const orderSequence = "orders"

// OrderNumberAllocator hands out display numbers for placed orders.
type OrderNumberAllocator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// OrderNumbersDeps configures the order number sequence. Prefix and PadLength shape the number.
type OrderNumbersDeps struct {
	Counters  repositories.CounterRepository
	Prefix    string
	PadLength int
}

type orderNumbers struct {
	counters  repositories.CounterRepository
	prefix    string
	padLength int
}

// NewOrderNumbers allocates order numbers from the Firestore counter sequence.
func NewOrderNumbers(deps OrderNumbersDeps) (OrderNumberAllocator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order numbers: counter repository is required")
	}
	if deps.PadLength < 0 {
		return nil, fmt.Errorf("%w: pad length must not be negative", ErrCounterInvalidInput)
	}
	return &orderNumbers{
		counters:  deps.Counters,
		prefix:    strings.TrimSpace(deps.Prefix),
		padLength: deps.PadLength,
	}, nil
}

func (o *orderNumbers) NextOrderNumber(ctx context.Context) (string, error) {
	value, err := o.counters.Next(ctx, orderSequence, 1)
	if err != nil {
		return "", translateCounterError(err)
	}
	formatted := strconv.FormatInt(value, 10)
	if o.padLength > 0 {
		formatted = fmt.Sprintf("%0*d", o.padLength, value)
	}
	return o.prefix + formatted, nil
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}
