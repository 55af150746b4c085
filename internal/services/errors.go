package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hanko-field/checkout/internal/repositories"
)

// ErrorKind classifies checkout failures for transport mapping.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindDependency    ErrorKind = "dependency"
)

// CheckoutError carries the machine readable code and HTTP status returned to the hosted checkout client.
type CheckoutError struct {
	Code    string
	Message string
	Status  int
	Kind    ErrorKind
	Err     error
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another CheckoutError by code so callers can compare against the sentinels below.
func (e *CheckoutError) Is(target error) bool {
	var other *CheckoutError
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return other.Code == e.Code
}

// Wrap returns a copy of the error annotated with a cause.
func (e *CheckoutError) Wrap(err error) *CheckoutError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Err = err
	return &clone
}

// WithMessage returns a copy of the error carrying a different message.
func (e *CheckoutError) WithMessage(message string) *CheckoutError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Message = message
	return &clone
}

func newCheckoutError(kind ErrorKind, status int, code, message string) *CheckoutError {
	return &CheckoutError{Code: code, Message: message, Status: status, Kind: kind}
}

var (
	ErrSessionMissingKey   = newCheckoutError(KindValidation, http.StatusBadRequest, "gc_missing_session_key", "Session key is missing.")
	ErrSessionNotFound     = newCheckoutError(KindNotFound, http.StatusNotFound, "gc_cart_not_found", "Cart not found.")
	ErrCartEmpty           = newCheckoutError(KindStateConflict, http.StatusBadRequest, "gc_cart_has_no_items", "Cart is empty.")
	ErrUnsupportedCurrency = newCheckoutError(KindStateConflict, http.StatusBadRequest, "gc_unsupported_currency", "Only INR carts can be checked out.")

	ErrCouponRequired       = newCheckoutError(KindValidation, http.StatusBadRequest, "gc_cart_coupon_is_required", "Coupon code is required.")
	ErrCouponDoesNotExist   = newCheckoutError(KindNotFound, http.StatusOK, "gc_cart_coupon_does_not_exist", "Coupon does not exist.")
	ErrCouponInvalid        = newCheckoutError(KindStateConflict, http.StatusOK, "gc_cart_coupon_invalid", "Coupon is not valid.")
	ErrCouponUsageExhausted = newCheckoutError(KindStateConflict, http.StatusOK, "gc_cart_coupon_invalid_usage", "Coupon usage limit reached.")

	ErrMissingCustomerEmail = newCheckoutError(KindValidation, http.StatusBadRequest, "gc_missing_customer_email", "Customer email is missing.")
	ErrCustomerNotFound     = newCheckoutError(KindNotFound, http.StatusNotFound, "gc_customer_not_found", "Customer not found.")
	ErrWalletInactive       = newCheckoutError(KindDependency, http.StatusBadRequest, "plugin_inactive", "Wallet ledger is not active.")
	ErrWalletInvalidAmount  = newCheckoutError(KindValidation, http.StatusBadRequest, "invalid_amount", "Amount must be greater than zero.")
	ErrWalletInsufficient   = newCheckoutError(KindStateConflict, http.StatusBadRequest, "insufficient_balance", "Insufficient wallet balance.")
	ErrWalletTransaction    = newCheckoutError(KindDependency, http.StatusInternalServerError, "transaction_failed", "Transaction failed. Please try again.")

	ErrInvalidPaymentMethod = newCheckoutError(KindStateConflict, http.StatusBadRequest, "gc_cart_invalid_payment_method", "Payment method is invalid.")
	ErrCartTotalMismatch    = newCheckoutError(KindStateConflict, http.StatusBadRequest, "gc_cart_total_mismatch", "Cart total does not match the order total.")
	ErrPlaceOrderFailed     = newCheckoutError(KindDependency, http.StatusBadRequest, "gc_cart_place_order_error", "Unable to create order.")
	ErrOrderInProgress      = newCheckoutError(KindStateConflict, http.StatusConflict, "gc_order_in_progress", "An order for this session is already being placed.")
	ErrMissingParameters    = newCheckoutError(KindValidation, http.StatusBadRequest, "gc_missing_required_parameters", "Missing required parameters.")
	ErrOrderNotFound        = newCheckoutError(KindNotFound, http.StatusNotFound, "gc_order_not_found", "Order not found.")
	ErrNoOrderFound         = newCheckoutError(KindNotFound, http.StatusNotFound, "gc_no_order_found", "No order found.")
	ErrInvalidOrder         = newCheckoutError(KindStateConflict, http.StatusBadRequest, "gc_invalid_order", "The order is not a GoKwik order.")
	ErrInvalidOrderStatus   = newCheckoutError(KindValidation, http.StatusBadRequest, "gc_invalid_order_status", "Invalid order status provided.")

	ErrUnauthorized        = newCheckoutError(KindAuthorization, http.StatusUnauthorized, "gc_unauthorized", "Sorry, you are not allowed to do that.")
	ErrCheckoutUnavailable = newCheckoutError(KindDependency, http.StatusInternalServerError, "gc_internal_error", "The checkout service is temporarily unavailable.")
)

// AsCheckoutError extracts a CheckoutError from err.
func AsCheckoutError(err error) (*CheckoutError, bool) {
	var target *CheckoutError
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}

// IntegrityWarning describes a placement enrichment step that failed after the order was created.
type IntegrityWarning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// dependencyError maps unexpected repository failures onto the generic unavailable error.
func dependencyError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsCheckoutError(err); ok {
		return err
	}
	return ErrCheckoutUnavailable.Wrap(err)
}
