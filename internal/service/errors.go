package service

import (
	"errors"

	"grocery-order-service/internal/store"
)

// Validation errors
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidAddress       = errors.New("address is required")
	ErrInvalidPhone         = errors.New("phone is required")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrGatewayUnsupported   = errors.New("gateway verification not available")
)

// Not-found errors. The store sentinels are reused so wrapped repository
// errors match without translation.
var (
	ErrProductNotFound    = store.ErrProductNotFound
	ErrCustomerNotFound   = store.ErrCustomerNotFound
	ErrOrderNotFound      = store.ErrOrderNotFound
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// State conflicts
var (
	ErrInsufficientStock   = store.ErrInsufficientStock
	ErrAmountMismatch      = errors.New("payment amount mismatch")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPaymentInProgress   = errors.New("payment confirmation already in progress")
)

var ErrForbidden = errors.New("forbidden")

// Kind groups errors by how callers should react to them
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindConcurrent
	KindForbidden
)

// KindOf classifies err. Anything unrecognized is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidPhone),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrGatewayUnsupported):
		return KindValidation
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrUnknownTransaction):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrPaymentNotCompleted),
		errors.Is(err, ErrInvalidTransition):
		return KindStateConflict
	case errors.Is(err, ErrPaymentInProgress):
		return KindConcurrent
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
