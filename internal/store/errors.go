package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

// ClassifyError maps a driver error onto a retry class
func ClassifyError(err error) ErrorClass {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

// IsRetryable reports whether the whole transaction may be re-run
func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
