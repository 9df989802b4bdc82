package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientFunds means a debit would take a balance below zero.
	// At request time it is wrapped in a ValidationError; at settlement
	// time it transitions the transaction to failed instead of aborting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidStateTransition means a transition was attempted from a
	// terminal status. Always surfaced to the caller.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrForbidden means the caller's session does not permit the
	// operation or the record belongs to another owner.
	ErrForbidden = errors.New("operation not permitted")
)

// ValidationError is a recoverable bad-input error surfaced to the
// caller verbatim. It never reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
