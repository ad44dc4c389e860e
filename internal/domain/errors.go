package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUpstream      = errors.New("upstream dependency failed")
	ErrPaymentFailed = errors.New("payment failed")

	ErrSerializationFailure = errors.New("serialization failure")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func Missing(field string) error {
	return &ValidationError{Field: field}
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
