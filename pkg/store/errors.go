// Package store is the persistence gateway: one small repository per
// aggregate, all sharing a *database.Client, plus the SearchStore that
// doubles as the inverted index and percolation corpus.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleDecision is returned by DecisionStore.PromoteDecision when the
	// active decision's version no longer matches the expected version —
	// another process promoted a decision for the same reference first.
	ErrStaleDecision = errors.New("stale decision version")

	// ErrIdentifierCollision is returned by IdentifierStore.Attach
	// when an identifier already resolves to a different reference.
	ErrIdentifierCollision = errors.New("identifier already assigned to another reference")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
