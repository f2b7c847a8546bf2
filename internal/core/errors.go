package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for missing entities and for entities owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrValidation classifies malformed input. Concrete errors are *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when a non-admin calls an admin-only operation.
	ErrForbidden = errors.New("administrator access required")
	// ErrPersistence is returned when a write reports success but affects nothing.
	ErrPersistence = errors.New("persistence failure")
	// ErrClaimLost means another sweep claimed the due entity first.
	ErrClaimLost = errors.New("due settings already claimed")
	// ErrQueueFull is returned when the dispatch queue cannot accept more runs.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrDriverStopped is returned when dispatching after Stop.
	ErrDriverStopped = errors.New("scheduler driver stopped")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
