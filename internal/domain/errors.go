package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks fatal input errors. InputError unwraps to it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by collaborators when a record is missing.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientComparables is the reason attached to degraded valuations.
	ErrInsufficientComparables = errors.New("insufficient comparables")
)

// InputError is a fatal input error that aborts an evaluation.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidInput).
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}
