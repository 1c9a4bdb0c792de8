package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the categories this client distinguishes.
var (
	// ErrInvalidInput - request rejected before any network call
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - model or resource not known to the backend
	ErrNotFound = errors.New("not found")

	// ErrTransient - network-level failure, may succeed on retry
	ErrTransient = errors.New("transient error")

	// ErrInternal - anything we cannot classify further
	ErrInternal = errors.New("internal error")
)

// Wrap wraps an error with a message, preserving the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// InvalidInput builds a validation error.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound builds a not-found error.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Transient builds a transient error.
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal builds an internal error.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsCategory checks if an error belongs to a specific category.
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}
