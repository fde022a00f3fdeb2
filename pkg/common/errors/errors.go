// Package errors defines the error taxonomy shared by every distcache component.
//
// Callers classify failures with errors.Is against the sentinels below; the
// structured types carry the details (which field, which store operation, which
// tags) and unwrap to the matching sentinel.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrInvalidConfiguration indicates invalid configuration parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrStoreUnavailable indicates the backing store could not serve a request.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrLostOwnership indicates the stored lock token no longer matches the caller's.
	ErrLostOwnership = errors.New("lock ownership lost")

	// ErrAlreadyHeld indicates a lock is currently held by another holder.
	ErrAlreadyHeld = errors.New("lock already held")

	// ErrPartialIndexFailure indicates a cache write succeeded but some tag
	// index updates did not.
	ErrPartialIndexFailure = errors.New("partial tag index failure")

	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")
)

// ValidationError describes a rejected configuration or argument value.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError for module.field.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap makes every ValidationError match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// StoreError wraps a transport-level failure from the backing store.
// It matches ErrTimeout when the cause is a deadline, cancellation or network
// timeout, and ErrStoreUnavailable otherwise.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// NewStoreError wraps err for the given store operation and key.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return "store error in " + e.Op + ": " + e.Err.Error()
	}
	return "store error in " + e.Op + " (" + e.Key + "): " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is classifies the wrapped cause into the transient taxonomy.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return isTimeout(e.Err)
	case ErrStoreUnavailable:
		return !isTimeout(e.Err)
	}
	return false
}

// Timeout lets net-style callers treat the error as a timeout.
func (e *StoreError) Timeout() bool {
	return isTimeout(e.Err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// PartialIndexError reports tags whose index could not be updated after the
// entry itself was written. It is warning-level: the entry is readable by key.
type PartialIndexError struct {
	Key        string
	FailedTags []string
	Errs       []error
}

func (e *PartialIndexError) Error() string {
	return fmt.Sprintf("entry %q written but %d tag index update(s) failed: %s",
		e.Key, len(e.FailedTags), strings.Join(e.FailedTags, ", "))
}

// Unwrap exposes the individual tag failures alongside ErrPartialIndexFailure.
func (e *PartialIndexError) Unwrap() []error {
	return append([]error{ErrPartialIndexFailure}, e.Errs...)
}

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation
func IsRetryable(err error) bool {
	if errors.Is(err, ErrPartialIndexFailure) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrAlreadyHeld)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	if errors.Is(err, ErrPartialIndexFailure) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStoreUnavailable)
}

// IsWarning reports whether err signals a degraded but successful operation.
func IsWarning(err error) bool {
	return errors.Is(err, ErrPartialIndexFailure)
}
