package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrStoreUnavailable", ErrStoreUnavailable, "store unavailable"},
		{"ErrTimeout", ErrTimeout, "operation timed out"},
		{"ErrLostOwnership", ErrLostOwnership, "lock ownership lost"},
		{"ErrAlreadyHeld", ErrAlreadyHeld, "lock already held"},
		{"ErrPartialIndexFailure", ErrPartialIndexFailure, "partial tag index failure"},
		{"ErrClosed", ErrClosed, "resource is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err: &ValidationError{
				Module: "ratelimit",
				Field:  "quota",
				Value:  -1,
				Reason: "must be positive",
			},
			want: "ratelimit: invalid quota=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: &ValidationError{
				Module: "lock",
				Field:  "max_duration",
				Value:  "500ms",
				Reason: "must be at least 1s",
				Hint:   "locks need a lease of one second or more",
			},
			want: "lock: invalid max_duration=500ms (must be at least 1s) - locks need a lease of one second or more",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("test", "field", 0, "test").WithHint("hint")

	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should wrap ErrInvalidConfiguration")
	}
	if !IsValidationError(fmt.Errorf("wrapped: %w", verr)) {
		t.Error("IsValidationError should see through wrapping")
	}
	if IsValidationError(ErrTimeout) {
		t.Error("ErrTimeout is not a ValidationError")
	}
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestStoreError_Classification(t *testing.T) {
	tests := []struct {
		name        string
		cause       error
		timeout     bool
		unavailable bool
	}{
		{"deadline", context.DeadlineExceeded, true, false},
		{"canceled", context.Canceled, true, false},
		{"net timeout", netTimeout{}, true, false},
		{"connection refused", errors.New("dial tcp: connection refused"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := error(NewStoreError("get", "k", tt.cause))
			if got := errors.Is(err, ErrTimeout); got != tt.timeout {
				t.Errorf("Is(ErrTimeout) = %v, want %v", got, tt.timeout)
			}
			if got := errors.Is(err, ErrStoreUnavailable); got != tt.unavailable {
				t.Errorf("Is(ErrStoreUnavailable) = %v, want %v", got, tt.unavailable)
			}
			if !errors.Is(err, tt.cause) {
				t.Error("StoreError should unwrap to its cause")
			}
			if !IsRetryable(err) || !IsTemporary(err) {
				t.Error("store errors are retryable and temporary")
			}
		})
	}
}

func TestStoreError_Error(t *testing.T) {
	err := NewStoreError("sadd", "tags:a", errors.New("boom"))
	if got, want := err.Error(), "store error in sadd (tags:a): boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	err = NewStoreError("ping", "", errors.New("boom"))
	if got, want := err.Error(), "store error in ping: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPartialIndexError(t *testing.T) {
	cause := NewStoreError("sadd", "tags:b", context.DeadlineExceeded)
	err := error(&PartialIndexError{Key: "k", FailedTags: []string{"tags:b"}, Errs: []error{cause}})

	if !errors.Is(err, ErrPartialIndexFailure) {
		t.Error("PartialIndexError should match ErrPartialIndexFailure")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("PartialIndexError should expose the underlying tag failures")
	}
	if !IsWarning(err) {
		t.Error("PartialIndexError is warning-level")
	}
	if IsRetryable(err) || IsTemporary(err) {
		t.Error("a partial index failure must not be retried as a whole")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTimeout, true},
		{ErrStoreUnavailable, true},
		{ErrAlreadyHeld, true},
		{ErrLostOwnership, false},
		{ErrInvalidConfiguration, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
