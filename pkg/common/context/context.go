// Package context holds the per-operation deadline helpers used when talking
// to the backing store.
package context

import (
	"context"
	"time"
)

// WithOperationTimeout bounds a single store round trip. A non-positive
// timeout leaves the parent untouched, and a parent deadline that is already
// sooner than the timeout wins.
func WithOperationTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= timeout {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
