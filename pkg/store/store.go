// Package store defines the atomic key-value capability every distcache
// component is built on, with a Redis implementation and an in-memory fake.
//
// Single-key primitives (SetIfAbsent, CompareAndDelete, CompareAndExtendTTL,
// IncrementWithTTL) are atomic on the store. Nothing spanning several keys is.
// Transport failures are returned as *errors.StoreError, which matches
// errors.ErrTimeout or errors.ErrStoreUnavailable; no call is retried here.
package store

import (
	"context"
	"time"
)

// AtomicStore is the minimal primitive set required by the cache, lock and
// rate limiter. A ttl <= 0 means the key does not expire.
type AtomicStore interface {
	// Get returns the value at key; ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent writes value only when key does not exist.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only when its value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// CompareAndExtendTTL resets key's expiry to ttl only when its value equals expected.
	CompareAndExtendTTL(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error)

	// IncrementWithTTL increments the counter at key and returns the new value.
	// The expiry is set when the counter is created and left alone afterwards.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AddToSet adds member to the set at setKey.
	AddToSet(ctx context.Context, setKey, member string) error

	// RemoveFromSet removes member from the set at setKey.
	RemoveFromSet(ctx context.Context, setKey, member string) error

	// MembersOfSet lists the members of the set at setKey; a missing set is empty.
	MembersOfSet(ctx context.Context, setKey string) ([]string, error)

	// DeleteKey removes key of any type and reports whether it existed.
	DeleteKey(ctx context.Context, key string) (bool, error)
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Operation names used in errors, logs and metrics.
const (
	OpGet                 = "get"
	OpSet                 = "set"
	OpSetIfAbsent         = "set_if_absent"
	OpCompareAndDelete    = "compare_and_delete"
	OpCompareAndExtendTTL = "compare_and_extend_ttl"
	OpIncrementWithTTL    = "increment_with_ttl"
	OpAddToSet            = "add_to_set"
	OpRemoveFromSet       = "remove_from_set"
	OpMembersOfSet        = "members_of_set"
	OpDeleteKey           = "delete_key"
	OpPing                = "ping"
)
