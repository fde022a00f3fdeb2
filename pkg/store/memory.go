package store

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
)

// errWrongType mirrors the Redis reply for a value operation on a set key or
// a set operation on a value key.
var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// Fault lets tests fail selected operations. Returning a non-nil error makes
// the operation fail with a StoreError wrapping it, before any state changes.
type Fault func(op, key string) error

type memValue struct {
	data      []byte
	expiresAt time.Time
}

type memSet struct {
	members map[string]struct{}
}

// MemoryStore is an in-process AtomicStore. Each call holds one mutex, which
// gives the same per-key atomicity Redis provides. Expiry is evaluated lazily
// against the configured clock.
type MemoryStore struct {
	mu     sync.Mutex
	clock  Clock
	values map[string]*memValue
	sets   map[string]*memSet
	fault  Fault
}

var _ AtomicStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil clock uses SystemClock.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryStore{
		clock:  clock,
		values: make(map[string]*memValue),
		sets:   make(map[string]*memSet),
	}
}

// SetFault installs (or clears, with nil) a fault injector.
func (m *MemoryStore) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// TTL reports the remaining lifetime of a value key; ok is false when the key
// is missing and the duration is zero when it never expires.
func (m *MemoryStore) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.value(key)
	if v == nil {
		return 0, false
	}
	if v.expiresAt.IsZero() {
		return 0, true
	}
	return v.expiresAt.Sub(m.clock.Now()), true
}

// Get returns the value at key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpGet, key); err != nil {
		return nil, false, err
	}
	if m.set(key) != nil {
		return nil, false, dcerrors.NewStoreError(OpGet, key, errWrongType)
	}
	v := m.value(key)
	if v == nil {
		return nil, false, nil
	}
	return bytes.Clone(v.data), true, nil
}

// Set writes value at key.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSet, key); err != nil {
		return err
	}
	delete(m.sets, key)
	m.values[key] = &memValue{data: bytes.Clone(value), expiresAt: m.deadline(ttl)}
	return nil
}

// SetIfAbsent writes value only when key does not exist.
func (m *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSetIfAbsent, key); err != nil {
		return false, err
	}
	if m.value(key) != nil || m.set(key) != nil {
		return false, nil
	}
	m.values[key] = &memValue{data: bytes.Clone(value), expiresAt: m.deadline(ttl)}
	return true, nil
}

// CompareAndDelete deletes key only when it still holds expected.
func (m *MemoryStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpCompareAndDelete, key); err != nil {
		return false, err
	}
	if m.set(key) != nil {
		return false, dcerrors.NewStoreError(OpCompareAndDelete, key, errWrongType)
	}
	v := m.value(key)
	if v == nil || !bytes.Equal(v.data, expected) {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

// CompareAndExtendTTL resets key's expiry only when it still holds expected.
func (m *MemoryStore) CompareAndExtendTTL(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if err := validation.ValidatePositiveDuration("store", "ttl", ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpCompareAndExtendTTL, key); err != nil {
		return false, err
	}
	if m.set(key) != nil {
		return false, dcerrors.NewStoreError(OpCompareAndExtendTTL, key, errWrongType)
	}
	v := m.value(key)
	if v == nil || !bytes.Equal(v.data, expected) {
		return false, nil
	}
	v.expiresAt = m.deadline(ttl)
	return true, nil
}

// IncrementWithTTL increments the counter at key, setting its expiry on creation.
func (m *MemoryStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := validation.ValidatePositiveDuration("store", "ttl", ttl); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpIncrementWithTTL, key); err != nil {
		return 0, err
	}
	if m.set(key) != nil {
		return 0, dcerrors.NewStoreError(OpIncrementWithTTL, key, errWrongType)
	}

	v := m.value(key)
	if v == nil {
		v = &memValue{}
		m.values[key] = v
	}
	var count int64
	if len(v.data) > 0 {
		n, err := strconv.ParseInt(string(v.data), 10, 64)
		if err != nil {
			return 0, dcerrors.NewStoreError(OpIncrementWithTTL, key, err)
		}
		count = n
	}
	count++
	v.data = []byte(strconv.FormatInt(count, 10))
	if count == 1 || v.expiresAt.IsZero() {
		v.expiresAt = m.deadline(ttl)
	}
	return count, nil
}

// AddToSet adds member to the set at setKey.
func (m *MemoryStore) AddToSet(ctx context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpAddToSet, setKey); err != nil {
		return err
	}
	if m.value(setKey) != nil {
		return dcerrors.NewStoreError(OpAddToSet, setKey, errWrongType)
	}
	s := m.set(setKey)
	if s == nil {
		s = &memSet{members: make(map[string]struct{})}
		m.sets[setKey] = s
	}
	s.members[member] = struct{}{}
	return nil
}

// RemoveFromSet removes member from the set at setKey.
func (m *MemoryStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpRemoveFromSet, setKey); err != nil {
		return err
	}
	if m.value(setKey) != nil {
		return dcerrors.NewStoreError(OpRemoveFromSet, setKey, errWrongType)
	}
	if s := m.set(setKey); s != nil {
		delete(s.members, member)
		if len(s.members) == 0 {
			delete(m.sets, setKey)
		}
	}
	return nil
}

// MembersOfSet lists the set at setKey.
func (m *MemoryStore) MembersOfSet(ctx context.Context, setKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpMembersOfSet, setKey); err != nil {
		return nil, err
	}
	if m.value(setKey) != nil {
		return nil, dcerrors.NewStoreError(OpMembersOfSet, setKey, errWrongType)
	}
	s := m.set(setKey)
	if s == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(s.members))
	for member := range s.members {
		out = append(out, member)
	}
	return out, nil
}

// DeleteKey removes key of any type.
func (m *MemoryStore) DeleteKey(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpDeleteKey, key); err != nil {
		return false, err
	}
	existed := m.value(key) != nil || m.set(key) != nil
	delete(m.values, key)
	delete(m.sets, key)
	return existed, nil
}

// check fails the call on a done context or an injected fault. Callers hold m.mu.
func (m *MemoryStore) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return dcerrors.NewStoreError(op, key, err)
	}
	if m.fault != nil {
		if err := m.fault(op, key); err != nil {
			return dcerrors.NewStoreError(op, key, err)
		}
	}
	return nil
}

// value returns the live value at key, evicting it when expired.
func (m *MemoryStore) value(key string) *memValue {
	v, ok := m.values[key]
	if !ok {
		return nil
	}
	if m.expired(v.expiresAt) {
		delete(m.values, key)
		return nil
	}
	return v
}

// set returns the set at key. Tag index sets never expire.
func (m *MemoryStore) set(key string) *memSet {
	return m.sets[key]
}

func (m *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !m.clock.Now().Before(at)
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}
