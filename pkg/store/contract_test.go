package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/distcache/internal/testutil"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
)

// harness builds a fresh store and a function that moves the store's clock.
type harness func(t *testing.T) (AtomicStore, func(time.Duration))

// runContract checks the AtomicStore contract every implementation must honor.
func runContract(t *testing.T, newStore harness) {
	t.Run("GetMiss", func(t *testing.T) {
		s, _ := newStore(t)
		val, ok, err := s.Get(testutil.WithTimeout(t), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("SetGetExpire", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := testutil.WithTimeout(t)

		require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Minute))
		val, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), val)

		advance(2 * time.Minute)
		_, ok, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetWithoutExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := testutil.WithTimeout(t)

		require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
		advance(24 * time.Hour)
		_, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := testutil.WithTimeout(t)

		ok, err := s.SetIfAbsent(ctx, "lock", []byte("a"), time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetIfAbsent(ctx, "lock", []byte("b"), time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(2 * time.Second)
		ok, err = s.SetIfAbsent(ctx, "lock", []byte("b"), time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		val, _, err := s.Get(ctx, "lock")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), val)
	})

	t.Run("CompareAndDelete", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := testutil.WithTimeout(t)

		require.NoError(t, s.Set(ctx, "k", []byte("token-a"), time.Minute))

		ok, err := s.CompareAndDelete(ctx, "k", []byte("token-b"))
		require.NoError(t, err)
		assert.False(t, ok)
		_, exists, _ := s.Get(ctx, "k")
		assert.True(t, exists, "mismatched token must not delete")

		ok, err = s.CompareAndDelete(ctx, "k", []byte("token-a"))
		require.NoError(t, err)
		assert.True(t, ok)
		_, exists, _ = s.Get(ctx, "k")
		assert.False(t, exists)

		ok, err = s.CompareAndDelete(ctx, "k", []byte("token-a"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CompareAndExtendTTL", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := testutil.WithTimeout(t)

		require.NoError(t, s.Set(ctx, "k", []byte("token"), 2*time.Second))

		ok, err := s.CompareAndExtendTTL(ctx, "k", []byte("other"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndExtendTTL(ctx, "k", []byte("token"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		advance(30 * time.Second)
		_, exists, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, exists, "extended key should outlive its original ttl")

		advance(time.Minute)
		ok, err = s.CompareAndExtendTTL(ctx, "k", []byte("token"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "expired key cannot be extended")
	})

	t.Run("IncrementWithTTL", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := testutil.WithTimeout(t)

		for want := int64(1); want <= 3; want++ {
			n, err := s.IncrementWithTTL(ctx, "c", 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, n)
			advance(2 * time.Second)
		}

		// The first increment's ttl governs: 6s elapsed, 4s left.
		advance(5 * time.Second)
		n, err := s.IncrementWithTTL(ctx, "c", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("IncrementRejectsNonPositiveTTL", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.IncrementWithTTL(testutil.WithTimeout(t), "c", 0)
		assert.ErrorIs(t, err, dcerrors.ErrInvalidConfiguration)
	})

	t.Run("Sets", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := testutil.WithTimeout(t)

		members, err := s.MembersOfSet(ctx, "tags:x")
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, s.AddToSet(ctx, "tags:x", "a"))
		require.NoError(t, s.AddToSet(ctx, "tags:x", "b"))
		require.NoError(t, s.AddToSet(ctx, "tags:x", "a"))

		members, err = s.MembersOfSet(ctx, "tags:x")
		require.NoError(t, err)
		sort.Strings(members)
		assert.Equal(t, []string{"a", "b"}, members)

		require.NoError(t, s.RemoveFromSet(ctx, "tags:x", "a"))
		require.NoError(t, s.RemoveFromSet(ctx, "tags:x", "missing"))
		members, err = s.MembersOfSet(ctx, "tags:x")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, members)

		existed, err := s.DeleteKey(ctx, "tags:x")
		require.NoError(t, err)
		assert.True(t, existed)
		members, err = s.MembersOfSet(ctx, "tags:x")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("DeleteKey", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := testutil.WithTimeout(t)

		existed, err := s.DeleteKey(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, existed)

		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		existed, err = s.DeleteKey(ctx, "k")
		require.NoError(t, err)
		assert.True(t, existed)
	})

	t.Run("WrongType", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := testutil.WithTimeout(t)

		require.NoError(t, s.Set(ctx, "plain", []byte("v"), time.Minute))
		require.NoError(t, s.AddToSet(ctx, "tags:x", "a"))

		assertWrongType := func(op string, err error) {
			t.Helper()
			assert.ErrorIs(t, err, dcerrors.ErrStoreUnavailable, op)
			var serr *dcerrors.StoreError
			if assert.ErrorAs(t, err, &serr, op) {
				assert.Equal(t, op, serr.Op)
			}
		}

		assertWrongType(OpAddToSet, s.AddToSet(ctx, "plain", "a"))
		assertWrongType(OpRemoveFromSet, s.RemoveFromSet(ctx, "plain", "a"))
		_, err := s.MembersOfSet(ctx, "plain")
		assertWrongType(OpMembersOfSet, err)

		_, _, err = s.Get(ctx, "tags:x")
		assertWrongType(OpGet, err)
		_, err = s.CompareAndDelete(ctx, "tags:x", []byte("a"))
		assertWrongType(OpCompareAndDelete, err)
		_, err = s.CompareAndExtendTTL(ctx, "tags:x", []byte("a"), time.Minute)
		assertWrongType(OpCompareAndExtendTTL, err)
		_, err = s.IncrementWithTTL(ctx, "tags:x", time.Minute)
		assertWrongType(OpIncrementWithTTL, err)

		// neither key was touched
		val, ok, err := s.Get(ctx, "plain")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v"), val)
		members, err := s.MembersOfSet(ctx, "tags:x")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members)

		// SET replaces a key of any type
		require.NoError(t, s.Set(ctx, "tags:x", []byte("w"), time.Minute))
		val, ok, err = s.Get(ctx, "tags:x")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("w"), val)
	})

	t.Run("CanceledContextIsTimeout", func(t *testing.T) {
		s, _ := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := s.Get(ctx, "k")
		require.Error(t, err)
		assert.True(t, errors.Is(err, dcerrors.ErrTimeout))
		var serr *dcerrors.StoreError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, OpGet, serr.Op)
	})

	t.Run("ConcurrentSetIfAbsent", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := testutil.WithTimeout(t)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.SetIfAbsent(ctx, "race", []byte("x"), time.Minute)
				if err == nil && ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}
