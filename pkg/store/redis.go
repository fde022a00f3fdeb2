package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	dccontext "github.com/vnykmshr/distcache/pkg/common/context"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/metrics"
)

// Options configures a RedisStore.
type Options struct {
	// OperationTimeout bounds every individual round trip. Zero relies on the
	// caller's context and the client's own read/write timeouts.
	OperationTimeout time.Duration

	// Logger receives debug output for store failures.
	Logger zerolog.Logger

	// Metrics records store failures. Nil disables instrumentation.
	Metrics *metrics.Registry
}

// RedisStore implements AtomicStore on top of a go-redis client. The
// compare-and-* and increment primitives run as Lua scripts so each is a
// single atomic step on the server.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Registry

	compareAndDeleteScript    *redis.Script
	compareAndExtendTTLScript *redis.Script
	incrementWithTTLScript    *redis.Script
}

var _ AtomicStore = (*RedisStore)(nil)

// NewRedisStore wraps an already-connected client.
func NewRedisStore(client redis.UniversalClient, opts Options) (*RedisStore, error) {
	if client == nil {
		return nil, validation.ValidateNotNil("store", "client", nil)
	}
	if opts.OperationTimeout < 0 {
		return nil, validation.ValidatePositiveDuration("store", "operation_timeout", opts.OperationTimeout)
	}

	return &RedisStore{
		client:  client,
		timeout: opts.OperationTimeout,
		logger:  opts.Logger.With().Str("component", "RedisStore").Logger(),
		metrics: opts.Metrics,

		compareAndDeleteScript:    redis.NewScript(luaCompareAndDelete),
		compareAndExtendTTLScript: redis.NewScript(luaCompareAndExtendTTL),
		incrementWithTTLScript:    redis.NewScript(luaIncrementWithTTL),
	}, nil
}

// Client returns the underlying go-redis client.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.fail(OpPing, "", err)
	}
	return nil
}

// Get returns the value at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail(OpGet, key, err)
	}
	return val, true, nil
}

// Set writes value at key with the given expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, clampTTL(ttl)).Err(); err != nil {
		return s.fail(OpSet, key, err)
	}
	return nil
}

// SetIfAbsent writes value only when key does not exist (SET NX PX).
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, clampTTL(ttl)).Result()
	if err != nil {
		return false, s.fail(OpSetIfAbsent, key, err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only when it still holds expected.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, s.fail(OpCompareAndDelete, key, err)
	}
	return n == 1, nil
}

// CompareAndExtendTTL resets key's expiry only when it still holds expected.
func (s *RedisStore) CompareAndExtendTTL(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if err := validation.ValidatePositiveDuration("store", "ttl", ttl); err != nil {
		return false, err
	}

	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.compareAndExtendTTLScript.Run(ctx, s.client, []string{key}, expected, ttlMillis(ttl)).Int64()
	if err != nil {
		return false, s.fail(OpCompareAndExtendTTL, key, err)
	}
	return n == 1, nil
}

// IncrementWithTTL increments the counter at key, setting its expiry on creation.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := validation.ValidatePositiveDuration("store", "ttl", ttl); err != nil {
		return 0, err
	}

	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.incrementWithTTLScript.Run(ctx, s.client, []string{key}, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, s.fail(OpIncrementWithTTL, key, err)
	}
	return n, nil
}

// AddToSet adds member to the set at setKey (SADD).
func (s *RedisStore) AddToSet(ctx context.Context, setKey, member string) error {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.SAdd(ctx, setKey, member).Err(); err != nil {
		return s.fail(OpAddToSet, setKey, err)
	}
	return nil
}

// RemoveFromSet removes member from the set at setKey (SREM).
func (s *RedisStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.SRem(ctx, setKey, member).Err(); err != nil {
		return s.fail(OpRemoveFromSet, setKey, err)
	}
	return nil
}

// MembersOfSet lists the set at setKey (SMEMBERS).
func (s *RedisStore) MembersOfSet(ctx context.Context, setKey string) ([]string, error) {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, s.fail(OpMembersOfSet, setKey, err)
	}
	return members, nil
}

// DeleteKey removes key (DEL).
func (s *RedisStore) DeleteKey(ctx context.Context, key string) (bool, error) {
	ctx, cancel := dccontext.WithOperationTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, s.fail(OpDeleteKey, key, err)
	}
	return n > 0, nil
}

// fail wraps err as a StoreError and records it.
func (s *RedisStore) fail(op, key string, err error) error {
	serr := dcerrors.NewStoreError(op, key, err)
	class := metrics.ResultUnavailable
	if serr.Timeout() {
		class = metrics.ResultTimeout
	}
	s.metrics.StoreError(op, class)
	s.logger.Debug().Err(err).Str("op", op).Str("key", key).Str("class", class).Msg("Redis operation failed.")
	return serr
}

// clampTTL maps non-positive TTLs to "no expiry" for go-redis.
func clampTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// ttlMillis rounds sub-millisecond TTLs up so PEXPIRE never receives 0.
func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// Lua script for compare-and-delete
const luaCompareAndDelete = `
-- KEYS[1]: key
-- ARGV[1]: expected value

if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Lua script for compare-and-extend
const luaCompareAndExtendTTL = `
-- KEYS[1]: key
-- ARGV[1]: expected value
-- ARGV[2]: new TTL (milliseconds)

if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Lua script for increment-with-ttl
const luaIncrementWithTTL = `
-- KEYS[1]: counter key
-- ARGV[1]: TTL (milliseconds), applied only when the counter has none

local count = redis.call('INCR', KEYS[1])

if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end

return count
`
