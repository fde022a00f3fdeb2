package distcache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/distcache/internal/testutil"
	"github.com/vnykmshr/distcache/pkg/cache"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/config"
	"github.com/vnykmshr/distcache/pkg/lock"
	"github.com/vnykmshr/distcache/pkg/scheduling/maintenance"
)

func testOptions(addr string) config.Options {
	opts := config.DefaultOptions()
	opts.RedisConnectionString = addr
	opts.ConnectRetry = 1
	opts.ConnectTimeout = 500 * time.Millisecond
	opts.SyncTimeout = 500 * time.Millisecond
	opts.DistributedLockMaxDuration = 5 * time.Second
	return opts
}

func TestOpen_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := testutil.WithTimeout(t)
	reg := prometheus.NewRegistry()

	client, err := Open(ctx, testOptions(mr.Addr()), WithMetrics(reg), WithGuardedInvalidation(), WithName("shop"))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	require.NoError(t, client.Ping(ctx))

	// cache: module-scoped tag invalidation
	opts := cache.EntryOptions{Expiration: 5 * time.Minute, Tags: []string{"customer:42"}, Module: "orders"}
	require.NoError(t, client.Cache.Set(ctx, "order:1", []byte("pending"), opts))
	assert.True(t, mr.Exists("orders:order:1"))
	assert.True(t, mr.Exists("tags:orders:customer:42"))

	n, err := client.Cache.InvalidateByTag(ctx, "customer:42", "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("orders:order:1"))
	assert.False(t, mr.Exists("tags:orders:customer:42"))

	// lock: one holder at a time
	h, err := client.Locks.Acquire(ctx, "reindex")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:reindex"))
	_, err = client.Locks.Acquire(ctx, "reindex")
	assert.ErrorIs(t, err, dcerrors.ErrAlreadyHeld)
	require.NoError(t, client.Locks.Release(ctx, h))

	// limiter: quota shared through Redis
	for i := 0; i < 2; i++ {
		d, err := client.Limiter.TryConsume(ctx, "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := client.Limiter.TryConsume(ctx, "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	assert.Equal(t, float64(1), promtest.ToFloat64(client.metrics.RateLimitDenied.WithLabelValues("shop")))
	assert.Equal(t, float64(1), promtest.ToFloat64(client.metrics.TagInvalidations.WithLabelValues("shop")))
}

func TestOpen_InvalidOptions(t *testing.T) {
	opts := testOptions("localhost:6379")
	opts.DistributedLockMaxDuration = 100 * time.Millisecond

	_, err := Open(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, dcerrors.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "distributed_lock_max_duration")

	opts = testOptions("localhost:6379,bogus")
	_, err = Open(context.Background(), opts)
	assert.ErrorIs(t, err, dcerrors.ErrInvalidConfiguration)
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	var logs bytes.Buffer
	_, err := Open(testutil.WithTimeout(t), testOptions(addr), WithLogger(zerolog.New(&logs)))
	require.Error(t, err)
	assert.True(t, dcerrors.IsTemporary(err))
	assert.True(t, strings.Contains(logs.String(), "Failed to connect to Redis."))
}

func TestNewClient_CallerOwnsConnection(t *testing.T) {
	_, rdb := testutil.Miniredis(t)
	ctx := testutil.WithTimeout(t)

	_, err := NewClient(nil, config.DefaultOptions())
	assert.ErrorIs(t, err, dcerrors.ErrInvalidConfiguration)

	client, err := NewClient(rdb, testOptions("unused:6379"), WithCodec(cache.JSONCodec{}))
	require.NoError(t, err)
	assert.Equal(t, "json", client.Cache.Codec().Name())
	assert.Equal(t, 5*time.Second, client.Locks.MaxDuration())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.NoError(t, rdb.Ping(ctx).Err(), "the caller's connection stays open")
	assert.ErrorIs(t, client.Ping(ctx), dcerrors.ErrClosed)
	_, err = client.NewMaintenance(maintenance.Config{})
	assert.ErrorIs(t, err, dcerrors.ErrClosed)
}

func TestClient_GuardedFill(t *testing.T) {
	_, rdb := testutil.Miniredis(t)
	ctx := testutil.WithTimeout(t)

	client, err := NewClient(rdb, testOptions("unused:6379"), WithGuardedFill())
	require.NoError(t, err)

	got, err := client.Cache.GetOrSet(ctx, "report", cache.EntryOptions{}, func(ctx context.Context) ([]byte, error) {
		// the fill lock is held while the factory runs
		_, err := client.Locks.Acquire(ctx, "fill:report")
		assert.ErrorIs(t, err, dcerrors.ErrAlreadyHeld)
		return []byte("done"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), got)
}

func TestClient_LockRoundTripWithLock(t *testing.T) {
	_, rdb := testutil.Miniredis(t)
	ctx := testutil.WithTimeout(t)
	client, err := NewClient(rdb, testOptions("unused:6379"))
	require.NoError(t, err)

	ran := false
	err = client.Locks.WithLock(ctx, "job", time.Second, func(ctx context.Context, h *lock.Handle) error {
		ran = true
		assert.Equal(t, "lock:job", h.Key)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestClient_NewMaintenance(t *testing.T) {
	_, rdb := testutil.Miniredis(t)
	ctx := testutil.WithTimeout(t)
	reg := prometheus.NewRegistry()
	client, err := NewClient(rdb, testOptions("unused:6379"), WithMetrics(reg))
	require.NoError(t, err)

	require.NoError(t, client.Cache.Set(ctx, "a", []byte("v"), cache.EntryOptions{Tags: []string{"frequent"}, Module: "m"}))

	s, err := client.NewMaintenance(maintenance.Config{})
	require.NoError(t, err)
	require.NoError(t, s.ScheduleInvalidation("nightly", "0 0 3 * * *", maintenance.TagRef{Tag: "frequent"}))

	n, err := s.RunNow(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), promtest.ToFloat64(client.metrics.MaintenanceRuns.WithLabelValues("invalidate", "ok")))
}
