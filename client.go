package distcache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/distcache/pkg/cache"
	dccontext "github.com/vnykmshr/distcache/pkg/common/context"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/config"
	"github.com/vnykmshr/distcache/pkg/lock"
	"github.com/vnykmshr/distcache/pkg/metrics"
	"github.com/vnykmshr/distcache/pkg/ratelimit/distributed"
	"github.com/vnykmshr/distcache/pkg/scheduling/maintenance"
	"github.com/vnykmshr/distcache/pkg/store"
)

// Client bundles the cache, lock and rate limiter over one Redis connection.
type Client struct {
	Store   *store.RedisStore
	Cache   *cache.TaggedCache
	Locks   *lock.Locker
	Limiter *distributed.Limiter

	options    config.Options
	logger     zerolog.Logger
	baseLogger zerolog.Logger
	metrics    *metrics.Registry
	rdb        redis.UniversalClient
	owned      bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open validates opts, connects to Redis and checks the connection before
// building the components. The connection is closed by Client.Close.
func Open(ctx context.Context, opts config.Options, options ...Option) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ro, err := opts.RedisOptions()
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(ro)
	c, err := newClient(rdb, opts, true, options)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	pingCtx, cancel := dccontext.WithOperationTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		c.logger.Error().Err(err).Str("addr", ro.Addr).Msg("Failed to connect to Redis.")
		return nil, err
	}

	c.logger.Info().Str("redis_address", ro.Addr).Msg("Successfully connected to Redis.")
	return c, nil
}

// NewClient builds the components over a connection owned by the caller;
// Client.Close leaves it open.
func NewClient(rdb redis.UniversalClient, opts config.Options, options ...Option) (*Client, error) {
	if rdb == nil {
		return nil, validation.ValidateNotNil("distcache", "redis_client", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return newClient(rdb, opts, false, options)
}

func newClient(rdb redis.UniversalClient, opts config.Options, owned bool, options []Option) (*Client, error) {
	s := defaultSettings()
	for _, opt := range options {
		opt(&s)
	}

	var reg *metrics.Registry
	if s.registerer != nil {
		reg = metrics.NewRegistry(s.registerer)
	}
	logger := s.logger.With().Str("component", "distcache").Logger()

	st, err := store.NewRedisStore(rdb, store.Options{
		OperationTimeout: opts.OperationTimeout,
		Logger:           s.logger,
		Metrics:          reg,
	})
	if err != nil {
		return nil, err
	}

	locker, err := lock.New(lock.Config{
		Store:       st,
		MaxDuration: opts.DistributedLockMaxDuration,
		Logger:      s.logger,
		Metrics:     reg,
	})
	if err != nil {
		return nil, err
	}

	limiter, err := distributed.NewLimiter(distributed.Config{
		Store:   st,
		Name:    s.name,
		Logger:  s.logger,
		Metrics: reg,
	})
	if err != nil {
		return nil, err
	}

	tagged, err := cache.New(cache.Config{
		Store:             st,
		DefaultExpiration: opts.DefaultExpiration,
		Locker:            locker,
		GuardInvalidation: s.guardInvalidation,
		GuardFill:         s.guardFill,
		Codec:             s.codec,
		Name:              s.name,
		Logger:            s.logger,
		Metrics:           reg,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		Store:      st,
		Cache:      tagged,
		Locks:      locker,
		Limiter:    limiter,
		options:    opts,
		logger:     logger,
		baseLogger: s.logger,
		metrics:    reg,
		rdb:        rdb,
		owned:      owned,
	}, nil
}

// Options returns the options the client was built with.
func (c *Client) Options() config.Options {
	return c.options
}

// Ping checks that Redis is reachable, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return dcerrors.ErrClosed
	}
	return c.Store.Ping(ctx)
}

// NewMaintenance returns an unstarted maintenance scheduler driving this
// client's cache. Cache, Logger and Metrics in cfg are replaced by the
// client's own.
func (c *Client) NewMaintenance(cfg maintenance.Config) (*maintenance.Scheduler, error) {
	if c.closed.Load() {
		return nil, dcerrors.ErrClosed
	}
	cfg.Cache = c.Cache
	cfg.Logger = c.baseLogger
	cfg.Metrics = c.metrics
	return maintenance.New(cfg)
}

// Close releases the Redis connection if Open created it. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.owned {
			c.closeErr = c.rdb.Close()
		}
		c.logger.Debug().Bool("owned", c.owned).Msg("Client closed.")
	})
	return c.closeErr
}
