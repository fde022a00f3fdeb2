package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/keycodec"
	"github.com/vnykmshr/distcache/pkg/lock"
	"github.com/vnykmshr/distcache/pkg/metrics"
	"github.com/vnykmshr/distcache/pkg/store"
)

// Config holds configuration for a TaggedCache.
type Config struct {
	// Store is the shared backing store for entries and tag indices.
	Store store.AtomicStore

	// DefaultExpiration applies to entries written without an explicit expiry.
	DefaultExpiration time.Duration

	// Locker enables the lock-guarded paths below. Optional.
	Locker *lock.Locker

	// GuardInvalidation serialises InvalidateByTag and PruneTag per tag
	// through Locker, so two invalidations of one tag never interleave.
	GuardInvalidation bool

	// GuardFill makes GetOrSet run at most one factory per key at a time
	// across all processes sharing Locker's store.
	GuardFill bool

	// LockTimeout bounds how long guarded operations wait for their lock.
	LockTimeout time.Duration

	// FillTimeout bounds a GetOrSet fill, including the factory call. The
	// fill is shared by every caller waiting on the key, so it outlives the
	// cancellation of whichever caller started it (defaults to 30s).
	FillTimeout time.Duration

	// Codec encodes values for the typed helpers. Defaults to MsgpackCodec.
	Codec Codec

	// Clock resolves absolute expirations. If nil, store.SystemClock is used.
	Clock store.Clock

	// Name labels this cache in metrics and logs (defaults to "default").
	Name string

	// Logger receives cache diagnostics.
	Logger zerolog.Logger

	// Metrics records cache activity. Nil disables instrumentation.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default cache configuration without a store.
func DefaultConfig() Config {
	return Config{
		DefaultExpiration: 5 * time.Minute,
		LockTimeout:       5 * time.Second,
		FillTimeout:       30 * time.Second,
		Codec:             MsgpackCodec{},
		Clock:             store.SystemClock{},
		Name:              "default",
		Logger:            zerolog.Nop(),
	}
}

// EntryOptions describe how an entry is written.
type EntryOptions struct {
	// Expiration is the entry's lifetime relative to now. Zero means the
	// cache's DefaultExpiration.
	Expiration time.Duration

	// ExpiresAt sets an absolute expiry instead of Expiration. It must lie in
	// the future.
	ExpiresAt time.Time

	// Tags group the entry for bulk invalidation. Duplicates are ignored.
	Tags []string

	// Module namespaces the key and its non-frequent tags. Empty means none.
	Module string
}

// TaggedCache stores opaque values under namespaced keys and maintains a
// tag to keys index for bulk invalidation.
//
// Index maintenance spans several store keys and is not atomic: an entry is
// always readable once Set has written it, but a failure part way through
// tagging may leave it unreachable by some tags, and index members may
// outlive their entries until the tag is invalidated or pruned.
type TaggedCache struct {
	config  Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	fills   singleflight.Group
}

// New creates a TaggedCache.
func New(config Config) (*TaggedCache, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	return &TaggedCache{
		config:  config,
		logger:  config.Logger.With().Str("component", "TaggedCache").Str("cache", config.Name).Logger(),
		metrics: config.Metrics,
	}, nil
}

// validateConfig validates the cache configuration.
func validateConfig(config Config) error {
	if err := validation.ValidateNotNil("cache", "store", config.Store); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("cache", "default_expiration", config.DefaultExpiration); err != nil {
		return err
	}
	if config.LockTimeout < 0 {
		return validation.ValidatePositiveDuration("cache", "lock_timeout", config.LockTimeout)
	}
	if config.FillTimeout < 0 {
		return validation.ValidatePositiveDuration("cache", "fill_timeout", config.FillTimeout)
	}
	if (config.GuardInvalidation || config.GuardFill) && config.Locker == nil {
		return dcerrors.NewValidationError("cache", "locker", nil, "required when a guard is enabled").
			WithHint("pass a *lock.Locker or disable GuardInvalidation and GuardFill")
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.LockTimeout == 0 {
		config.LockTimeout = defaults.LockTimeout
	}
	if config.FillTimeout == 0 {
		config.FillTimeout = defaults.FillTimeout
	}
	if config.Codec == nil {
		config.Codec = defaults.Codec
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}
	return config
}

// DefaultExpiration returns the expiry applied when EntryOptions leave it unset.
func (c *TaggedCache) DefaultExpiration() time.Duration {
	return c.config.DefaultExpiration
}

// Codec returns the codec used by the typed helpers.
func (c *TaggedCache) Codec() Codec {
	return c.config.Codec
}

// Set writes value under key and adds the entry to every tag's index.
//
// If the entry is written but some index updates fail, Set returns a
// *errors.PartialIndexError matching errors.ErrPartialIndexFailure. The entry
// is readable in that case; only its invalidation path is degraded.
func (c *TaggedCache) Set(ctx context.Context, key string, value []byte, opts EntryOptions) error {
	if err := validation.ValidateNotEmpty("cache", "key", key); err != nil {
		return err
	}
	ttl, err := c.expiration(opts)
	if err != nil {
		return err
	}
	tags, err := distinctTags(opts.Tags)
	if err != nil {
		return err
	}

	physical := keycodec.PhysicalKey(key, opts.Module)
	if err := c.config.Store.Set(ctx, physical, value, ttl); err != nil {
		return err
	}

	var failed []string
	var errs []error
	for i, tagKey := range keycodec.PhysicalTagKeys(tags, opts.Module) {
		if err := c.config.Store.AddToSet(ctx, tagKey, physical); err != nil {
			failed = append(failed, tags[i])
			errs = append(errs, err)
		}
	}
	c.metrics.CacheWrite(c.config.Name, len(failed))

	if len(failed) > 0 {
		perr := &dcerrors.PartialIndexError{Key: physical, FailedTags: failed, Errs: errs}
		c.logger.Warn().Err(perr).Str("key", physical).Strs("failed_tags", failed).Msg("Entry written with incomplete tag index.")
		return perr
	}

	c.logger.Debug().Str("key", physical).Int("tags", len(tags)).Dur("ttl", ttl).Msg("Stored entry.")
	return nil
}

// Get returns the value stored under key. A miss is (nil, false, nil).
func (c *TaggedCache) Get(ctx context.Context, key, module string) ([]byte, bool, error) {
	if err := validation.ValidateNotEmpty("cache", "key", key); err != nil {
		return nil, false, err
	}
	physical := keycodec.PhysicalKey(key, module)
	value, ok, err := c.config.Store.Get(ctx, physical)
	if err != nil {
		return nil, false, err
	}
	c.metrics.CacheLookup(c.config.Name, ok)
	if ok {
		c.logger.Debug().Str("key", physical).Msg("Cache hit.")
	} else {
		c.logger.Debug().Str("key", physical).Msg("Cache miss.")
	}
	return value, ok, nil
}

// Remove deletes the entry under key. Tag indices are not scrubbed; stale
// members are dropped when their tag is invalidated or pruned.
func (c *TaggedCache) Remove(ctx context.Context, key, module string) error {
	if err := validation.ValidateNotEmpty("cache", "key", key); err != nil {
		return err
	}
	physical := keycodec.PhysicalKey(key, module)
	if _, err := c.config.Store.DeleteKey(ctx, physical); err != nil {
		return err
	}
	c.metrics.CacheRemove(c.config.Name)
	return nil
}

// RemoveKeys deletes the entries under keys and returns how many existed.
// It stops at the first store failure, returning the count so far.
func (c *TaggedCache) RemoveKeys(ctx context.Context, module string, keys ...string) (int, error) {
	for _, key := range keys {
		if err := validation.ValidateNotEmpty("cache", "key", key); err != nil {
			return 0, err
		}
	}
	var n int
	for _, physical := range keycodec.PhysicalKeys(keys, module) {
		existed, err := c.config.Store.DeleteKey(ctx, physical)
		if err != nil {
			return n, err
		}
		c.metrics.CacheRemove(c.config.Name)
		if existed {
			n++
		}
	}
	return n, nil
}

// TaggedKeys lists the physical keys currently indexed under tag, including
// members whose entries have already expired.
func (c *TaggedCache) TaggedKeys(ctx context.Context, tag, module string) ([]string, error) {
	if err := validation.ValidateNotEmpty("cache", "tag", tag); err != nil {
		return nil, err
	}
	return c.config.Store.MembersOfSet(ctx, keycodec.PhysicalTagKey(tag, module))
}

// InvalidateByTag deletes every entry indexed under tag, then the index
// itself, and returns how many live entries were deleted. Members whose
// entries already expired are skipped silently.
//
// The read, delete and delete steps are separate store calls. A Set tagging
// the same tag concurrently may be invalidated or may survive; with
// GuardInvalidation the sequence runs under a lock named after the tag's
// physical key, which orders it against other guarded invalidations.
//
// On a store failure the index is left in place, so the call can be retried;
// the returned count covers deletions made before the failure.
func (c *TaggedCache) InvalidateByTag(ctx context.Context, tag, module string) (int, error) {
	if err := validation.ValidateNotEmpty("cache", "tag", tag); err != nil {
		return 0, err
	}
	return c.invalidateGuarded(ctx, keycodec.PhysicalTagKey(tag, module))
}

func (c *TaggedCache) invalidateGuarded(ctx context.Context, tagKey string) (int, error) {
	var n int
	err := c.guarded(ctx, c.config.GuardInvalidation, tagKey, func(ctx context.Context) error {
		var err error
		n, err = c.invalidate(ctx, tagKey)
		return err
	})
	return n, err
}

func (c *TaggedCache) invalidate(ctx context.Context, tagKey string) (int, error) {
	start := time.Now()

	members, err := c.config.Store.MembersOfSet(ctx, tagKey)
	if err != nil {
		return 0, err
	}

	var n int
	for _, member := range members {
		existed, err := c.config.Store.DeleteKey(ctx, member)
		if err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}

	if _, err := c.config.Store.DeleteKey(ctx, tagKey); err != nil {
		return n, err
	}

	c.metrics.TagInvalidated(c.config.Name, n, time.Since(start))
	c.logger.Debug().Str("tag_key", tagKey).Int("members", len(members)).Int("invalidated", n).Msg("Invalidated tag.")
	return n, nil
}

// InvalidateByTags invalidates several tags concurrently and returns the
// total number of live entries deleted. Tags are processed independently;
// the first failure cancels the rest and is returned with the partial total.
func (c *TaggedCache) InvalidateByTags(ctx context.Context, tags []string, module string) (int, error) {
	distinct, err := distinctTags(tags)
	if err != nil {
		return 0, err
	}

	counts := make([]int, len(distinct))
	g, gctx := errgroup.WithContext(ctx)
	for i, tagKey := range keycodec.PhysicalTagKeys(distinct, module) {
		i, tagKey := i, tagKey
		tag := distinct[i]
		g.Go(func() error {
			n, err := c.invalidateGuarded(gctx, tagKey)
			counts[i] = n
			if err != nil {
				return fmt.Errorf("invalidate tag %q: %w", tag, err)
			}
			return nil
		})
	}
	err = g.Wait()

	var total int
	for _, n := range counts {
		total += n
	}
	return total, err
}

// PruneTag removes index members whose entries no longer exist and returns
// how many were removed. Live entries are untouched.
func (c *TaggedCache) PruneTag(ctx context.Context, tag, module string) (int, error) {
	if err := validation.ValidateNotEmpty("cache", "tag", tag); err != nil {
		return 0, err
	}
	tagKey := keycodec.PhysicalTagKey(tag, module)

	var removed int
	err := c.guarded(ctx, c.config.GuardInvalidation, tagKey, func(ctx context.Context) error {
		members, err := c.config.Store.MembersOfSet(ctx, tagKey)
		if err != nil {
			return err
		}
		for _, member := range members {
			_, ok, err := c.config.Store.Get(ctx, member)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := c.config.Store.RemoveFromSet(ctx, tagKey, member); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	c.metrics.TagPruned(c.config.Name, removed)
	if removed > 0 {
		c.logger.Debug().Str("tag_key", tagKey).Int("removed", removed).Msg("Pruned stale index members.")
	}
	return removed, err
}

// GetOrSet returns the value under opts.Module/key, calling factory and
// storing its result with opts on a miss. Concurrent misses for the same key
// within this process share one factory call; with GuardFill, misses across
// processes also wait for a single fill.
//
// The shared fill runs detached from the caller's cancellation and is bounded
// by FillTimeout. A caller whose ctx ends first stops waiting and gets an
// error matching errors.ErrTimeout; the fill carries on for the others.
//
// When the value is stored but its tag index is incomplete, the value is
// returned together with the *errors.PartialIndexError.
func (c *TaggedCache) GetOrSet(ctx context.Context, key string, opts EntryOptions, factory func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok, err := c.Get(ctx, key, opts.Module); err != nil || ok {
		return value, err
	}

	pk := keycodec.PhysicalKey(key, opts.Module)
	ch := c.fills.DoChan(pk, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FillTimeout)
		defer cancel()
		value, err := c.fill(fctx, pk, key, opts, factory)
		return fillResult{value: value, err: err}, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(fillResult)
		if res.Shared {
			return bytes.Clone(r.value), r.err
		}
		return r.value, r.err
	case <-ctx.Done():
		c.logger.Debug().Str("key", pk).Msg("Stopped waiting for fill.")
		return nil, fmt.Errorf("cache: waiting for fill of %q: %w: %w", pk, dcerrors.ErrTimeout, ctx.Err())
	}
}

type fillResult struct {
	value []byte
	err   error
}

func (c *TaggedCache) fill(ctx context.Context, pk, key string, opts EntryOptions, factory func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var value []byte
	fill := func(ctx context.Context) error {
		if c.config.GuardFill {
			// another holder may have filled the key while we waited
			cached, ok, err := c.config.Store.Get(ctx, pk)
			if err != nil {
				return err
			}
			if ok {
				value = cached
				return nil
			}
		}

		produced, err := factory(ctx)
		if err != nil {
			return err
		}
		value = produced
		return c.Set(ctx, key, produced, opts)
	}

	if err := c.guarded(ctx, c.config.GuardFill, "fill:"+pk, fill); err != nil {
		if dcerrors.IsWarning(err) {
			return value, err
		}
		return nil, err
	}
	return value, nil
}

// guarded runs fn, under the named distributed lock when enabled.
func (c *TaggedCache) guarded(ctx context.Context, enabled bool, name string, fn func(ctx context.Context) error) error {
	if !enabled {
		return fn(ctx)
	}
	return c.config.Locker.WithLock(ctx, name, c.config.LockTimeout, func(ctx context.Context, _ *lock.Handle) error {
		return fn(ctx)
	})
}

// expiration resolves the store TTL for opts.
func (c *TaggedCache) expiration(opts EntryOptions) (time.Duration, error) {
	if !opts.ExpiresAt.IsZero() {
		ttl := opts.ExpiresAt.Sub(c.config.Clock.Now())
		if ttl <= 0 {
			return 0, dcerrors.NewValidationError("cache", "expires_at", opts.ExpiresAt, "must be in the future")
		}
		return ttl, nil
	}
	if opts.Expiration < 0 {
		return 0, validation.ValidatePositiveDuration("cache", "expiration", opts.Expiration)
	}
	if opts.Expiration == 0 {
		return c.config.DefaultExpiration, nil
	}
	return opts.Expiration, nil
}

// distinctTags drops duplicate tags, keeping first-seen order, and rejects
// empty ones.
func distinctTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if err := validation.ValidateNotEmpty("cache", "tag", tag); err != nil {
			return nil, err
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}
