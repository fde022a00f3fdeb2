package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/keycodec"
	"github.com/vnykmshr/distcache/pkg/metrics"
	"github.com/vnykmshr/distcache/pkg/store"
)

// MinDuration is the shortest lease a lock may be configured with.
const MinDuration = time.Second

// Config holds configuration for a Locker.
type Config struct {
	// Store is the shared backing store.
	Store store.AtomicStore

	// MaxDuration is the default lease and the ceiling for any lease or
	// renewal. Must be at least MinDuration.
	MaxDuration time.Duration

	// PollInterval is the first backoff step of AcquireWithTimeout (defaults to 25ms).
	PollInterval time.Duration

	// MaxPollInterval caps the backoff of AcquireWithTimeout (defaults to 1s).
	MaxPollInterval time.Duration

	// ReleaseTimeout bounds the release issued by WithLock after the callback
	// returns, independent of the callback's context (defaults to 2s).
	ReleaseTimeout time.Duration

	// Clock stamps handles. If nil, store.SystemClock is used.
	Clock store.Clock

	// Logger receives lock lifecycle events.
	Logger zerolog.Logger

	// Metrics records lock outcomes. Nil disables instrumentation.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default lock configuration without a store.
func DefaultConfig() Config {
	return Config{
		MaxDuration:     30 * time.Second,
		PollInterval:    25 * time.Millisecond,
		MaxPollInterval: time.Second,
		ReleaseTimeout:  2 * time.Second,
		Clock:           store.SystemClock{},
		Logger:          zerolog.Nop(),
	}
}

// Handle identifies one successful acquisition. It is not safe for concurrent
// use by multiple goroutines.
type Handle struct {
	Name       string
	Key        string
	Token      string
	AcquiredAt time.Time
	Lease      time.Duration

	expiresAt time.Time
}

// ExpiresAt returns when the lease lapses as last known to this process.
func (h *Handle) ExpiresAt() time.Time {
	return h.expiresAt
}

// Locker acquires, renews and releases named locks. It holds no mutable
// state and is safe for concurrent use.
type Locker struct {
	config Config
	logger zerolog.Logger
}

// New creates a Locker after validating its configuration.
func New(config Config) (*Locker, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	return &Locker{
		config: config,
		logger: config.Logger.With().Str("component", "Locker").Logger(),
	}, nil
}

// validateConfig validates the locker configuration.
func validateConfig(config Config) error {
	return validation.First(
		validation.ValidateNotNil("lock", "store", config.Store),
		validation.ValidateMinDuration("lock", "max_duration", config.MaxDuration, MinDuration),
	)
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxPollInterval <= 0 {
		config.MaxPollInterval = defaults.MaxPollInterval
	}
	if config.MaxPollInterval < config.PollInterval {
		config.MaxPollInterval = config.PollInterval
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = defaults.ReleaseTimeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	return config
}

// MaxDuration returns the configured lease ceiling.
func (l *Locker) MaxDuration() time.Duration {
	return l.config.MaxDuration
}

// Acquire tries once to take the named lock for the full MaxDuration lease.
func (l *Locker) Acquire(ctx context.Context, name string) (*Handle, error) {
	return l.AcquireFor(ctx, name, l.config.MaxDuration)
}

// AcquireFor tries once to take the named lock with the given lease, clamped
// to [MinDuration, MaxDuration]. A held lock yields ErrAlreadyHeld.
func (l *Locker) AcquireFor(ctx context.Context, name string, lease time.Duration) (*Handle, error) {
	if err := validation.ValidateNotEmpty("lock", "name", name); err != nil {
		return nil, err
	}
	lease = l.clampLease(lease)
	key := keycodec.LockKey(name)
	token := uuid.NewString()

	ok, err := l.config.Store.SetIfAbsent(ctx, key, []byte(token), lease)
	if err != nil {
		l.config.Metrics.LockAcquire(metrics.ResultError)
		return nil, err
	}
	if !ok {
		l.config.Metrics.LockAcquire(metrics.ResultHeld)
		return nil, fmt.Errorf("lock %q: %w", name, dcerrors.ErrAlreadyHeld)
	}

	now := l.config.Clock.Now()
	l.config.Metrics.LockAcquire(metrics.ResultOK)
	l.logger.Debug().Str("lock", name).Dur("lease", lease).Msg("Lock acquired.")

	return &Handle{
		Name:       name,
		Key:        key,
		Token:      token,
		AcquiredAt: now,
		Lease:      lease,
		expiresAt:  now.Add(lease),
	}, nil
}

// AcquireWithTimeout polls Acquire until it succeeds, timeout elapses or ctx
// is done. Waits between attempts use full-jitter exponential backoff. Store
// failures end the wait immediately.
func (l *Locker) AcquireWithTimeout(ctx context.Context, name string, timeout time.Duration) (*Handle, error) {
	if err := validation.ValidatePositiveDuration("lock", "timeout", timeout); err != nil {
		return nil, err
	}
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() { l.config.Metrics.LockWait(time.Since(start)) }()

	for attempt := 0; ; attempt++ {
		h, err := l.Acquire(waitCtx, name)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, dcerrors.ErrAlreadyHeld) {
			return nil, err
		}

		timer := time.NewTimer(l.backoff(attempt))
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			timer.Stop()
			l.config.Metrics.LockAcquire(metrics.ResultTimeout)
			return nil, fmt.Errorf("lock %q: waited %s: %w (%w)",
				name, time.Since(start).Round(time.Millisecond), dcerrors.ErrTimeout, waitCtx.Err())
		}
	}
}

// Renew extends h's lease to extension from now, provided the lock is still
// held by h. A non-positive extension renews for MaxDuration; longer
// extensions are capped at MaxDuration.
func (l *Locker) Renew(ctx context.Context, h *Handle, extension time.Duration) error {
	extension = l.clampLease(extension)

	ok, err := l.config.Store.CompareAndExtendTTL(ctx, h.Key, []byte(h.Token), extension)
	if err != nil {
		l.config.Metrics.LockRenew(metrics.ResultError)
		return err
	}
	if !ok {
		l.config.Metrics.LockRenew(metrics.ResultLost)
		l.logger.Warn().Str("lock", h.Name).Msg("Lock renewal failed, ownership lost.")
		return fmt.Errorf("renew lock %q: %w", h.Name, dcerrors.ErrLostOwnership)
	}

	h.Lease = extension
	h.expiresAt = l.config.Clock.Now().Add(extension)
	l.config.Metrics.LockRenew(metrics.ResultOK)
	return nil
}

// Release deletes the lock if it is still held by h.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	ok, err := l.config.Store.CompareAndDelete(ctx, h.Key, []byte(h.Token))
	if err != nil {
		l.config.Metrics.LockRelease(metrics.ResultError, 0)
		return err
	}
	if !ok {
		l.config.Metrics.LockRelease(metrics.ResultLost, 0)
		l.logger.Warn().Str("lock", h.Name).Msg("Lock release refused, ownership lost.")
		return fmt.Errorf("release lock %q: %w", h.Name, dcerrors.ErrLostOwnership)
	}

	l.config.Metrics.LockRelease(metrics.ResultOK, l.config.Clock.Now().Sub(h.AcquiredAt))
	l.logger.Debug().Str("lock", h.Name).Msg("Lock released.")
	return nil
}

// WithLock acquires the named lock (waiting up to timeout), runs fn and
// releases the lock. The release error, if any, is joined with fn's error.
func (l *Locker) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context, h *Handle) error) error {
	h, err := l.AcquireWithTimeout(ctx, name, timeout)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, h)

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ReleaseTimeout)
	defer cancel()
	return errors.Join(fnErr, l.Release(releaseCtx, h))
}

func (l *Locker) clampLease(lease time.Duration) time.Duration {
	if lease <= 0 || lease > l.config.MaxDuration {
		return l.config.MaxDuration
	}
	if lease < MinDuration {
		return MinDuration
	}
	return lease
}

// backoff returns a full-jitter delay for the given attempt.
func (l *Locker) backoff(attempt int) time.Duration {
	ceiling := l.config.PollInterval
	for i := 0; i < attempt && ceiling < l.config.MaxPollInterval; i++ {
		ceiling *= 2
	}
	if ceiling > l.config.MaxPollInterval {
		ceiling = l.config.MaxPollInterval
	}
	return time.Duration(rand.Int63n(int64(ceiling))) + time.Millisecond
}
