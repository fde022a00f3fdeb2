package distributed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/keycodec"
	"github.com/vnykmshr/distcache/pkg/metrics"
	"github.com/vnykmshr/distcache/pkg/store"
)

// Config holds configuration for a distributed fixed-window limiter.
type Config struct {
	// Store is the shared backing store used for window counters.
	Store store.AtomicStore

	// Name labels this limiter in metrics and logs (defaults to "default").
	Name string

	// Clock decides which window a request falls into. If nil, store.SystemClock is used.
	Clock store.Clock

	// Logger receives limiter diagnostics.
	Logger zerolog.Logger

	// Metrics records decisions. Nil disables instrumentation.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default limiter configuration without a store.
func DefaultConfig() Config {
	return Config{
		Name:   "default",
		Clock:  store.SystemClock{},
		Logger: zerolog.Nop(),
	}
}

// Decision is the outcome of one TryConsume call.
type Decision struct {
	// Allowed reports whether the request fits within the quota.
	Allowed bool

	// Remaining is how many more requests the current window admits.
	Remaining int64

	// Count is the window's counter after this request.
	Count int64

	// Quota is the ceiling the request was checked against.
	Quota int64

	// WindowStart is the aligned start of the current window.
	WindowStart time.Time

	// ResetAt is when the current window ends and a fresh quota begins.
	ResetAt time.Time
}

// RetryAfter returns how long a denied caller should wait for the next window.
// It is zero for allowed decisions.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !now.Before(d.ResetAt) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter enforces per-entity quotas shared by every process using the same
// store. Each call is one atomic increment; the limiter keeps no local state.
type Limiter struct {
	config Config
	logger zerolog.Logger
}

// NewLimiter creates a fixed-window limiter.
func NewLimiter(config Config) (*Limiter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	return &Limiter{
		config: config,
		logger: config.Logger.With().Str("component", "RateLimiter").Str("limiter", config.Name).Logger(),
	}, nil
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	return validation.ValidateNotNil("ratelimit", "store", config.Store)
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	return config
}

// TryConsume counts one request for entityID in the current window of size
// window and reports whether it is within quota. Denied requests still count,
// so a client hammering a closed window does not earn credit.
//
// Windows are aligned to multiples of window since the Unix epoch. Callers
// whose clocks disagree with each other or with the store may see a window
// roll over early or late by the skew; bursts of up to 2x quota are possible
// across a window boundary.
func (l *Limiter) TryConsume(ctx context.Context, entityID string, quota int64, window time.Duration) (Decision, error) {
	if err := validation.First(
		validation.ValidateNotEmpty("ratelimit", "entity_id", entityID),
		validation.ValidatePositiveInt64("ratelimit", "quota", quota),
		validation.ValidatePositiveDuration("ratelimit", "window", window),
	); err != nil {
		return Decision{}, err
	}

	start, reset, index := windowBounds(l.config.Clock.Now(), window)
	key := keycodec.WindowKey(entityID, index)

	count, err := l.config.Store.IncrementWithTTL(ctx, key, window)
	if err != nil {
		l.logger.Debug().Err(err).Str("entity", entityID).Msg("Window increment failed.")
		return Decision{}, err
	}

	d := Decision{
		Allowed:     count <= quota,
		Remaining:   max(0, quota-count),
		Count:       count,
		Quota:       quota,
		WindowStart: start,
		ResetAt:     reset,
	}
	l.config.Metrics.RateLimit(l.config.Name, d.Allowed)
	if !d.Allowed {
		l.logger.Debug().Str("entity", entityID).Int64("count", count).Int64("quota", quota).Msg("Request denied.")
	}
	return d, nil
}

// windowBounds returns the start and end of the fixed window containing now,
// and its index floor(now / window).
func windowBounds(now time.Time, window time.Duration) (time.Time, time.Time, int64) {
	size := window.Nanoseconds()
	ns := now.UnixNano()
	index := ns / size
	if ns < 0 && ns%size != 0 {
		index--
	}
	start := time.Unix(0, index*size)
	return start, start.Add(window), index
}
