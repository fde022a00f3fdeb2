package distcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/distcache/pkg/cache"
)

// Option customises a Client.
type Option func(*settings)

type settings struct {
	logger            zerolog.Logger
	registerer        prometheus.Registerer
	guardInvalidation bool
	guardFill         bool
	codec             cache.Codec
	name              string
}

func defaultSettings() settings {
	return settings{
		logger: zerolog.Nop(),
		name:   "default",
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics registers Prometheus metrics for all components with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithGuardedInvalidation serialises invalidations of the same tag through
// the distributed lock.
func WithGuardedInvalidation() Option {
	return func(s *settings) { s.guardInvalidation = true }
}

// WithGuardedFill makes concurrent GetOrSet misses for one key share a single
// factory call across processes.
func WithGuardedFill() Option {
	return func(s *settings) { s.guardFill = true }
}

// WithCodec sets the codec used by the cache's typed helpers.
func WithCodec(codec cache.Codec) Option {
	return func(s *settings) { s.codec = codec }
}

// WithName labels the cache and rate limiter in metrics and logs.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}
