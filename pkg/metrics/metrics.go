// Package metrics provides Prometheus instrumentation for distcache components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for distcache components.
// A nil *Registry is valid and records nothing.
type Registry struct {
	// Cache Metrics
	CacheRequests       *prometheus.CounterVec
	CacheWrites         *prometheus.CounterVec
	CacheRemovals       *prometheus.CounterVec
	TagInvalidations    *prometheus.CounterVec
	InvalidatedKeys     *prometheus.CounterVec
	TagIndexFailures    *prometheus.CounterVec
	StaleIndexEntries   *prometheus.CounterVec
	InvalidationLatency *prometheus.HistogramVec

	// Lock Metrics
	LockAcquisitions *prometheus.CounterVec
	LockRenewals     *prometheus.CounterVec
	LockReleases     *prometheus.CounterVec
	LockWaitTime     *prometheus.HistogramVec
	LockHoldTime     *prometheus.HistogramVec

	// Rate Limiting Metrics
	RateLimitRequests *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec

	// Store Metrics
	StoreErrors *prometheus.CounterVec

	// Maintenance Metrics
	MaintenanceRuns *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring namespace and constant labels.
// It returns nil when metrics are disabled.
func NewRegistryWithConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	}

	return &Registry{
		CacheRequests:       counter("cache", "requests_total", "Total number of cache lookups by result", "cache_name", "result"),
		CacheWrites:         counter("cache", "writes_total", "Total number of cache writes", "cache_name"),
		CacheRemovals:       counter("cache", "removals_total", "Total number of explicit cache removals", "cache_name"),
		TagInvalidations:    counter("cache", "tag_invalidations_total", "Total number of tag invalidations", "cache_name"),
		InvalidatedKeys:     counter("cache", "invalidated_keys_total", "Total number of live keys deleted by tag invalidation", "cache_name"),
		TagIndexFailures:    counter("cache", "tag_index_failures_total", "Total number of tag index updates that failed after a successful write", "cache_name"),
		StaleIndexEntries:   counter("cache", "stale_index_entries_total", "Total number of stale tag index members removed by pruning", "cache_name"),
		InvalidationLatency: histogram("cache", "invalidation_duration_seconds", "Time spent invalidating a tag", "cache_name"),

		LockAcquisitions: counter("lock", "acquisitions_total", "Total number of lock acquisition attempts by result", "result"),
		LockRenewals:     counter("lock", "renewals_total", "Total number of lock renewals by result", "result"),
		LockReleases:     counter("lock", "releases_total", "Total number of lock releases by result", "result"),
		LockWaitTime:     histogram("lock", "wait_duration_seconds", "Time spent polling for a lock"),
		LockHoldTime:     histogram("lock", "hold_duration_seconds", "Time a lock was held before release"),

		RateLimitRequests: counter("ratelimit", "requests_total", "Total number of rate limit requests", "limiter_name"),
		RateLimitAllowed:  counter("ratelimit", "allowed_total", "Total number of allowed requests", "limiter_name"),
		RateLimitDenied:   counter("ratelimit", "denied_total", "Total number of denied requests", "limiter_name"),

		StoreErrors: counter("store", "errors_total", "Total number of backing store failures by operation and class", "operation", "class"),

		MaintenanceRuns: counter("maintenance", "runs_total", "Total number of scheduled maintenance runs by job and result", "job", "result"),
	}
}

// CacheLookup records a hit or miss.
func (r *Registry) CacheLookup(cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheRequests.WithLabelValues(cache, result).Inc()
}

// CacheWrite records a successful write and any tag index failures.
func (r *Registry) CacheWrite(cache string, failedTags int) {
	if r == nil {
		return
	}
	r.CacheWrites.WithLabelValues(cache).Inc()
	if failedTags > 0 {
		r.TagIndexFailures.WithLabelValues(cache).Add(float64(failedTags))
	}
}

// CacheRemove records an explicit removal.
func (r *Registry) CacheRemove(cache string) {
	if r == nil {
		return
	}
	r.CacheRemovals.WithLabelValues(cache).Inc()
}

// TagInvalidated records one invalidation and the number of live keys it removed.
func (r *Registry) TagInvalidated(cache string, keys int, took time.Duration) {
	if r == nil {
		return
	}
	r.TagInvalidations.WithLabelValues(cache).Inc()
	r.InvalidatedKeys.WithLabelValues(cache).Add(float64(keys))
	r.InvalidationLatency.WithLabelValues(cache).Observe(took.Seconds())
}

// TagPruned records stale index members removed by pruning.
func (r *Registry) TagPruned(cache string, removed int) {
	if r == nil {
		return
	}
	r.StaleIndexEntries.WithLabelValues(cache).Add(float64(removed))
}

// LockAcquire records an acquisition attempt outcome.
func (r *Registry) LockAcquire(result string) {
	if r == nil {
		return
	}
	r.LockAcquisitions.WithLabelValues(result).Inc()
}

// LockWait records time spent polling for a lock.
func (r *Registry) LockWait(took time.Duration) {
	if r == nil {
		return
	}
	r.LockWaitTime.WithLabelValues().Observe(took.Seconds())
}

// LockRenew records a renewal outcome.
func (r *Registry) LockRenew(result string) {
	if r == nil {
		return
	}
	r.LockRenewals.WithLabelValues(result).Inc()
}

// LockRelease records a release outcome and, on success, how long the lock was held.
func (r *Registry) LockRelease(result string, held time.Duration) {
	if r == nil {
		return
	}
	r.LockReleases.WithLabelValues(result).Inc()
	if result == ResultOK {
		r.LockHoldTime.WithLabelValues().Observe(held.Seconds())
	}
}

// RateLimit records a rate limit decision.
func (r *Registry) RateLimit(limiter string, allowed bool) {
	if r == nil {
		return
	}
	r.RateLimitRequests.WithLabelValues(limiter).Inc()
	if allowed {
		r.RateLimitAllowed.WithLabelValues(limiter).Inc()
	} else {
		r.RateLimitDenied.WithLabelValues(limiter).Inc()
	}
}

// StoreError records a backing store failure.
func (r *Registry) StoreError(op, class string) {
	if r == nil {
		return
	}
	r.StoreErrors.WithLabelValues(op, class).Inc()
}

// MaintenanceRun records a scheduled job outcome.
func (r *Registry) MaintenanceRun(job, result string) {
	if r == nil {
		return
	}
	r.MaintenanceRuns.WithLabelValues(job, result).Inc()
}
