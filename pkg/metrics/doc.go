// Package metrics provides Prometheus instrumentation for distcache components.
//
// # Overview
//
// The registry covers:
//   - Tagged cache lookups, writes, removals, tag invalidations and index drift
//   - Distributed lock acquisitions, renewals, releases, wait and hold times
//   - Fixed-window rate limit decisions
//   - Backing store failures by operation and class (timeout / unavailable)
//   - Scheduled maintenance job outcomes
//
// # Quick Start
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//
//	c, _ := cache.New(cache.Config{Store: st, DefaultExpiration: time.Minute, Metrics: m})
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// A nil *Registry is accepted everywhere and records nothing, so components can
// be built without instrumentation.
package metrics
