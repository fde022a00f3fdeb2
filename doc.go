/*
Package distcache provides a distributed caching layer over a shared Redis:
a tag-indexed cache with bulk invalidation, a distributed lock, and a
distributed fixed-window rate limiter.

Components (pkg/):
  - store: the atomic key-value primitives, on Redis or in memory
  - cache: tagged cache with module namespaces and invalidate-by-tag
  - lock: token-fenced distributed mutual exclusion
  - ratelimit/distributed: shared per-entity quotas
  - scheduling/maintenance: optional cron-driven index pruning
  - config: options loading and validation

Example usage:

	opts, err := config.Load("distcache.yaml")
	if err != nil {
		log.Fatal(err) // names the invalid field
	}

	client, err := distcache.Open(ctx, opts, distcache.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	err = client.Cache.Set(ctx, "order:1", payload, cache.EntryOptions{
		Tags:   []string{"customer:42"},
		Module: "orders",
	})

	err = client.Locks.WithLock(ctx, "reindex", 5*time.Second, func(ctx context.Context, h *lock.Handle) error {
		return reindex(ctx)
	})

	d, err := client.Limiter.TryConsume(ctx, "user:42", 100, time.Minute)

No component starts background goroutines; every call is a bounded number
of round trips to Redis, and failures are returned, never retried.
*/
package distcache
