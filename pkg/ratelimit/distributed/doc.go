// Package distributed provides fixed-window rate limiting shared across
// processes through an atomic store.
//
// Every process that points at the same store enforces the same quota: a
// request increments the counter for (entity, window) in one atomic step and
// is allowed when the new count does not exceed the quota. The limiter holds
// no local state, so it can be created per request or shared freely.
//
// # Quick Start
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	st, _ := store.NewRedisStore(rdb, store.Options{})
//
//	limiter, err := distributed.NewLimiter(distributed.Config{Store: st, Name: "api"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d, err := limiter.TryConsume(ctx, "user:42", 100, time.Minute)
//	if err != nil {
//		// the store is unreachable; the caller decides whether to fail open
//	}
//	if !d.Allowed {
//		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(time.Now()).Seconds())))
//	}
//
// # Windows
//
// Windows are aligned to multiples of their size since the Unix epoch, and
// counters live under "ratelimit:{entity}:{windowIndex}" with a TTL equal to
// the window size. Quota and window are passed on each call, so one limiter
// can serve several policies; different window sizes for the same entity use
// different indices and so rarely collide, but callers should keep one window
// size per entity.
//
// # Limitations
//
// Fixed windows permit up to twice the quota in a short span straddling a
// window boundary. Denied requests still increment the counter. A store
// failure is returned to the caller and never treated as allowed or denied.
package distributed
