/*
Package ratelimit groups the rate limiting primitives of distcache.

  - distributed: fixed-window quotas shared by every process using one store

Quotas are checked with a single atomic increment per request:

	limiter, _ := distributed.NewLimiter(distributed.Config{Store: st})
	d, err := limiter.TryConsume(ctx, "user:42", 100, time.Minute)
	if err == nil && !d.Allowed {
		// reject, retry after d.RetryAfter(time.Now())
	}

Limiters hold no local state, so they can be shared freely or created per
request. Store failures are returned to the caller rather than being treated
as allowed or denied.
*/
package ratelimit
