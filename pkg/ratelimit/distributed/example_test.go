package distributed_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vnykmshr/distcache/pkg/ratelimit/distributed"
	"github.com/vnykmshr/distcache/pkg/store"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// Example_basicUsage demonstrates a quota of three requests per minute.
func Example_basicUsage() {
	clock := fixedClock(time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC))
	st := store.NewMemoryStore(clock)

	limiter, err := distributed.NewLimiter(distributed.Config{Store: st, Clock: clock, Name: "api"})
	if err != nil {
		log.Fatalf("Failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		d, err := limiter.TryConsume(ctx, "user:42", 3, time.Minute)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Request %d: allowed=%v remaining=%d\n", i, d.Allowed, d.Remaining)
	}

	// Output:
	// Request 1: allowed=true remaining=2
	// Request 2: allowed=true remaining=1
	// Request 3: allowed=true remaining=0
	// Request 4: allowed=false remaining=0
}

// Example_retryAfter shows how long a denied caller should back off.
func Example_retryAfter() {
	now := time.Date(2024, 1, 1, 12, 0, 45, 0, time.UTC)
	clock := fixedClock(now)
	st := store.NewMemoryStore(clock)
	limiter, _ := distributed.NewLimiter(distributed.Config{Store: st, Clock: clock})

	ctx := context.Background()
	_, _ = limiter.TryConsume(ctx, "ip:10.0.0.1", 1, time.Minute)
	d, _ := limiter.TryConsume(ctx, "ip:10.0.0.1", 1, time.Minute)

	fmt.Println("allowed:", d.Allowed)
	fmt.Println("retry after:", d.RetryAfter(now))

	// Output:
	// allowed: false
	// retry after: 15s
}
