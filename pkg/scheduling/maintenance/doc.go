// Package maintenance schedules background upkeep for a tagged cache.
//
// Tag indices are cleaned lazily: members whose entries expired or were
// removed stay in the index until the tag is invalidated. For tags that are
// rarely invalidated, a periodic prune keeps the index from growing without
// bound. The same scheduler can drive periodic invalidations, such as a nightly
// flush of the shared frequent tag.
//
//	s, err := maintenance.New(maintenance.Config{Cache: taggedCache, Logger: logger})
//	if err != nil {
//		return err
//	}
//
//	// Every 10 minutes, drop stale members from two order tags
//	err = s.SchedulePrune("orders", "@every 10m",
//		maintenance.TagRef{Tag: "customer:42", Module: "orders"},
//		maintenance.TagRef{Tag: "customer:43", Module: "orders"})
//
//	// Flush the frequent tag at 03:00
//	err = s.ScheduleInvalidation("nightly", "0 0 3 * * *", maintenance.TagRef{Tag: "frequent"})
//
//	s.Start()
//	defer func() { <-s.Stop().Done() }()
//
// Schedules accept five or six fields (the leading seconds field is optional)
// and descriptors like "@hourly" or "@every 5m". Each run is bounded by
// JobTimeout; failures are logged, counted and passed to OnError, and the next
// tick is the only retry. Overlapping runs of one job are skipped.
package maintenance
