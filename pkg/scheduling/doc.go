/*
Package scheduling groups the background jobs distcache can run.

  - maintenance: cron-driven tag index pruning and scheduled invalidations

The cache, lock and rate limiter never start goroutines of their own; a
maintenance scheduler runs only when the application creates and starts one:

	s, _ := maintenance.New(maintenance.Config{Cache: taggedCache})
	s.SchedulePrune("orders", "@every 10m", maintenance.TagRef{Tag: "customer:42", Module: "orders"})
	s.Start()
	defer func() { <-s.Stop().Done() }()
*/
package scheduling
