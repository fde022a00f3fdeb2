package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	dccontext "github.com/vnykmshr/distcache/pkg/common/context"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/common/validation"
	"github.com/vnykmshr/distcache/pkg/metrics"
)

// Kind identifies what a job does to its tags.
type Kind string

const (
	// KindPrune drops index members whose entries no longer exist.
	KindPrune Kind = "prune"

	// KindInvalidate deletes every entry carrying the tags.
	KindInvalidate Kind = "invalidate"
)

// TagRef names a tag within an optional module.
type TagRef struct {
	Tag    string
	Module string
}

// TagMaintainer is the part of the tagged cache the scheduler drives.
// *cache.TaggedCache satisfies it.
type TagMaintainer interface {
	PruneTag(ctx context.Context, tag, module string) (int, error)
	InvalidateByTag(ctx context.Context, tag, module string) (int, error)
}

// Config holds configuration for a maintenance Scheduler.
type Config struct {
	// Cache receives the scheduled prune and invalidate calls.
	Cache TagMaintainer

	// Location evaluates schedules. If nil, time.Local is used.
	Location *time.Location

	// JobTimeout bounds a single run of a job across all its tags (defaults to 30s).
	JobTimeout time.Duration

	// OnError is called after a run that failed for at least one tag.
	OnError func(job Job, err error)

	// Logger receives job outcomes.
	Logger zerolog.Logger

	// Metrics records job outcomes. Nil disables instrumentation.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default scheduler configuration without a cache.
func DefaultConfig() Config {
	return Config{
		Location:   time.Local,
		JobTimeout: 30 * time.Second,
		Logger:     zerolog.Nop(),
	}
}

// Job describes a scheduled maintenance job.
type Job struct {
	ID       string
	Kind     Kind
	Schedule string
	Tags     []TagRef
	NextRun  time.Time
	PrevRun  time.Time
	Runs     int
	Failures int
}

type job struct {
	Job
	entry cron.EntryID
}

// Scheduler runs prune and invalidate jobs on cron schedules. Schedules take
// an optional leading seconds field and the usual descriptors ("@hourly",
// "@every 10m"). A run still in progress when its next tick fires is skipped.
//
// Nothing runs until Start; the cache itself never needs a Scheduler.
type Scheduler struct {
	config Config
	logger zerolog.Logger
	parser cron.Parser
	cron   *cron.Cron

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Scheduler.
func New(config Config) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	logger := config.Logger.With().Str("component", "MaintenanceScheduler").Logger()
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	adapter := cronLogger{logger: logger}

	return &Scheduler{
		config: config,
		logger: logger,
		parser: parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(config.Location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		jobs: make(map[string]*job),
	}, nil
}

// validateConfig validates the scheduler configuration.
func validateConfig(config Config) error {
	if err := validation.ValidateNotNil("maintenance", "cache", config.Cache); err != nil {
		return err
	}
	if config.JobTimeout < 0 {
		return validation.ValidatePositiveDuration("maintenance", "job_timeout", config.JobTimeout)
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	return config
}

// ValidateSchedule checks a cron expression without scheduling anything.
func (s *Scheduler) ValidateSchedule(spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return dcerrors.NewValidationError("maintenance", "schedule", spec, err.Error()).
			WithHint(`use "[sec] min hour dom month dow" or a descriptor such as "@hourly"`)
	}
	return nil
}

// NextRuns returns the next n activation times of spec after from.
func (s *Scheduler) NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	if err := validation.ValidatePositive("maintenance", "n", n); err != nil {
		return nil, err
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil, s.ValidateSchedule(spec)
	}
	runs := make([]time.Time, 0, n)
	current := from.In(s.config.Location)
	for i := 0; i < n; i++ {
		current = schedule.Next(current)
		runs = append(runs, current)
	}
	return runs, nil
}

// SchedulePrune registers a job that prunes stale members from each tag's index.
func (s *Scheduler) SchedulePrune(id, spec string, tags ...TagRef) error {
	return s.schedule(id, KindPrune, spec, tags)
}

// ScheduleInvalidation registers a job that invalidates each tag, e.g. a
// nightly flush of the frequent tag.
func (s *Scheduler) ScheduleInvalidation(id, spec string, tags ...TagRef) error {
	return s.schedule(id, KindInvalidate, spec, tags)
}

func (s *Scheduler) schedule(id string, kind Kind, spec string, tags []TagRef) error {
	if err := validation.ValidateNotEmpty("maintenance", "id", id); err != nil {
		return err
	}
	if len(tags) == 0 {
		return dcerrors.NewValidationError("maintenance", "tags", tags, "cannot be empty").
			WithHint("pass at least one TagRef")
	}
	for _, ref := range tags {
		if err := validation.ValidateNotEmpty("maintenance", "tag", ref.Tag); err != nil {
			return err
		}
	}
	if err := s.ValidateSchedule(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return dcerrors.NewValidationError("maintenance", "id", id, "already scheduled").
			WithHint("cancel the existing job first")
	}

	j := &job{Job: Job{ID: id, Kind: kind, Schedule: spec, Tags: append([]TagRef(nil), tags...)}}
	entry, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), j) })
	if err != nil {
		return fmt.Errorf("schedule %s job %q: %w", kind, id, err)
	}
	j.entry = entry
	s.jobs[id] = j

	s.logger.Info().Str("job", id).Str("kind", string(kind)).Str("schedule", spec).Int("tags", len(tags)).Msg("Scheduled maintenance job.")
	return nil
}

// Cancel removes a job. It reports whether the job existed; a run already in
// progress finishes.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, id)
	return true
}

// RunNow runs a job immediately, outside its schedule, and returns the number
// of keys it affected.
func (s *Scheduler) RunNow(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("maintenance job %q not found", id)
	}
	return s.run(ctx, j)
}

// Entries returns the scheduled jobs ordered by ID.
func (s *Scheduler) Entries() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		snapshot := j.Job
		snapshot.Tags = append([]TagRef(nil), j.Tags...)
		entry := s.cron.Entry(j.entry)
		snapshot.NextRun, snapshot.PrevRun = entry.Next, entry.Prev
		out = append(out, snapshot)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Start begins running jobs in the background. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// run executes one pass of j over all its tags. Failures are logged and
// reported, never retried; the next tick is the retry.
func (s *Scheduler) run(ctx context.Context, j *job) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	var total int
	var errs []error
	for _, ref := range j.Tags {
		var n int
		var err error
		switch j.Kind {
		case KindPrune:
			n, err = s.config.Cache.PruneTag(ctx, ref.Tag, ref.Module)
		case KindInvalidate:
			n, err = s.config.Cache.InvalidateByTag(ctx, ref.Tag, ref.Module)
		}
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s/%s: %w", j.Kind, ref.Module, ref.Tag, err))
		}
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	j.Runs++
	if err != nil {
		j.Failures++
	}
	snapshot := j.Job
	s.mu.Unlock()

	if err != nil {
		result := metrics.ResultError
		if dccontext.IsTimedOut(ctx) {
			result = metrics.ResultTimeout
		}
		s.config.Metrics.MaintenanceRun(string(j.Kind), result)
		s.logger.Error().Err(err).Str("job", j.ID).Int("affected", total).Str("result", result).Msg("Maintenance job failed.")
		if s.config.OnError != nil {
			s.config.OnError(snapshot, err)
		}
		return total, err
	}

	s.config.Metrics.MaintenanceRun(string(j.Kind), metrics.ResultOK)
	s.logger.Debug().Str("job", j.ID).Int("affected", total).Msg("Maintenance job completed.")
	return total, nil
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
