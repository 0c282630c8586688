package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/threadmap/internal/logging"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks. A run that is still in progress when its
// next tick arrives causes that tick to be skipped.
type Scheduler struct {
	cron       *cron.Cron
	log        zerolog.Logger
	jobTimeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	base context.Context
}

// New creates a new scheduler with the given timezone ("" means local time).
// Each run is cancelled after jobTimeout.
func New(timezone string, jobTimeout time.Duration) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}

	logger := logging.Component("scheduler")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	return &Scheduler{
		cron:       c,
		log:        logger,
		jobTimeout: jobTimeout,
		jobs:       make(map[string]cron.EntryID),
		base:       context.Background(),
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "*/15 * * * *" (every 15 minutes) or "@every 1h"
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = entryID
	s.mu.Unlock()
	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("Added job")

	return nil
}

func (s *Scheduler) run(name string, job Job) error {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.jobTimeout)
	defer cancel()

	s.log.Info().Str("job", name).Msg("Starting job")
	start := time.Now()

	err := job(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Job failed")
	} else {
		s.log.Info().Str("job", name).Dur("took", time.Since(start)).Msg("Job completed")
	}
	return err
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.Info().Str("job", name).Msg("Removed job")
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish. Running jobs see ctx cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.log.Info().Msg("Starting scheduler")
	s.cron.Start()
	<-ctx.Done()

	s.log.Info().Msg("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// RunNow immediately executes a job outside the schedule.
func (s *Scheduler) RunNow(name string, job Job) error {
	s.log.Info().Str("job", name).Msg("Running job now")
	return s.run(name, job)
}

// ListJobs returns info about scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// NextRun returns the next activation of a cron schedule after t.
func NextRun(schedule string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return sched.Next(t), nil
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
