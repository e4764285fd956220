package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Scheduler runs the full pipeline for the previous UTC day on a cron
// schedule. A tick that fires while a run is still active is skipped.
type Scheduler struct {
	runner *Runner
	cron   string
	loc    *time.Location
	policy RetryPolicy
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewScheduler returns a scheduler for runner. A nil loc means UTC and a nil
// clock means the real clock.
func NewScheduler(runner *Runner, cron string, loc *time.Location, policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{runner: runner, cron: cron, loc: loc, policy: policy, clock: clock, logger: logger}
}

// Run schedules the daily job and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(s.loc),
		gocron.WithClock(s.clock),
		gocron.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	job, err := sched.NewJob(
		gocron.CronJob(s.cron, false),
		gocron.NewTask(func() { s.tick(ctx) }),
		gocron.WithName("daily-earthquake-run"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule %q: %w", s.cron, err)
	}

	sched.Start()
	if next, err := job.NextRun(); err == nil {
		s.logger.Info("scheduler started", "cron", s.cron, "location", s.loc.String(), "next_run", next)
	}

	<-ctx.Done()
	return sched.Shutdown()
}

// tick processes the last completed UTC day.
func (s *Scheduler) tick(ctx context.Context) {
	w := domain.PreviousDay(s.clock.Now())
	res, err := s.runner.RunWithRetry(ctx, w, s.policy)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("scheduled run skipped, another run is active", "window_start", w.Start)
	case err != nil:
		s.logger.Error("scheduled run failed", "window_start", w.Start, "error", err)
	default:
		s.logger.Info("scheduled run succeeded", "window_start", w.Start, "inserted", res.Load.Inserted)
	}
}
