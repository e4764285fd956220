package pipeline

import (
	"context"
	"errors"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// RetryPolicy controls how often a failed stage is retried within a run.
// The delay doubles after each attempt up to MaxDelay.
type RetryPolicy struct {
	Retries  int
	Delay    time.Duration
	MaxDelay time.Duration
}

// RunWithRetry executes extract, load and marts for w in order. Each stage is
// retried under p before the run gives up; a stage that still fails blocks
// the stages after it. Permanent errors are not retried.
func (r *Runner) RunWithRetry(ctx context.Context, w domain.Window, p RetryPolicy) (RunResult, error) {
	unlock, err := r.acquire()
	if err != nil {
		return RunResult{}, err
	}
	defer unlock()
	return r.runStages(ctx, w, p)
}

func (r *Runner) runStages(ctx context.Context, w domain.Window, p RetryPolicy) (RunResult, error) {
	var res RunResult
	r.logger.Info("run started", "window_start", w.Start, "window_end", w.End)

	err := r.retry(ctx, domain.StageExtract, p, func() (err error) {
		res.Extract, err = r.extract(ctx, w)
		return err
	})
	if err != nil {
		return res, err
	}
	err = r.retry(ctx, domain.StageLoad, p, func() (err error) {
		res.Load, err = r.loadStaging(ctx, w)
		return err
	})
	if err != nil {
		return res, err
	}
	err = r.retry(ctx, domain.StageMarts, p, func() (err error) {
		res.Marts, err = r.buildMarts(ctx)
		return err
	})
	if err != nil {
		return res, err
	}

	r.logger.Info("run finished",
		"window_start", w.Start,
		"pages", res.Extract.Pages,
		"inserted", res.Load.Inserted,
		"count_rows", res.Marts.CountRows,
	)
	return res, nil
}

func (r *Runner) retry(ctx context.Context, stage string, p RetryPolicy, fn func() error) error {
	delay := p.Delay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= p.Retries || !retryable(err) || ctx.Err() != nil {
			return err
		}
		r.metrics.RunRetries.Inc()
		r.logger.Warn("stage will be retried", "stage", stage, "attempt", attempt+1, "delay", delay, "error", err)
		if !sharedretry.SleepWithContext(ctx, delay) {
			return err
		}
		if p.MaxDelay > 0 {
			delay = sharedretry.NextBackoff(delay, p.MaxDelay)
		}
	}
}

// retryable reports whether rerunning a stage could change the outcome.
func retryable(err error) bool {
	if domain.IsPermanent(err) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
