package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Target selects what a triggered run executes.
type Target string

const (
	TargetAll     Target = "all"
	TargetExtract Target = "extract"
	TargetLoad    Target = "load"
	TargetMarts   Target = "marts"
)

// ParseTarget validates a target name. The empty string means TargetAll.
func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case "":
		return TargetAll, nil
	case TargetAll, TargetExtract, TargetLoad, TargetMarts:
		return t, nil
	default:
		return "", fmt.Errorf("unknown stage %q: want all, extract, load or marts", s)
	}
}

// Trigger starts target for w in the background and returns once the runner
// is held, or ErrRunInProgress when it is busy. The returned channel receives
// the outcome and is then closed.
func (r *Runner) Trigger(ctx context.Context, target Target, w domain.Window, p RetryPolicy) (<-chan error, error) {
	unlock, err := r.acquire()
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := r.runTarget(ctx, target, w, p)
		unlock()
		if err != nil {
			r.logger.Error("triggered run failed", "target", target, "window_start", w.Start, "error", err)
		}
		done <- err
	}()
	return done, nil
}

// runTarget executes target while the caller holds the runner.
func (r *Runner) runTarget(ctx context.Context, target Target, w domain.Window, p RetryPolicy) error {
	switch target {
	case TargetExtract:
		return r.retry(ctx, domain.StageExtract, p, func() error {
			_, err := r.extract(ctx, w)
			return err
		})
	case TargetLoad:
		return r.retry(ctx, domain.StageLoad, p, func() error {
			_, err := r.loadStaging(ctx, w)
			return err
		})
	case TargetMarts:
		return r.retry(ctx, domain.StageMarts, p, func() error {
			_, err := r.buildMarts(ctx)
			return err
		})
	case TargetAll:
		_, err := r.runStages(ctx, w, p)
		return err
	default:
		return fmt.Errorf("unknown stage %q", target)
	}
}
