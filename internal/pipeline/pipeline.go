package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// ErrRunInProgress is returned when a stage is requested while another run
// holds the runner.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Options configures a Runner.
type Options struct {
	Layout Layout
	// Query carries the filters and page size applied to every extraction.
	// Its Window is replaced per run.
	Query domain.Query
	// Columnar, when set, writes a columnar rendition next to each page.
	Columnar ColumnarEncoder
}

// ExtractResult describes the objects archived for one window.
type ExtractResult struct {
	Window domain.Window `json:"window"`
	Pages  int           `json:"pages"`
	Events int           `json:"events"`
	Keys   []string      `json:"keys"`
	// Leftover lists objects of the window from earlier runs that this run
	// did not overwrite. The raw layer is never pruned.
	Leftover []string `json:"leftover,omitempty"`
}

// LoadResult aggregates the per-object outcomes of one staging load.
type LoadResult struct {
	Window     domain.Window `json:"window"`
	Objects    int           `json:"objects"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
}

// RunResult collects the results of every stage of a full run.
type RunResult struct {
	Extract ExtractResult     `json:"extract"`
	Load    LoadResult        `json:"load"`
	Marts   domain.MartResult `json:"marts"`
}

// Runner executes the extract, load and mart stages. At most one stage or run
// executes at a time.
type Runner struct {
	source   Source
	store    ObjectStore
	staging  Staging
	marts    MartBuilder
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu sync.Mutex
}

// New creates a Runner. A nil notifier disables stage events.
func New(source Source, store ObjectStore, staging Staging, marts MartBuilder, notifier Notifier, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{
		source:   source,
		store:    store,
		staging:  staging,
		marts:    marts,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness verifies the object store and the warehouse are reachable.
func (r *Runner) CheckReadiness(ctx context.Context) error {
	var errs []error
	if err := r.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("object store: %w", err))
	}
	if err := r.staging.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("warehouse: %w", err))
	}
	return errors.Join(errs...)
}

// Extract archives every response page for w.
func (r *Runner) Extract(ctx context.Context, w domain.Window) (ExtractResult, error) {
	unlock, err := r.acquire()
	if err != nil {
		return ExtractResult{}, err
	}
	defer unlock()
	return r.extract(ctx, w)
}

// LoadStaging appends the archived objects of w to staging.
func (r *Runner) LoadStaging(ctx context.Context, w domain.Window) (LoadResult, error) {
	unlock, err := r.acquire()
	if err != nil {
		return LoadResult{}, err
	}
	defer unlock()
	return r.loadStaging(ctx, w)
}

// BuildMarts recomputes both daily marts from the whole staging table.
func (r *Runner) BuildMarts(ctx context.Context) (domain.MartResult, error) {
	unlock, err := r.acquire()
	if err != nil {
		return domain.MartResult{}, err
	}
	defer unlock()
	return r.buildMarts(ctx)
}

// Run executes extract, load and marts for w in order, stopping at the first
// failed stage.
func (r *Runner) Run(ctx context.Context, w domain.Window) (RunResult, error) {
	return r.RunWithRetry(ctx, w, RetryPolicy{})
}

func (r *Runner) acquire() (func(), error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	r.metrics.RunInProgress.Set(1)
	return func() {
		r.metrics.RunInProgress.Set(0)
		r.mu.Unlock()
	}, nil
}

func (r *Runner) extract(ctx context.Context, w domain.Window) (ExtractResult, error) {
	res := ExtractResult{Window: w}
	err := r.track(ctx, domain.StageExtract, &w, func() ([]string, int64, error) {
		if err := w.Validate(); err != nil {
			return nil, 0, err
		}
		q := r.opts.Query
		q.Window = w

		for page, err := range r.source.Pages(ctx, q) {
			if err != nil {
				return res.Keys, int64(res.Events), fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
			}
			keys, err := r.archive(ctx, w, page)
			if err != nil {
				return res.Keys, int64(res.Events), err
			}
			res.Pages++
			res.Events += page.Features
			res.Keys = append(res.Keys, keys...)
		}

		leftover, err := r.leftover(ctx, w, res.Keys)
		res.Leftover = leftover
		return res.Keys, int64(res.Events), err
	})
	return res, err
}

// archive stores one page and, when enabled, its columnar rendition. The JSON
// page is written first and is the copy staging reads.
func (r *Runner) archive(ctx context.Context, w domain.Window, page domain.Page) ([]string, error) {
	key := r.opts.Layout.PageKey(w, page.Number)
	if err := r.store.Put(ctx, key, page.Body, "application/json"); err != nil {
		return nil, err
	}
	r.metrics.ObjectsArchived.WithLabelValues("json").Inc()
	keys := []string{key}

	if r.opts.Columnar == nil {
		return keys, nil
	}
	records, err := domain.FlattenFeatureCollection(page.Body)
	if err != nil {
		r.logger.Warn("columnar rendition skipped", "key", key, "error", err)
		return keys, nil
	}
	data, err := r.opts.Columnar.Encode(records)
	if err != nil {
		return keys, fmt.Errorf("encode %s: %w", key, err)
	}
	ckey := r.opts.Layout.ParquetKey(w, page.Number)
	if err := r.store.Put(ctx, ckey, data, r.opts.Columnar.ContentType()); err != nil {
		return keys, err
	}
	r.metrics.ObjectsArchived.WithLabelValues("parquet").Inc()
	return append(keys, ckey), nil
}

// leftover returns the objects of w written by an earlier run that returned
// more pages than this one.
func (r *Runner) leftover(ctx context.Context, w domain.Window, written []string) ([]string, error) {
	existing, err := r.store.List(ctx, r.opts.Layout.DatePrefix(w))
	if err != nil {
		return nil, err
	}
	var left []string
	for _, k := range existing {
		if !slices.Contains(written, k) {
			left = append(left, k)
		}
	}
	if len(left) > 0 {
		r.logger.Warn("earlier objects kept for window", "window_start", w.Start, "count", len(left))
	}
	return left, nil
}

func (r *Runner) loadStaging(ctx context.Context, w domain.Window) (LoadResult, error) {
	res := LoadResult{Window: w}
	err := r.track(ctx, domain.StageLoad, &w, func() ([]string, int64, error) {
		if err := w.Validate(); err != nil {
			return nil, 0, err
		}
		listed, err := r.store.List(ctx, r.opts.Layout.DatePrefix(w))
		if err != nil {
			return nil, 0, err
		}
		keys := slices.DeleteFunc(listed, func(k string) bool { return !IsPageKey(k) })
		if len(keys) == 0 {
			r.logger.Warn("no archived objects for window", "window_start", w.Start)
		}

		var failures []error
		for _, key := range keys {
			if ctx.Err() != nil {
				failures = append(failures, ctx.Err())
				break
			}
			res.Objects++
			out, err := r.loadObject(ctx, w, key)
			if err != nil {
				res.Failed++
				failures = append(failures, err)
				r.logger.Error("object load failed", "key", key, "error", err)
				continue
			}
			if out.Skipped {
				res.Skipped++
				r.metrics.ObjectsSkipped.Inc()
				continue
			}
			res.Inserted += out.Inserted
			res.Duplicates += out.Duplicates
			r.metrics.RowsStaged.Add(float64(out.Inserted))
			r.metrics.DuplicatesSkipped.Add(float64(out.Duplicates))
		}
		return keys, int64(res.Inserted), errors.Join(failures...)
	})
	return res, err
}

func (r *Runner) loadObject(ctx context.Context, w domain.Window, key string) (domain.ObjectLoad, error) {
	body, err := r.store.Get(ctx, key)
	if err != nil {
		return domain.ObjectLoad{}, err
	}
	records, err := domain.FlattenFeatureCollection(body)
	if err != nil {
		r.metrics.MalformedObjects.Inc()
		return domain.ObjectLoad{}, fmt.Errorf("%s: %w", key, err)
	}
	sum := sha256.Sum256(body)
	return r.staging.LoadObject(ctx, domain.StagedObject{
		Key:         key,
		Checksum:    hex.EncodeToString(sum[:]),
		WindowStart: w.Start,
		Metadata:    domain.CollectionMetadata(body),
		Records:     records,
	})
}

func (r *Runner) buildMarts(ctx context.Context) (domain.MartResult, error) {
	var res domain.MartResult
	err := r.track(ctx, domain.StageMarts, nil, func() ([]string, int64, error) {
		var err error
		res, err = r.marts.Rebuild(ctx)
		if err != nil {
			return nil, 0, err
		}
		r.metrics.MartRows.WithLabelValues("count").Set(float64(res.CountRows))
		r.metrics.MartRows.WithLabelValues("avg").Set(float64(res.AvgRows))
		return []string{"dm.fct_count_day_earthquake", "dm.fct_avg_day_earthquake"}, res.CountRows + res.AvgRows, nil
	})
	return res, err
}

// track times a stage, records its outcome and publishes its StageEvent.
// A failed publish is logged and does not fail the stage.
func (r *Runner) track(ctx context.Context, stage string, w *domain.Window, fn func() ([]string, int64, error)) error {
	started := domain.Now()
	start := time.Now()
	logger := r.logger.With("stage", stage)
	if w != nil {
		logger = logger.With("window_start", w.Start)
	}
	logger.Info("stage started")

	artifacts, rows, err := fn()

	event := domain.StageEvent{
		ID:         uuid.NewString(),
		Stage:      stage,
		Window:     w,
		Status:     domain.StatusSucceeded,
		Artifacts:  artifacts,
		Rows:       rows,
		StartedAt:  started,
		FinishedAt: domain.Now(),
	}
	r.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		event.Status = domain.StatusFailed
		event.Error = err.Error()
		logger.Error("stage failed", "error", err, "rows", rows)
	} else {
		logger.Info("stage finished", "rows", rows, "artifacts", len(artifacts))
	}
	r.metrics.StageRuns.WithLabelValues(stage, event.Status).Inc()

	if perr := r.notifier.Publish(context.WithoutCancel(ctx), event); perr != nil {
		logger.Warn("stage event not published", "error", perr)
	}
	return err
}
