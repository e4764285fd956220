package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/parquet"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/s3"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/usgs"
	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

// app holds the wired pipeline and the connections it owns.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	db       *gorm.DB
	store    *s3.Store
	notifier *kafka.Notifier
	runner   *pipeline.Runner
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	store, err := s3.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics, db: db, store: store}

	var notifier pipeline.Notifier = pipeline.NopNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		a.notifier = kafka.NewNotifier(cfg, logger)
		notifier = a.notifier
		logger.Info("stage events enabled", "topic", cfg.KafkaEventsTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("stage events disabled")
	}

	opts := pipeline.Options{
		Layout: pipeline.Layout{Prefix: cfg.RawPrefix},
		Query:  cfg.Query(domain.Window{}),
	}
	if cfg.ParquetEnabled {
		opts.Columnar = parquet.Codec{}
	}

	a.runner = pipeline.New(
		usgs.NewClient(cfg.USGSBaseURL, cfg.USGSTimeout, metrics, logger),
		store,
		postgres.NewStaging(db, logger),
		postgres.NewMarts(db, logger),
		notifier,
		opts,
		logger,
		metrics,
	)
	return a, nil
}

// retryPolicy is the per-stage retry policy for scheduled and triggered runs.
func (a *app) retryPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		Retries:  a.cfg.RunRetries,
		Delay:    a.cfg.RunRetryDelay,
		MaxDelay: 8 * a.cfg.RunRetryDelay,
	}
}

// migrate prepares the bucket and the warehouse schemas.
func (a *app) migrate(ctx context.Context) error {
	if err := a.store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if err := postgres.Migrate(ctx, a.db); err != nil {
		return err
	}
	a.logger.Info("migrations applied", "bucket", a.cfg.S3Bucket)
	return nil
}

func (a *app) Close() {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	errs = append(errs, postgres.Close(a.db))
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("close error", "error", err)
	}
}
