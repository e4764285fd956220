package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Earthquake catalogue ETL",
	Long: `Pulls daily earthquake events from the USGS FDSN event service, archives
the raw responses in S3, appends them to the ods staging table and rebuilds
the dm daily marts in Postgres.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			slog.Error("failed to load config", "error", err)
			return err
		}
		logger = sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "quake-etl")
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, extractCmd, loadCmd, martsCmd, serveCmd, migrateCmd)
}

// windowFlag resolves --date, defaulting to the previous UTC day.
func windowFlag(cmd *cobra.Command) (domain.Window, error) {
	date, err := cmd.Flags().GetString("date")
	if err != nil {
		return domain.Window{}, err
	}
	if date == "" {
		return domain.PreviousDay(domain.Now()), nil
	}
	return domain.ParseDate(date)
}

func addDateFlag(cmd *cobra.Command) {
	cmd.Flags().String("date", "", "UTC calendar day to process, YYYY-MM-DD (default: yesterday)")
}

// printResult writes a stage result as indented JSON on stdout.
func printResult(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("print result: %w", err)
	}
	return nil
}

// withApp wires the pipeline, runs fn and releases every connection.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
