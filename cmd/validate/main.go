// Command validate cross-checks the warehouse. It recomputes both daily marts
// in Go from the staging snapshot and compares them with the dm tables, checks
// staging for duplicate or undatable events and, with -date, verifies that
// every archived event of that day reached staging.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/validate [-date 2024-01-01]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/s3"
	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

// avgTolerance absorbs summation order differences between Go and Postgres.
const avgTolerance = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	date := flag.String("date", "", "also check the raw archive of this UTC day (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if code := run(context.Background(), cfg, *date); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg *config.Config, date string) int {
	logger := slog.New(slog.DiscardHandler)

	fmt.Println("=== Earthquake Warehouse Validation ===")
	fmt.Println()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	defer postgres.Close(db) //nolint:errcheck // process exits right after

	staged, err := postgres.NewStaging(db, logger).Snapshot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	marts := postgres.NewMarts(db, logger)
	countMart, err := marts.CountMart(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	avgMart, err := marts.AvgMart(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStaging(staged),
		validateCountMart(staged, countMart),
		validateAvgMart(staged, avgMart),
	}

	rawEvents := 0
	if date != "" {
		w, err := domain.ParseDate(date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
		raw, err := loadRaw(ctx, cfg, w, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load raw archive: %v\n", err)
			return 1
		}
		rawEvents = len(raw)
		phases = append(phases, validateRawCoverage(raw, staged))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d staged, %d count mart, %d avg mart", len(staged), len(countMart), len(avgMart))
	if date != "" {
		fmt.Printf(", %d archived for %s", rawEvents, date)
	}
	fmt.Println()

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadRaw flattens every archived JSON page of w.
func loadRaw(ctx context.Context, cfg *config.Config, w domain.Window, logger *slog.Logger) ([]domain.EventRecord, error) {
	store, err := s3.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	layout := pipeline.Layout{Prefix: cfg.RawPrefix}
	keys, err := store.List(ctx, layout.DatePrefix(w))
	if err != nil {
		return nil, err
	}
	var out []domain.EventRecord
	for _, key := range keys {
		if !pipeline.IsPageKey(key) {
			continue
		}
		body, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		records, err := domain.FlattenFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// validateStaging checks that no event id is staged twice and that every
// staged time is either absent or an RFC 3339 timestamp.
func validateStaging(staged []domain.EventRecord) *phase {
	p := &phase{name: "Staging integrity"}
	seen := make(map[string]int, len(staged))
	for _, r := range staged {
		if r.ID.Valid {
			seen[r.ID.String]++
		}
		if _, _, err := domain.EventDate(r); err != nil {
			p.errorf("%v", err)
		}
	}
	for id, n := range seen {
		if n > 1 {
			p.errorf("id %s staged %d times", id, n)
		}
	}
	return p
}

// validateCountMart compares dm.fct_count_day_earthquake with a recount.
func validateCountMart(staged []domain.EventRecord, got []domain.CountRow) *phase {
	p := &phase{name: "Count mart parity"}
	want, err := domain.CountByDay(staged)
	if err != nil {
		p.errorf("recount: %v", err)
		return p
	}
	gotByDate := make(map[string]int64, len(got))
	for _, r := range got {
		gotByDate[r.Date] = r.Count
	}
	for _, w := range want {
		g, ok := gotByDate[w.Date]
		switch {
		case !ok:
			p.errorf("%s: missing from mart, want count %d", w.Date, w.Count)
		case g != w.Count:
			p.errorf("%s: count %d, want %d", w.Date, g, w.Count)
		}
		delete(gotByDate, w.Date)
	}
	for date, g := range gotByDate {
		p.errorf("%s: unexpected mart row with count %d", date, g)
	}
	return p
}

// validateAvgMart compares dm.fct_avg_day_earthquake with a recomputation.
func validateAvgMart(staged []domain.EventRecord, got []domain.AvgRow) *phase {
	p := &phase{name: "Average magnitude mart parity"}
	want, err := domain.AverageMagnitudeByDay(staged)
	if err != nil {
		p.errorf("recompute: %v", err)
		return p
	}
	gotByDate := make(map[string]*float64, len(got))
	for _, r := range got {
		gotByDate[r.Date] = r.Avg
	}
	for _, w := range want {
		g, ok := gotByDate[w.Date]
		switch {
		case !ok:
			p.errorf("%s: missing from mart, want avg %s", w.Date, formatAvg(w.Avg))
		case !avgEqual(g, w.Avg):
			p.errorf("%s: avg %s, want %s", w.Date, formatAvg(g), formatAvg(w.Avg))
		}
		delete(gotByDate, w.Date)
	}
	for date, g := range gotByDate {
		p.errorf("%s: unexpected mart row with avg %s", date, formatAvg(g))
	}
	return p
}

// validateRawCoverage checks every archived event id is present in staging.
func validateRawCoverage(raw, staged []domain.EventRecord) *phase {
	p := &phase{name: "Raw archive coverage"}
	present := make(map[string]bool, len(staged))
	for _, r := range staged {
		if r.ID.Valid {
			present[r.ID.String] = true
		}
	}
	var missing []string
	for _, r := range raw {
		if r.ID.Valid && !present[r.ID.String] {
			missing = append(missing, r.ID.String)
		}
	}
	if len(missing) > 0 {
		p.errorf("%d archived events not staged: %s", len(missing), strings.Join(head(missing, 10), ", "))
	}
	return p
}

func avgEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) <= avgTolerance
}

func formatAvg(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.6f", *v)
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
