package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const (
	CountMartTable = "dm.fct_count_day_earthquake"
	AvgMartTable   = "dm.fct_avg_day_earthquake"
)

// blankChars is domain.BlankChars as a Postgres escape string.
const blankChars = `E' \t\r\n'`

// numericValueOutOfRange is the SQLSTATE raised when a literal that passes
// the pattern does not fit a double precision value.
const numericValueOutOfRange = "22003"

var badMagnitudesSQL = `
SELECT id, mag, count(*) OVER () AS total
FROM ods.fct_earthquake
WHERE NULLIF(btrim(mag, ` + blankChars + `), '') IS NOT NULL
  AND btrim(mag, ` + blankChars + `) !~ '` + domain.DecimalPattern + `'
LIMIT 10`

var rebuildStatements = []string{
	`DROP TABLE IF EXISTS ` + CountMartTable,
	`CREATE TABLE ` + CountMartTable + ` AS
SELECT (btrim("time", ` + blankChars + `)::timestamptz AT TIME ZONE 'UTC')::date AS "date",
       count(*) AS "count"
FROM ods.fct_earthquake
WHERE NULLIF(btrim("time", ` + blankChars + `), '') IS NOT NULL
GROUP BY 1
ORDER BY 1`,
	`DROP TABLE IF EXISTS ` + AvgMartTable,
	`CREATE TABLE ` + AvgMartTable + ` AS
SELECT (btrim("time", ` + blankChars + `)::timestamptz AT TIME ZONE 'UTC')::date AS "date",
       avg(NULLIF(btrim(mag, ` + blankChars + `), '')::double precision) AS "avg"
FROM ods.fct_earthquake
WHERE NULLIF(btrim("time", ` + blankChars + `), '') IS NOT NULL
GROUP BY 1
ORDER BY 1`,
}

// Marts rebuilds the daily aggregates from the whole staging table.
type Marts struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewMarts creates a mart builder over db.
func NewMarts(db *gorm.DB, logger *slog.Logger) *Marts {
	return &Marts{db: db, logger: logger}
}

type badMagnitude struct {
	ID    *string
	Mag   string
	Total int64
}

// Rebuild replaces both marts in one transaction. It refuses to run while
// staging holds a magnitude that does not parse as a number, leaving the
// previous marts in place.
func (m *Marts) Rebuild(ctx context.Context) (domain.MartResult, error) {
	var res domain.MartResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bad []badMagnitude
		if err := tx.Raw(badMagnitudesSQL).Scan(&bad).Error; err != nil {
			return fmt.Errorf("check magnitudes: %w", err)
		}
		if len(bad) > 0 {
			return magnitudeError(bad)
		}

		for _, stmt := range rebuildStatements {
			if err := tx.Exec(stmt).Error; err != nil {
				return rebuildError(err)
			}
		}
		if err := tx.Table(CountMartTable).Count(&res.CountRows).Error; err != nil {
			return fmt.Errorf("count %s: %w", CountMartTable, err)
		}
		if err := tx.Table(AvgMartTable).Count(&res.AvgRows).Error; err != nil {
			return fmt.Errorf("count %s: %w", AvgMartTable, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrMagnitudeNotNumeric) {
			return domain.MartResult{}, err
		}
		return domain.MartResult{}, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	m.logger.Debug("marts rebuilt", "count_rows", res.CountRows, "avg_rows", res.AvgRows)
	return res, nil
}

// Ping checks the warehouse is reachable.
func (m *Marts) Ping(ctx context.Context) error {
	return ping(ctx, m.db)
}

// CountMart reads dm.fct_count_day_earthquake ordered by date.
func (m *Marts) CountMart(ctx context.Context) ([]domain.CountRow, error) {
	var rows []domain.CountRow
	err := m.db.WithContext(ctx).
		Raw(`SELECT to_char("date", 'YYYY-MM-DD') AS date, "count" AS count FROM ` + CountMartTable + ` ORDER BY 1`).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, CountMartTable, err)
	}
	return rows, nil
}

// AvgMart reads dm.fct_avg_day_earthquake ordered by date.
func (m *Marts) AvgMart(ctx context.Context) ([]domain.AvgRow, error) {
	var rows []domain.AvgRow
	err := m.db.WithContext(ctx).
		Raw(`SELECT to_char("date", 'YYYY-MM-DD') AS date, "avg" AS avg FROM ` + AvgMartTable + ` ORDER BY 1`).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, AvgMartTable, err)
	}
	return rows, nil
}

// rebuildError classifies a failed rebuild statement. A magnitude that matches
// the pattern but overflows or underflows double precision is as malformed as
// one that does not match.
func rebuildError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericValueOutOfRange {
		return fmt.Errorf("%w: %s", domain.ErrMagnitudeNotNumeric, pgErr.Message)
	}
	return fmt.Errorf("rebuild marts: %w", err)
}

func magnitudeError(bad []badMagnitude) error {
	samples := make([]string, len(bad))
	for i, b := range bad {
		id := "<null>"
		if b.ID != nil {
			id = *b.ID
		}
		samples[i] = fmt.Sprintf("%s=%q", id, b.Mag)
	}
	return fmt.Errorf("%w: %d rows, e.g. %s", domain.ErrMagnitudeNotNumeric, bad[0].Total, strings.Join(samples, ", "))
}
