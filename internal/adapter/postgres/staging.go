package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const (
	insertBatchSize = 1000 // 22 bind parameters per row
	idLookupChunk   = 5000
)

// Staging appends flattened events to ods.fct_earthquake.
//
// Every object is loaded in its own transaction together with its manifest
// entry in stg.raw_object_load. An object whose key and checksum are already
// recorded is skipped; otherwise only events whose id is not yet staged are
// appended. Events without an id cannot be matched and are always appended.
type Staging struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStaging creates a staging loader over db.
func NewStaging(db *gorm.DB, logger *slog.Logger) *Staging {
	return &Staging{db: db, logger: logger}
}

// LoadObject appends the records of one raw object.
func (s *Staging) LoadObject(ctx context.Context, obj domain.StagedObject) (domain.ObjectLoad, error) {
	out := domain.ObjectLoad{Key: obj.Key, Features: len(obj.Records)}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev rawObjectLoad
		err := tx.Where("object_key = ?", obj.Key).Take(&prev).Error
		switch {
		case err == nil && prev.Checksum == obj.Checksum:
			out.Skipped = true
			return nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("read load manifest: %w", err)
		}

		staged, err := stagedIDs(tx, obj.Records)
		if err != nil {
			return err
		}
		rows, dups := freshRows(obj.Records, staged)
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert staging rows: %w", err)
			}
		}
		out.Inserted, out.Duplicates = len(rows), dups

		entry := rawObjectLoad{
			ObjectKey:   obj.Key,
			Checksum:    obj.Checksum,
			WindowStart: obj.WindowStart,
			Features:    out.Features,
			Inserted:    out.Inserted,
			Duplicates:  out.Duplicates,
			Metadata:    datatypes.JSON(obj.Metadata),
			LoadedAt:    domain.Now(),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_key"}},
			UpdateAll: true,
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("write load manifest: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ObjectLoad{}, fmt.Errorf("%w: load %s: %w", domain.ErrStorage, obj.Key, err)
	}

	if out.Skipped {
		s.logger.Debug("object already staged", "key", obj.Key)
	} else {
		s.logger.Debug("object staged", "key", obj.Key, "inserted", out.Inserted, "duplicates", out.Duplicates)
	}
	return out, nil
}

// Ping checks the warehouse is reachable.
func (s *Staging) Ping(ctx context.Context) error {
	return ping(ctx, s.db)
}

// Snapshot returns every staged event.
func (s *Staging) Snapshot(ctx context.Context) ([]domain.EventRecord, error) {
	var rows []earthquakeRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: read staging: %w", domain.ErrStorage, err)
	}
	out := make([]domain.EventRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// Count returns the number of staged rows.
func (s *Staging) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&earthquakeRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count staging: %w", domain.ErrStorage, err)
	}
	return n, nil
}

// stagedIDs returns which ids of records are already present in staging.
func stagedIDs(tx *gorm.DB, records []domain.EventRecord) (map[string]struct{}, error) {
	ids := eventIDs(records)
	staged := make(map[string]struct{})
	for start := 0; start < len(ids); start += idLookupChunk {
		end := min(start+idLookupChunk, len(ids))
		var found []string
		err := tx.Model(&earthquakeRow{}).
			Where("id IN ?", ids[start:end]).
			Pluck("id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("look up staged ids: %w", err)
		}
		for _, id := range found {
			staged[id] = struct{}{}
		}
	}
	return staged, nil
}

// eventIDs returns the distinct non-null ids of records.
func eventIDs(records []domain.EventRecord) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if !r.ID.Valid {
			continue
		}
		if _, ok := seen[r.ID.String]; ok {
			continue
		}
		seen[r.ID.String] = struct{}{}
		ids = append(ids, r.ID.String)
	}
	return ids
}

// freshRows keeps the records whose id is neither staged nor repeated
// earlier in the same object, and counts the ones it drops.
func freshRows(records []domain.EventRecord, staged map[string]struct{}) ([]earthquakeRow, int) {
	rows := make([]earthquakeRow, 0, len(records))
	taken := make(map[string]struct{}, len(records))
	dups := 0
	for _, r := range records {
		if r.ID.Valid {
			if _, ok := staged[r.ID.String]; ok {
				dups++
				continue
			}
			if _, ok := taken[r.ID.String]; ok {
				dups++
				continue
			}
			taken[r.ID.String] = struct{}{}
		}
		rows = append(rows, toRow(r))
	}
	return rows, dups
}
