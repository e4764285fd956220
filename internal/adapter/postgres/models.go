package postgres

import (
	"time"

	"gorm.io/datatypes"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// earthquakeRow is one row of ods.fct_earthquake. Every column is text so
// the staging layer never rejects an upstream value.
type earthquakeRow struct {
	Time            domain.Text `gorm:"column:time;type:text"`
	Latitude        domain.Text `gorm:"column:latitude;type:text"`
	Longitude       domain.Text `gorm:"column:longitude;type:text"`
	Depth           domain.Text `gorm:"column:depth;type:text"`
	Mag             domain.Text `gorm:"column:mag;type:text"`
	MagType         domain.Text `gorm:"column:mag_type;type:text"`
	Nst             domain.Text `gorm:"column:nst;type:text"`
	Gap             domain.Text `gorm:"column:gap;type:text"`
	Dmin            domain.Text `gorm:"column:dmin;type:text"`
	Rms             domain.Text `gorm:"column:rms;type:text"`
	Net             domain.Text `gorm:"column:net;type:text"`
	ID              domain.Text `gorm:"column:id;type:text;index:idx_fct_earthquake_id"`
	Updated         domain.Text `gorm:"column:updated;type:text"`
	Place           domain.Text `gorm:"column:place;type:text"`
	Type            domain.Text `gorm:"column:type;type:text"`
	HorizontalError domain.Text `gorm:"column:horizontal_error;type:text"`
	DepthError      domain.Text `gorm:"column:depth_error;type:text"`
	MagError        domain.Text `gorm:"column:mag_error;type:text"`
	MagNst          domain.Text `gorm:"column:mag_nst;type:text"`
	Status          domain.Text `gorm:"column:status;type:text"`
	LocationSource  domain.Text `gorm:"column:location_source;type:text"`
	MagSource       domain.Text `gorm:"column:mag_source;type:text"`
}

func (earthquakeRow) TableName() string { return "ods.fct_earthquake" }

// The staging row and the domain record share their field set, so the two
// convert directly.
func toRow(r domain.EventRecord) earthquakeRow { return earthquakeRow(r) }

func (r earthquakeRow) record() domain.EventRecord { return domain.EventRecord(r) }

// rawObjectLoad records every raw object appended to staging, keyed by
// object key, so reruns can recognise content they have already loaded.
type rawObjectLoad struct {
	ObjectKey   string         `gorm:"column:object_key;type:text;primaryKey"`
	Checksum    string         `gorm:"column:checksum;type:text;not null"`
	WindowStart time.Time      `gorm:"column:window_start;type:timestamptz;not null;index"`
	Features    int            `gorm:"column:features;not null"`
	Inserted    int            `gorm:"column:inserted;not null"`
	Duplicates  int            `gorm:"column:duplicates;not null"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb"`
	LoadedAt    time.Time      `gorm:"column:loaded_at;type:timestamptz;not null"`
}

func (rawObjectLoad) TableName() string { return "stg.raw_object_load" }
