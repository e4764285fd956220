package domain

import (
	"fmt"
	"time"
)

// MaxPageSize is the largest limit the FDSN event service accepts per query.
const MaxPageSize = 20000

// BoundingBox restricts a query to a rectangular region in decimal degrees.
type BoundingBox struct {
	MinLatitude  float64 `json:"min_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// Validate checks coordinate ranges and ordering.
func (b BoundingBox) Validate() error {
	if b.MinLatitude < -90 || b.MaxLatitude > 90 || b.MinLatitude >= b.MaxLatitude {
		return fmt.Errorf("invalid latitude range [%g, %g]", b.MinLatitude, b.MaxLatitude)
	}
	if b.MinLongitude < -360 || b.MaxLongitude > 360 || b.MinLongitude >= b.MaxLongitude {
		return fmt.Errorf("invalid longitude range [%g, %g]", b.MinLongitude, b.MaxLongitude)
	}
	return nil
}

// Query describes one extraction against the upstream API.
type Query struct {
	Window       Window       `json:"window"`
	MinMagnitude *float64     `json:"min_magnitude,omitempty"`
	Region       *BoundingBox `json:"region,omitempty"`
	PageSize     int          `json:"page_size"`
}

// Page is one raw API response: the immutable Raw Event Batch.
type Page struct {
	Number    int       // 1-based position within the query
	Query     Query     // parameters that produced this page
	FetchedAt time.Time // when the response was received
	Body      []byte    // response payload, verbatim
	Features  int       // number of features in Body
}

// EventRecord is one row of ods.fct_earthquake. Every column is raw text.
type EventRecord struct {
	Time            Text `json:"time"`
	Latitude        Text `json:"latitude"`
	Longitude       Text `json:"longitude"`
	Depth           Text `json:"depth"`
	Mag             Text `json:"mag"`
	MagType         Text `json:"mag_type"`
	Nst             Text `json:"nst"`
	Gap             Text `json:"gap"`
	Dmin            Text `json:"dmin"`
	Rms             Text `json:"rms"`
	Net             Text `json:"net"`
	ID              Text `json:"id"`
	Updated         Text `json:"updated"`
	Place           Text `json:"place"`
	Type            Text `json:"type"`
	HorizontalError Text `json:"horizontal_error"`
	DepthError      Text `json:"depth_error"`
	MagError        Text `json:"mag_error"`
	MagNst          Text `json:"mag_nst"`
	Status          Text `json:"status"`
	LocationSource  Text `json:"location_source"`
	MagSource       Text `json:"mag_source"`
}

// CountRow is one row of dm.fct_count_day_earthquake.
type CountRow struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// AvgRow is one row of dm.fct_avg_day_earthquake. Avg is nil when every
// magnitude recorded for the day was absent.
type AvgRow struct {
	Date string   `json:"date"`
	Avg  *float64 `json:"avg"`
}

// Stage names used in logs, metrics, and stage events.
const (
	StageExtract = "extract"
	StageLoad    = "load_staging"
	StageMarts   = "build_marts"
)

// Stage event statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// StageEvent reports the outcome of one stage invocation and the artifacts it
// produced, so the next stage (or an outside consumer) can pick them up.
type StageEvent struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	Window     *Window   `json:"window,omitempty"`
	Status     string    `json:"status"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Rows       int64     `json:"rows"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
