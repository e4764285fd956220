// Package domain models USGS earthquake event data as it moves through the
// raw, staging, and mart layers.
//
// # Data Source
//
// Events come from the USGS FDSN event web service at
// https://earthquake.usgs.gov/fdsnws/event/1/query. Queries are issued with
// format=geojson and return a FeatureCollection; each Feature carries the
// event attributes as properties and a Point geometry.
//
// # FDSN Data Conventions
//
// Geometry:
//
//	"coordinates": [longitude, latitude, depth]
//	Longitude first (GeoJSON order). Depth is in kilometers, positive down.
//
// Time format:
//
//	"time" and "updated" are epoch milliseconds in the GeoJSON feed, e.g.
//	1704103200000. They are stored as RFC 3339 UTC with millisecond precision,
//	"2024-01-01T10:00:00.000Z", which is the form the CSV feed emits. The
//	conversion is exact; see [SourceTimeLayout].
//
// Identifiers:
//
//	The feature "id" is the preferred event id: network code plus event code,
//	e.g. "us7000lsze". It is expected to be unique per event but nothing in the
//	staging table enforces that.
//
// Optional values:
//
//	Properties such as nst, gap, dmin, and magError are frequently null.
//	horizontalError, depthError, magError, magNst, locationSource, and
//	magSource exist only in the CSV feed and are normally absent from GeoJSON.
//	Absent and null values are stored as SQL NULL, never as zero.
//
// # Storage Policy
//
// The staging layer keeps every column as text ([Text]). Numbers keep their
// source literal ("4.5", not 4.5000001), so no value is lost or coerced at
// ingest. Parsing happens when a mart needs a typed value, and a value that
// does not parse fails the mart build rather than being replaced by a default:
//
//	mag "4.5"   -> 4.5
//	mag null    -> excluded from the daily average
//	mag "4,5"   -> ErrMagnitudeNotNumeric, mart build fails
//
// # Marts
//
// Two daily marts are recomputed in full from the staging snapshot on every
// build: the number of events per UTC occurrence date ([CountByDay]) and the
// mean magnitude per UTC occurrence date ([AverageMagnitudeByDay]). Dates with
// no events have no row.
package domain
