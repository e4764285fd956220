// Package parquet renders staging rows as gzip-compressed Parquet, the
// columnar copy kept next to each raw JSON page.
package parquet

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/parquet-go/parquet-go"
)

// ContentType is the media type used when storing encoded objects.
const ContentType = "application/vnd.apache.parquet"

// eventRow mirrors domain.EventRecord. Pointer fields are optional columns so
// an absent value stays null instead of becoming an empty string.
type eventRow struct {
	Time            *string `parquet:"time,optional"`
	Latitude        *string `parquet:"latitude,optional"`
	Longitude       *string `parquet:"longitude,optional"`
	Depth           *string `parquet:"depth,optional"`
	Mag             *string `parquet:"mag,optional"`
	MagType         *string `parquet:"mag_type,optional"`
	Nst             *string `parquet:"nst,optional"`
	Gap             *string `parquet:"gap,optional"`
	Dmin            *string `parquet:"dmin,optional"`
	Rms             *string `parquet:"rms,optional"`
	Net             *string `parquet:"net,optional"`
	ID              *string `parquet:"id,optional"`
	Updated         *string `parquet:"updated,optional"`
	Place           *string `parquet:"place,optional"`
	Type            *string `parquet:"type,optional"`
	HorizontalError *string `parquet:"horizontal_error,optional"`
	DepthError      *string `parquet:"depth_error,optional"`
	MagError        *string `parquet:"mag_error,optional"`
	MagNst          *string `parquet:"mag_nst,optional"`
	Status          *string `parquet:"status,optional"`
	LocationSource  *string `parquet:"location_source,optional"`
	MagSource       *string `parquet:"mag_source,optional"`
}

// Codec exposes Encode through the pipeline's columnar encoder port.
type Codec struct{}

func (Codec) Encode(records []domain.EventRecord) ([]byte, error) { return Encode(records) }

func (Codec) ContentType() string { return ContentType }

// Encode writes records as a single gzip-compressed Parquet file.
func Encode(records []domain.EventRecord) ([]byte, error) {
	rows := make([]eventRow, len(records))
	for i := range records {
		rows[i] = toRow(records[i])
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[eventRow](&buf, parquet.Compression(&parquet.Gzip))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads records back from a file produced by Encode.
func Decode(data []byte) ([]domain.EventRecord, error) {
	r := parquet.NewGenericReader[eventRow](bytes.NewReader(data))
	defer r.Close()

	rows := make([]eventRow, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	records := make([]domain.EventRecord, n)
	for i := range records {
		records[i] = fromRow(rows[i])
	}
	return records, nil
}

func toRow(r domain.EventRecord) eventRow {
	return eventRow{
		Time:            r.Time.Ptr(),
		Latitude:        r.Latitude.Ptr(),
		Longitude:       r.Longitude.Ptr(),
		Depth:           r.Depth.Ptr(),
		Mag:             r.Mag.Ptr(),
		MagType:         r.MagType.Ptr(),
		Nst:             r.Nst.Ptr(),
		Gap:             r.Gap.Ptr(),
		Dmin:            r.Dmin.Ptr(),
		Rms:             r.Rms.Ptr(),
		Net:             r.Net.Ptr(),
		ID:              r.ID.Ptr(),
		Updated:         r.Updated.Ptr(),
		Place:           r.Place.Ptr(),
		Type:            r.Type.Ptr(),
		HorizontalError: r.HorizontalError.Ptr(),
		DepthError:      r.DepthError.Ptr(),
		MagError:        r.MagError.Ptr(),
		MagNst:          r.MagNst.Ptr(),
		Status:          r.Status.Ptr(),
		LocationSource:  r.LocationSource.Ptr(),
		MagSource:       r.MagSource.Ptr(),
	}
}

func fromRow(r eventRow) domain.EventRecord {
	return domain.EventRecord{
		Time:            domain.TextFromPtr(r.Time),
		Latitude:        domain.TextFromPtr(r.Latitude),
		Longitude:       domain.TextFromPtr(r.Longitude),
		Depth:           domain.TextFromPtr(r.Depth),
		Mag:             domain.TextFromPtr(r.Mag),
		MagType:         domain.TextFromPtr(r.MagType),
		Nst:             domain.TextFromPtr(r.Nst),
		Gap:             domain.TextFromPtr(r.Gap),
		Dmin:            domain.TextFromPtr(r.Dmin),
		Rms:             domain.TextFromPtr(r.Rms),
		Net:             domain.TextFromPtr(r.Net),
		ID:              domain.TextFromPtr(r.ID),
		Updated:         domain.TextFromPtr(r.Updated),
		Place:           domain.TextFromPtr(r.Place),
		Type:            domain.TextFromPtr(r.Type),
		HorizontalError: domain.TextFromPtr(r.HorizontalError),
		DepthError:      domain.TextFromPtr(r.DepthError),
		MagError:        domain.TextFromPtr(r.MagError),
		MagNst:          domain.TextFromPtr(r.MagNst),
		Status:          domain.TextFromPtr(r.Status),
		LocationSource:  domain.TextFromPtr(r.LocationSource),
		MagSource:       domain.TextFromPtr(r.MagSource),
	}
}
