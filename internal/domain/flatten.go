package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SourceTimeLayout is how occurrence and update times are stored: RFC 3339 in
// UTC with millisecond precision, matching the USGS CSV feed.
const SourceTimeLayout = "2006-01-02T15:04:05.000Z"

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         json.RawMessage            `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
	Geometry   *geometry                  `json:"geometry"`
}

type geometry struct {
	Coordinates []json.RawMessage `json:"coordinates"` // [lon, lat, depth]
}

// CountFeatures returns the number of features in a FeatureCollection body.
func CountFeatures(body []byte) (int, error) {
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if fc.Type != "FeatureCollection" {
		return 0, fmt.Errorf("%w: type %q is not FeatureCollection", ErrMalformedDocument, fc.Type)
	}
	return len(fc.Features), nil
}

// FlattenFeatureCollection turns a GeoJSON FeatureCollection from the FDSN
// event service into staging rows. No numeric parsing happens here: numbers
// keep their source literal, and missing properties become null.
func FlattenFeatureCollection(body []byte) ([]EventRecord, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: type %q is not FeatureCollection", ErrMalformedDocument, fc.Type)
	}

	records := make([]EventRecord, 0, len(fc.Features))
	for i, f := range fc.Features {
		rec, err := flattenFeature(f)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", ErrMalformedDocument, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func flattenFeature(f feature) (EventRecord, error) {
	p := propertyReader{props: f.Properties}

	rec := EventRecord{
		Time:            p.epoch("time"),
		Mag:             p.text("mag"),
		MagType:         p.text("magType"),
		Nst:             p.text("nst"),
		Gap:             p.text("gap"),
		Dmin:            p.text("dmin"),
		Rms:             p.text("rms"),
		Net:             p.text("net"),
		Updated:         p.epoch("updated"),
		Place:           p.text("place"),
		Type:            p.text("type"),
		HorizontalError: p.text("horizontalError"),
		DepthError:      p.text("depthError"),
		MagError:        p.text("magError"),
		MagNst:          p.text("magNst"),
		Status:          p.text("status"),
		LocationSource:  p.text("locationSource"),
		MagSource:       p.text("magSource"),
	}
	if p.err != nil {
		return EventRecord{}, p.err
	}

	id, err := rawText(f.ID)
	if err != nil {
		return EventRecord{}, fmt.Errorf("id: %w", err)
	}
	rec.ID = id

	if f.Geometry != nil {
		coords := make([]Text, 3)
		for i := 0; i < len(coords) && i < len(f.Geometry.Coordinates); i++ {
			if coords[i], err = rawText(f.Geometry.Coordinates[i]); err != nil {
				return EventRecord{}, fmt.Errorf("coordinate %d: %w", i, err)
			}
		}
		rec.Longitude, rec.Latitude, rec.Depth = coords[0], coords[1], coords[2]
	}
	return rec, nil
}

// propertyReader converts properties to Text and keeps the first error.
type propertyReader struct {
	props map[string]json.RawMessage
	err   error
}

func (p *propertyReader) text(key string) Text {
	if p.err != nil {
		return Null
	}
	t, err := rawText(p.props[key])
	if err != nil {
		p.err = fmt.Errorf("property %s: %w", key, err)
	}
	return t
}

// epoch renders epoch milliseconds as SourceTimeLayout. String values pass
// through untouched; numbers that are not whole int64 milliseconds are errors.
func (p *propertyReader) epoch(key string) Text {
	if p.err != nil {
		return Null
	}
	raw := bytes.TrimSpace(p.props[key])
	if !isNumberLiteral(raw) {
		return p.text(key)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		p.err = fmt.Errorf("property %s: epoch %s is not integer milliseconds: %w", key, raw, err)
		return Null
	}
	return NewText(time.UnixMilli(ms).UTC().Format(SourceTimeLayout))
}

// rawText keeps a JSON value's source form: strings unquoted, numbers and
// booleans as literals, composite values as compact JSON.
func rawText(raw json.RawMessage) (Text, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Null, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Null, err
		}
		return NewText(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Null, err
		}
		return NewText(buf.String()), nil
	default:
		if !json.Valid(raw) {
			return Null, fmt.Errorf("invalid literal %q", raw)
		}
		return NewText(string(raw)), nil
	}
}

func isNumberLiteral(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
