package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Text is a raw source value kept exactly as received. Valid is false when the
// source had no value (JSON null or a missing key). Typed views are parsed on
// demand, so callers decide when to risk a parse failure.
type Text struct {
	String string
	Valid  bool
}

// NewText returns a valid Text holding s.
func NewText(s string) Text {
	return Text{String: s, Valid: true}
}

// Null is the Text for an absent source value.
var Null = Text{}

// BlankChars is the whitespace trimmed from values before they are parsed.
// The warehouse trims the same set.
const BlankChars = " \t\r\n"

func (t Text) trimmed() string {
	return strings.Trim(t.String, BlankChars)
}

// IsBlank reports whether the value is absent or only whitespace.
func (t Text) IsBlank() bool {
	return !t.Valid || t.trimmed() == ""
}

// Ptr returns a pointer to the string, or nil when the value is absent.
func (t Text) Ptr() *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// TextFromPtr is the inverse of Ptr.
func TextFromPtr(p *string) Text {
	if p == nil {
		return Null
	}
	return NewText(*p)
}

// DecimalPattern matches the plain decimal literals accepted as numbers,
// optionally signed and with an exponent. The warehouse applies the same
// pattern, so both sides agree on what counts as numeric.
const DecimalPattern = `^[+-]{0,1}([0-9]+(\.[0-9]*){0,1}|\.[0-9]+)([eE][+-]{0,1}[0-9]+){0,1}$`

var decimalLiteral = regexp.MustCompile(DecimalPattern)

// Float parses the value as a finite float64. Blank values, text such as
// "NaN" or "Inf", hexadecimal or underscored forms, and literals too large or
// too small for a float64 are errors.
func (t Text) Float() (float64, error) {
	if t.IsBlank() {
		return 0, fmt.Errorf("parse float: value is empty")
	}
	s := t.trimmed()
	if !decimalLiteral.MatchString(s) {
		return 0, fmt.Errorf("parse float %q: not a decimal number", t.String)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", t.String, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse float %q: not finite", t.String)
	}
	// ParseFloat rounds underflow to zero without an error.
	if v == 0 && strings.ContainsAny(mantissa(s), "123456789") {
		return 0, fmt.Errorf("parse float %q: %w", t.String, strconv.ErrRange)
	}
	return v, nil
}

func mantissa(s string) string {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		return s[:i]
	}
	return s
}

// Time parses the value as an RFC 3339 timestamp and returns it in UTC.
func (t Text) Time() (time.Time, error) {
	if t.IsBlank() {
		return time.Time{}, fmt.Errorf("parse time: value is empty")
	}
	v, err := time.Parse(time.RFC3339Nano, t.trimmed())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", t.String, err)
	}
	return v.UTC(), nil
}

// Scan implements sql.Scanner.
func (t *Text) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Null
	case string:
		*t = NewText(v)
	case []byte:
		*t = NewText(string(v))
	default:
		return fmt.Errorf("scan text: unsupported type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (t Text) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.String, nil
}

// MarshalJSON encodes an absent value as null.
func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.String)
}

// UnmarshalJSON decodes null as an absent value.
func (t *Text) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Null
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = NewText(s)
	return nil
}
