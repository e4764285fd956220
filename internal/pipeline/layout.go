package pipeline

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const (
	jsonSuffix    = ".json"
	parquetSuffix = ".gz.parquet"
)

// Layout maps windows and pages to raw-layer object keys:
//
//	{prefix}/{YYYY-MM-DD}/{YYYY-MM-DD}_00-00-00_p{NNNN}.json
//
// Keys depend only on the window and page number, so a rerun overwrites the
// objects of the previous run.
type Layout struct {
	Prefix string
}

// DatePrefix is the key prefix shared by every object of w, including the
// trailing slash.
func (l Layout) DatePrefix(w domain.Window) string {
	date := w.Date()
	if l.Prefix == "" {
		return date + "/"
	}
	return strings.TrimSuffix(l.Prefix, "/") + "/" + date + "/"
}

// PageKey is the key of the raw JSON response for page n of w.
func (l Layout) PageKey(w domain.Window, n int) string {
	return l.stem(w, n) + jsonSuffix
}

// ParquetKey is the key of the columnar rendition of page n of w.
func (l Layout) ParquetKey(w domain.Window, n int) string {
	return l.stem(w, n) + parquetSuffix
}

func (l Layout) stem(w domain.Window, n int) string {
	return fmt.Sprintf("%s%s_%s_p%04d", l.DatePrefix(w), w.Date(), w.Start.UTC().Format("15-04-05"), n)
}

// IsPageKey reports whether key names a raw JSON page.
func IsPageKey(key string) bool {
	return strings.HasSuffix(key, jsonSuffix)
}
