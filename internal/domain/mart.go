package domain

import (
	"fmt"
	"sort"
	"strings"
)

// maxReportedBadMagnitudes bounds the offending rows listed in an error.
const maxReportedBadMagnitudes = 10

// EventDate returns the UTC calendar date of the record's occurrence time.
// ok is false when the record has no time and cannot be dated.
func EventDate(r EventRecord) (date string, ok bool, err error) {
	if r.Time.IsBlank() {
		return "", false, nil
	}
	t, err := r.Time.Time()
	if err != nil {
		return "", false, fmt.Errorf("event %s: %w", r.ID.String, err)
	}
	return t.Format(DateLayout), true, nil
}

// CountByDay counts records per occurrence date. Undated records are skipped.
// Days without records produce no row.
func CountByDay(records []EventRecord) ([]CountRow, error) {
	counts := make(map[string]int64)
	for _, r := range records {
		date, ok, err := EventDate(r)
		if err != nil {
			return nil, err
		}
		if ok {
			counts[date]++
		}
	}

	rows := make([]CountRow, 0, len(counts))
	for date, n := range counts {
		rows = append(rows, CountRow{Date: date, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

// CheckMagnitudes returns ErrMagnitudeNotNumeric when any present magnitude
// cannot be parsed as a finite float. Absent magnitudes are allowed.
func CheckMagnitudes(records []EventRecord) error {
	var bad []string
	total := 0
	for _, r := range records {
		if r.Mag.IsBlank() {
			continue
		}
		if _, err := r.Mag.Float(); err != nil {
			total++
			if len(bad) < maxReportedBadMagnitudes {
				bad = append(bad, fmt.Sprintf("%s=%q", r.ID.String, r.Mag.String))
			}
		}
	}
	if total == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d rows, e.g. %s", ErrMagnitudeNotNumeric, total, strings.Join(bad, ", "))
}

// AverageMagnitudeByDay averages magnitudes per occurrence date. Absent
// magnitudes do not count toward the mean; a day whose magnitudes are all
// absent has a nil Avg. Any non-numeric magnitude fails the whole computation.
func AverageMagnitudeByDay(records []EventRecord) ([]AvgRow, error) {
	if err := CheckMagnitudes(records); err != nil {
		return nil, err
	}

	type acc struct {
		sum float64
		n   int
	}
	days := make(map[string]*acc)
	for _, r := range records {
		date, ok, err := EventDate(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		a, seen := days[date]
		if !seen {
			a = &acc{}
			days[date] = a
		}
		if r.Mag.IsBlank() {
			continue
		}
		v, _ := r.Mag.Float() // validated by CheckMagnitudes
		a.sum += v
		a.n++
	}

	rows := make([]AvgRow, 0, len(days))
	for date, a := range days {
		row := AvgRow{Date: date}
		if a.n > 0 {
			avg := a.sum / float64(a.n)
			row.Avg = &avg
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}
