package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used in object keys, CLI flags, and marts.
const DateLayout = "2006-01-02"

// Window is a half-open [Start, End) query interval in UTC.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DailyWindow returns the window covering the UTC calendar day containing t.
func DailyWindow(t time.Time) Window {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// PreviousDay returns the daily window for the day before now. Scheduled runs
// process the last completed day.
func PreviousDay(now time.Time) Window {
	return DailyWindow(now.UTC().AddDate(0, 0, -1))
}

// ParseDate parses a YYYY-MM-DD string into its daily window.
func ParseDate(s string) (Window, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Window{}, fmt.Errorf("%w: date %q: %w", ErrInvalidWindow, s, err)
	}
	return DailyWindow(t), nil
}

// Validate rejects zero and inverted windows.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Date is the calendar date of the window start, used as the archive partition.
func (w Window) Date() string {
	return w.Start.UTC().Format(DateLayout)
}

func (w Window) String() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}
