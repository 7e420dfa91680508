package personnel

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day wire format.
const DateLayout = "2006-01-02"

// =============================================================================
// CLOCK - Injected "now" so cutoff logic is testable
// =============================================================================

// Clock returns the current time in the service's local zone.
type Clock func() time.Time

// SystemClock returns a Clock reading wall time in loc.
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return func() time.Time { return time.Now().In(loc) }
}

// FixedClock always returns t. Used by tests and the demo scenarios.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// =============================================================================
// CALENDAR DAYS
// =============================================================================

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay compares the calendar fields of a and b as written, without zone
// conversion. Stored dates are zone-less calendar days, "now" is local.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseDate parses YYYY-MM-DD into midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// ParseClock parses an HH:MM time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (use HH:MM): %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// SinceMidnight returns the wall-clock time of day of t as an offset from
// 00:00. On DST changeover days this differs from the elapsed time.
func SinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
