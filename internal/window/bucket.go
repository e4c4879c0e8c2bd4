// Package window provides the reusable windowing and temporal-join
// primitives shared by all detection rules: fixed-width time bucketing,
// rolling baseline statistics, forward asof matching, and concentration
// ratios. Tie-breaking and complexity are explicit so rule behavior is
// testable.
package window

import (
	"time"
)

// Bucket maps a timestamp to its fixed-width time bucket:
// floor(epoch_seconds / windowSeconds). windowSeconds must be positive.
func Bucket(ts time.Time, windowSeconds int64) int64 {
	if windowSeconds <= 0 {
		panic("window: non-positive bucket width")
	}
	sec := ts.Unix()
	b := sec / windowSeconds
	if sec < 0 && sec%windowSeconds != 0 {
		b--
	}
	return b
}

// DayKey returns the UTC calendar-day key for a timestamp. Rules that scope
// patterns to "the same day" group by this key.
func DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// MonthKey returns the UTC calendar-month key for a timestamp.
func MonthKey(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}

// Interval is a half-open time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the interval.
func (iv Interval) Contains(ts time.Time) bool {
	return !ts.Before(iv.Start) && ts.Before(iv.End)
}

// InAnyInterval reports whether ts falls inside any of the intervals.
func InAnyInterval(ts time.Time, intervals []Interval) bool {
	for _, iv := range intervals {
		if iv.Contains(ts) {
			return true
		}
	}
	return false
}

// MinuteOfDay returns the minute offset of ts within its UTC day. Close and
// fixing windows are configured as minute offsets.
func MinuteOfDay(ts time.Time) int {
	u := ts.UTC()
	return u.Hour()*60 + u.Minute()
}
