// Package timeutil holds the clock and tick helpers shared by the cache backends.
package timeutil

import (
	"fmt"
	"time"
)

// TicksPerSecond is the number of 100-nanosecond intervals in a second.
const TicksPerSecond = int64(time.Second / 100)

// unixEpochTicks is the tick count of 1970-01-01T00:00:00Z measured from 0001-01-01T00:00:00Z.
const unixEpochTicks = int64(621355968000000000)

// Now returns the current wall-clock time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// UTC converts t to UTC, leaving the zero time untouched.
func UTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// Elapsed returns the seconds elapsed since start.
func Elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Ticks returns t as a count of 100-nanosecond intervals since 0001-01-01T00:00:00Z.
// This is the unit persisted in the expires column of the SQLite store.
func Ticks(t time.Time) int64 {
	t = t.UTC()
	return t.Unix()*TicksPerSecond + int64(t.Nanosecond()/100) + unixEpochTicks
}

// FromTicks is the inverse of Ticks. The result is in UTC.
func FromTicks(ticks int64) time.Time {
	d := ticks - unixEpochTicks
	sec := d / TicksPerSecond
	rem := d % TicksPerSecond
	if rem < 0 {
		sec--
		rem += TicksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

func layout(separator string) string {
	return "2006" + separator + "01" + separator + "02" + separator + "15" + separator + "04"
}

// FormatYYYYMMDDHHMM renders t as year, month, day, hour and minute joined by separator.
func FormatYYYYMMDDHHMM(t time.Time, separator string) string {
	return fmt.Sprintf("%04d%s%02d%s%02d%s%02d%s%02d",
		t.Year(), separator, int(t.Month()), separator, t.Day(), separator, t.Hour(), separator, t.Minute())
}

// ParseYYYYMMDDHHMM parses a value produced by FormatYYYYMMDDHHMM with the same separator.
func ParseYYYYMMDDHHMM(value string, separator string) (time.Time, error) {
	return time.Parse(layout(separator), value)
}

// RoundDownTo truncates t to the start of its minutes-wide bucket within the hour.
func RoundDownTo(t time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), (t.Minute()/minutes)*minutes, 0, 0, t.Location())
}

// RoundUpTo moves t to the start of the next minutes-wide bucket. A time already
// on a bucket boundary still moves to the following one.
func RoundUpTo(t time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), ((t.Minute()+minutes)/minutes)*minutes, 0, 0, t.Location())
}

// IsSameDate reports whether a and b fall on the same calendar day.
func IsSameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
