package timeutil

import "time"

// Rollups are bucketed by the local working day of a fixed-offset zone,
// not by UTC midnight. The offset is configured once per deployment.

// LocalDate returns the local calendar date (at midnight UTC) that the
// instant t falls in for the given fixed offset.
func LocalDate(t time.Time, offset time.Duration) time.Time {
	local := t.UTC().Add(offset)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBoundsUTC returns the UTC half-open interval [start, end) covering the
// given local calendar date for the fixed offset.
func DayBoundsUTC(date time.Time, offset time.Duration) (time.Time, time.Time) {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	start := d.Add(-offset)
	return start, start.Add(24 * time.Hour)
}

// FloorSecond truncates t to whole seconds in UTC. Idempotency hashing uses
// second precision so sub-second re-reads of the same fix collapse.
func FloorSecond(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
