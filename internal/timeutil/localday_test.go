package timeutil

import (
	"testing"
	"time"
)

func TestLocalDate_FixedOffset(t *testing.T) {
	offset := 7 * time.Hour // UTC+7

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			// 18:30 UTC is 01:30 next day local
			"evening UTC rolls into next local day",
			time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC),
			time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			// 16:59 UTC is 23:59 same local day
			"just before local midnight",
			time.Date(2024, 3, 10, 16, 59, 0, 0, time.UTC),
			time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			// 17:00 UTC is exactly local midnight
			"exactly local midnight",
			time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocalDate(tt.in, offset)
			if !got.Equal(tt.want) {
				t.Errorf("LocalDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDayBoundsUTC_RoundTrip(t *testing.T) {
	offset := 7 * time.Hour
	date := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	start, end := DayBoundsUTC(date, offset)
	if !start.Equal(time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("window = %v, want 24h", end.Sub(start))
	}

	// Every instant inside the window maps back to the same local date.
	for _, probe := range []time.Time{start, start.Add(time.Second), end.Add(-time.Second)} {
		if got := LocalDate(probe, offset); !got.Equal(date) {
			t.Errorf("LocalDate(%v) = %v, want %v", probe, got, date)
		}
	}
	if got := LocalDate(end, offset); got.Equal(date) {
		t.Errorf("end of window should belong to the next local day")
	}
}

func TestFloorSecond(t *testing.T) {
	in := time.Date(2024, 3, 10, 12, 0, 5, 999999999, time.UTC)
	want := time.Date(2024, 3, 10, 12, 0, 5, 0, time.UTC)
	if got := FloorSecond(in); !got.Equal(want) {
		t.Errorf("FloorSecond() = %v, want %v", got, want)
	}
}
