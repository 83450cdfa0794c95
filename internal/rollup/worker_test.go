package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpratama/fieldtrack-server/internal/schedule"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

type fakeStore struct {
	materializedDate  time.Time
	materializedStart time.Time
	materializedEnd   time.Time
	materializeCalls  int

	pointsCutoff   time.Time
	timelineCutoff time.Time
}

func (s *fakeStore) MaterializeDailyRollups(localDate, windowStart, windowEnd time.Time) (int64, error) {
	s.materializedDate = localDate
	s.materializedStart = windowStart
	s.materializedEnd = windowEnd
	s.materializeCalls++
	return 3, nil
}

func (s *fakeStore) PurgePointsBefore(cutoff time.Time) (int64, error) {
	s.pointsCutoff = cutoff
	return 10, nil
}

func (s *fakeStore) PurgeTimelineBefore(cutoff time.Time) (int64, error) {
	s.timelineCutoff = cutoff
	return 2, nil
}

func TestDailyWorker_MaterializePreviousDayUsesLocalBounds(t *testing.T) {
	store := &fakeStore{}
	w := NewDailyWorker(config.RollupConfig{
		LocalOffset: 7 * time.Hour,
		DailyTime:   "00:10",
	}, store, schedule.NewScheduler())

	// 17:15 UTC on Mar 10 is 00:15 local on Mar 11: the day that just ended
	// is Mar 10 local, covering [Mar 9 17:00, Mar 10 17:00) UTC.
	w.now = func() time.Time {
		return time.Date(2024, 3, 10, 17, 15, 0, 0, time.UTC)
	}

	require.NoError(t, w.MaterializePreviousDay())

	assert.Equal(t, 1, store.materializeCalls)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), store.materializedDate)
	assert.Equal(t, time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC), store.materializedStart)
	assert.Equal(t, time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC), store.materializedEnd)
}

func TestDailyWorker_BackfillIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	w := NewDailyWorker(config.RollupConfig{
		LocalOffset: 7 * time.Hour,
		DailyTime:   "00:10",
	}, store, schedule.NewScheduler())

	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.MaterializeDay(date))
	require.NoError(t, w.MaterializeDay(date))

	assert.Equal(t, 2, store.materializeCalls)
	assert.Equal(t, date, store.materializedDate)
}

func TestDailyWorker_StartSchedulesJob(t *testing.T) {
	store := &fakeStore{}
	sched := schedule.NewScheduler()
	w := NewDailyWorker(config.RollupConfig{
		LocalOffset: 7 * time.Hour,
		DailyTime:   "00:10",
	}, store, sched)

	require.NoError(t, w.Start())
	assert.Equal(t, 1, sched.Pending())
}

func TestDailyWorker_RejectsBadDailyTime(t *testing.T) {
	w := NewDailyWorker(config.RollupConfig{
		LocalOffset: 7 * time.Hour,
		DailyTime:   "not-a-time",
	}, &fakeStore{}, schedule.NewScheduler())

	assert.Error(t, w.Start())
}

func TestRetentionWorker_PurgeUsesHorizonCutoff(t *testing.T) {
	store := &fakeStore{}
	w := NewRetentionWorker(config.RetentionConfig{
		Horizon:       35 * 24 * time.Hour,
		PurgeInterval: 24 * time.Hour,
	}, store)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.PurgeOnce())

	want := now.Add(-35 * 24 * time.Hour)
	assert.Equal(t, want, store.pointsCutoff)
	assert.Equal(t, want, store.timelineCutoff)
}
