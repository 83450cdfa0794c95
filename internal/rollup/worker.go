package rollup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/schedule"
	"github.com/jpratama/fieldtrack-server/internal/timeutil"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

const dailyJobID = "daily-rollup"

// Store is the persistence surface of the rollup and retention workers.
type Store interface {
	MaterializeDailyRollups(localDate, windowStart, windowEnd time.Time) (int64, error)
	PurgePointsBefore(cutoff time.Time) (int64, error)
	PurgeTimelineBefore(cutoff time.Time) (int64, error)
}

// DailyWorker materializes per-employee daily rollups once per local day,
// shortly after the day rolls over. Materialization is an absolute upsert, so
// running a day twice (or backfilling an old day) converges to the same rows.
type DailyWorker struct {
	cfg   config.RollupConfig
	store Store
	sched *schedule.Scheduler
	now   func() time.Time
}

// NewDailyWorker creates a daily rollup worker.
func NewDailyWorker(cfg config.RollupConfig, store Store, sched *schedule.Scheduler) *DailyWorker {
	return &DailyWorker{
		cfg:   cfg,
		store: store,
		sched: sched,
		now:   time.Now,
	}
}

// Start schedules the first run; each run reschedules the next.
func (w *DailyWorker) Start() error {
	return w.scheduleNext()
}

func (w *DailyWorker) scheduleNext() error {
	runAt, err := schedule.NextDailyRun(w.cfg.DailyTime, w.cfg.LocalOffset, w.now())
	if err != nil {
		return fmt.Errorf("failed to compute daily rollup time: %w", err)
	}

	log.Printf("Next daily rollup scheduled for %s", runAt.Format(time.RFC3339))
	return w.sched.Schedule(dailyJobID, runAt, func() {
		if err := w.MaterializePreviousDay(); err != nil {
			log.Printf("Daily rollup failed: %v", err)
		}
		if err := w.scheduleNext(); err != nil {
			log.Printf("Failed to reschedule daily rollup: %v", err)
		}
	})
}

// MaterializePreviousDay materializes the local day that just ended.
func (w *DailyWorker) MaterializePreviousDay() error {
	date := timeutil.LocalDate(w.now(), w.cfg.LocalOffset).AddDate(0, 0, -1)
	return w.MaterializeDay(date)
}

// MaterializeDay materializes one local calendar date.
func (w *DailyWorker) MaterializeDay(date time.Time) error {
	start, end := timeutil.DayBoundsUTC(date, w.cfg.LocalOffset)

	rows, err := w.store.MaterializeDailyRollups(date, start, end)
	if err != nil {
		return fmt.Errorf("failed to materialize daily rollups for %s: %w",
			date.Format("2006-01-02"), err)
	}

	log.Printf("Materialized daily rollups for %s: %d employees", date.Format("2006-01-02"), rows)
	return nil
}

// RetentionWorker purges raw points and closed timeline events older than the
// retention horizon. Rollups, alerts and sessions are kept indefinitely.
type RetentionWorker struct {
	cfg   config.RetentionConfig
	store Store
	now   func() time.Time
}

// NewRetentionWorker creates a retention worker.
func NewRetentionWorker(cfg config.RetentionConfig, store Store) *RetentionWorker {
	return &RetentionWorker{cfg: cfg, store: store, now: time.Now}
}

// Run purges immediately and then on every interval until the context ends.
func (w *RetentionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		if err := w.PurgeOnce(); err != nil {
			log.Printf("Retention purge failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeOnce deletes everything past the horizon.
func (w *RetentionWorker) PurgeOnce() error {
	cutoff := w.now().UTC().Add(-w.cfg.Horizon)

	points, err := w.store.PurgePointsBefore(cutoff)
	if err != nil {
		return err
	}
	events, err := w.store.PurgeTimelineBefore(cutoff)
	if err != nil {
		return err
	}

	if points > 0 || events > 0 {
		log.Printf("Retention purge removed %d points, %d timeline events (cutoff %s)",
			points, events, cutoff.Format(time.RFC3339))
	}
	return nil
}
