package database

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertSessionRollup writes the absolute accumulated distance and point
// count for a session. Absolute writes keep the rollup idempotent when the
// pipeline replays a session. Frozen rollups are never touched.
func (db *DB) UpsertSessionRollup(sessionID, employeeID string, distanceM float64, pointCount int) error {
	_, err := db.Exec(`
		INSERT INTO session_rollups (session_id, employee_id, distance_m, point_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET distance_m = EXCLUDED.distance_m,
		    point_count = EXCLUDED.point_count,
		    updated_at = CURRENT_TIMESTAMP
		WHERE NOT session_rollups.frozen
	`, sessionID, employeeID, distanceM, pointCount)
	if err != nil {
		return fmt.Errorf("failed to upsert session rollup: %w", err)
	}
	return nil
}

// GetSessionRollup retrieves the rollup for a session, or nil when the
// session has no accepted points yet.
func (db *DB) GetSessionRollup(sessionID string) (*SessionRollup, error) {
	query := `
		SELECT session_id, employee_id, distance_m, point_count, frozen, updated_at
		FROM session_rollups
		WHERE session_id = $1
	`

	var r SessionRollup
	err := db.QueryRow(query, sessionID).Scan(
		&r.SessionID, &r.EmployeeID, &r.DistanceM, &r.PointCount, &r.Frozen, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MaterializeDailyRollups sums session rollups into daily_rollups for every
// employee whose sessions started inside the UTC window of one local day.
func (db *DB) MaterializeDailyRollups(localDate time.Time, windowStart, windowEnd time.Time) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO daily_rollups (employee_id, local_date, distance_m, session_count)
		SELECT
			s.employee_id,
			$1::date AS local_date,
			COALESCE(SUM(r.distance_m), 0) AS distance_m,
			COUNT(*) AS session_count
		FROM sessions s
		LEFT JOIN session_rollups r ON r.session_id = s.id
		WHERE s.started_at >= $2 AND s.started_at < $3
		GROUP BY s.employee_id
		ON CONFLICT (employee_id, local_date) DO UPDATE
		SET distance_m = EXCLUDED.distance_m,
		    session_count = EXCLUDED.session_count,
		    updated_at = CURRENT_TIMESTAMP
	`, localDate.Format("2006-01-02"), windowStart.UTC(), windowEnd.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to materialize daily rollups: %w", err)
	}
	return result.RowsAffected()
}

// GetDailyRollup retrieves the materialized daily rollup for an employee.
func (db *DB) GetDailyRollup(employeeID string, localDate time.Time) (*DailyRollup, error) {
	query := `
		SELECT employee_id, local_date, distance_m, session_count, updated_at
		FROM daily_rollups
		WHERE employee_id = $1 AND local_date = $2::date
	`

	var r DailyRollup
	err := db.QueryRow(query, employeeID, localDate.Format("2006-01-02")).Scan(
		&r.EmployeeID, &r.LocalDate, &r.DistanceM, &r.SessionCount, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SumDailyRollupLive computes the daily distance on the fly from session
// rollups, for reads before (or instead of) materialization.
func (db *DB) SumDailyRollupLive(employeeID string, windowStart, windowEnd time.Time) (float64, int, error) {
	var distance float64
	var count int
	err := db.QueryRow(`
		SELECT COALESCE(SUM(r.distance_m), 0), COUNT(s.id)
		FROM sessions s
		LEFT JOIN session_rollups r ON r.session_id = s.id
		WHERE s.employee_id = $1 AND s.started_at >= $2 AND s.started_at < $3
	`, employeeID, windowStart.UTC(), windowEnd.UTC()).Scan(&distance, &count)
	if err != nil {
		return 0, 0, err
	}
	return distance, count, nil
}
