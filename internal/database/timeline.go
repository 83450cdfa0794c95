package database

import (
	"fmt"
	"time"
)

// InsertTimelineEvent stores a generated STOP or MOVE event.
func (db *DB) InsertTimelineEvent(ev *TimelineEvent) error {
	query := `
		INSERT INTO timeline_events (
			employee_id, session_id, event_type, started_at, ended_at,
			duration_s, center_lat, center_lng, start_lat, start_lng,
			end_lat, end_lng, distance_m
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	return db.QueryRow(
		query,
		ev.EmployeeID, ev.SessionID, ev.EventType, ev.StartedAt, ev.EndedAt,
		ev.DurationS, ev.CenterLat, ev.CenterLng, ev.StartLat, ev.StartLng,
		ev.EndLat, ev.EndLng, ev.DistanceM,
	).Scan(&ev.ID, &ev.CreatedAt)
}

// UpsertOpenMove creates or extends the single open MOVE segment of a
// session. provisionalEnd carries the latest extent; the row stays open
// (ended_at NULL) until CloseOpenMove.
func (db *DB) UpsertOpenMove(ev *TimelineEvent) error {
	result, err := db.Exec(`
		UPDATE timeline_events
		SET duration_s = $1, end_lat = $2, end_lng = $3, distance_m = $4
		WHERE session_id = $5 AND event_type = 'MOVE' AND ended_at IS NULL
	`, ev.DurationS, ev.EndLat, ev.EndLng, ev.DistanceM, ev.SessionID)
	if err != nil {
		return fmt.Errorf("failed to extend open move: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}

	ev.EndedAt = nil
	return db.InsertTimelineEvent(ev)
}

// CloseOpenMove finalizes the open MOVE segment of a session, if any.
func (db *DB) CloseOpenMove(sessionID string, endedAt time.Time, durationS int64, endLat, endLng, distanceM float64) error {
	_, err := db.Exec(`
		UPDATE timeline_events
		SET ended_at = $1, duration_s = $2, end_lat = $3, end_lng = $4, distance_m = $5
		WHERE session_id = $6 AND event_type = 'MOVE' AND ended_at IS NULL
	`, endedAt.UTC(), durationS, endLat, endLng, distanceM, sessionID)
	if err != nil {
		return fmt.Errorf("failed to close open move: %w", err)
	}
	return nil
}

// DeleteSessionEvents removes all timeline events of a session. Used before
// regenerating a session's timeline from its stored points.
func (db *DB) DeleteSessionEvents(sessionID string) error {
	_, err := db.Exec(`DELETE FROM timeline_events WHERE session_id = $1`, sessionID)
	return err
}

// ListTimelineEvents returns an employee's events whose start falls inside
// [from, to), ordered chronologically.
func (db *DB) ListTimelineEvents(employeeID string, from, to time.Time) ([]*TimelineEvent, error) {
	query := `
		SELECT id, employee_id, session_id, event_type, started_at, ended_at,
		       duration_s, center_lat, center_lng, start_lat, start_lng,
		       end_lat, end_lng, distance_m, created_at
		FROM timeline_events
		WHERE employee_id = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at, id
	`

	rows, err := db.Query(query, employeeID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TimelineEvent
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(
			&ev.ID, &ev.EmployeeID, &ev.SessionID, &ev.EventType,
			&ev.StartedAt, &ev.EndedAt, &ev.DurationS,
			&ev.CenterLat, &ev.CenterLng, &ev.StartLat, &ev.StartLng,
			&ev.EndLat, &ev.EndLng, &ev.DistanceM, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// PurgeTimelineBefore deletes closed events that ended before the cutoff.
func (db *DB) PurgeTimelineBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM timeline_events
		WHERE ended_at IS NOT NULL AND ended_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge timeline events: %w", err)
	}
	return result.RowsAffected()
}
