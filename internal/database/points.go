package database

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertPoint stores an accepted location point. Duplicate idempotency keys
// are absorbed: inserted is false and the previously stored row is returned,
// so retried uploads collapse to one row.
func (db *DB) InsertPoint(p *LocationPoint) (inserted bool, existing *LocationPoint, err error) {
	query := `
		INSERT INTO location_points (
			session_id, employee_id, lat, lng, accuracy_m, speed_ms, heading,
			provider, recorded_at, received_at, idempotency_key,
			drift_flagged, drift_extreme
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	err = db.QueryRow(
		query,
		p.SessionID,
		p.EmployeeID,
		p.Latitude,
		p.Longitude,
		p.AccuracyM,
		p.SpeedMS,
		p.Heading,
		p.Provider,
		p.RecordedAt,
		p.ReceivedAt,
		p.IdempotencyKey,
		p.DriftFlagged,
		p.DriftExtreme,
	).Scan(&p.ID)

	if err == sql.ErrNoRows {
		prior, getErr := db.GetPointByKey(p.IdempotencyKey)
		if getErr != nil {
			return false, nil, fmt.Errorf("failed to load duplicate point: %w", getErr)
		}
		return false, prior, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert point: %w", err)
	}

	return true, nil, nil
}

// GetPointByKey retrieves a stored point by its idempotency key.
func (db *DB) GetPointByKey(key string) (*LocationPoint, error) {
	query := `
		SELECT id, session_id, employee_id, lat, lng, accuracy_m, speed_ms,
		       heading, provider, recorded_at, received_at, idempotency_key,
		       drift_flagged, drift_extreme
		FROM location_points
		WHERE idempotency_key = $1
	`

	var p LocationPoint
	err := db.QueryRow(query, key).Scan(
		&p.ID, &p.SessionID, &p.EmployeeID, &p.Latitude, &p.Longitude,
		&p.AccuracyM, &p.SpeedMS, &p.Heading, &p.Provider,
		&p.RecordedAt, &p.ReceivedAt, &p.IdempotencyKey,
		&p.DriftFlagged, &p.DriftExtreme,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListSessionPoints returns all points of a session in processing order:
// device-recorded time, then insertion order as a tiebreak.
func (db *DB) ListSessionPoints(sessionID string) ([]*LocationPoint, error) {
	query := `
		SELECT id, session_id, employee_id, lat, lng, accuracy_m, speed_ms,
		       heading, provider, recorded_at, received_at, idempotency_key,
		       drift_flagged, drift_extreme
		FROM location_points
		WHERE session_id = $1
		ORDER BY recorded_at, id
	`

	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*LocationPoint
	for rows.Next() {
		var p LocationPoint
		if err := rows.Scan(
			&p.ID, &p.SessionID, &p.EmployeeID, &p.Latitude, &p.Longitude,
			&p.AccuracyM, &p.SpeedMS, &p.Heading, &p.Provider,
			&p.RecordedAt, &p.ReceivedAt, &p.IdempotencyKey,
			&p.DriftFlagged, &p.DriftExtreme,
		); err != nil {
			return nil, err
		}
		points = append(points, &p)
	}

	return points, rows.Err()
}

// PurgePointsBefore deletes points recorded before the cutoff. Only points
// of non-active sessions are eligible.
func (db *DB) PurgePointsBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM location_points
		WHERE recorded_at < $1
		  AND session_id NOT IN (SELECT id FROM sessions WHERE status = 'active')
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge points: %w", err)
	}
	return result.RowsAffected()
}

// InsertDiagnostic records a non-blocking diagnostic event.
func (db *DB) InsertDiagnostic(d *Diagnostic) error {
	query := `
		INSERT INTO diagnostics (employee_id, session_id, kind, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return db.QueryRow(query, d.EmployeeID, d.SessionID, d.Kind, d.Detail).
		Scan(&d.ID, &d.CreatedAt)
}
