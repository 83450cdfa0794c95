package database

import (
	"database/sql"
	"fmt"
	"time"
)

// OpenAlert inserts a new open alert row. The partial unique index on
// (employee_id, alert_type) WHERE is_open makes a concurrent double-open
// fail; callers check GetOpenAlert first and treat the race as benign.
func (db *DB) OpenAlert(a *Alert) error {
	query := `
		INSERT INTO alerts (employee_id, session_id, alert_type, severity, message, opened_at, is_open)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id
	`
	if err := db.QueryRow(
		query,
		a.EmployeeID, a.SessionID, a.AlertType, a.Severity, a.Message, a.OpenedAt.UTC(),
	).Scan(&a.ID); err != nil {
		return fmt.Errorf("failed to open alert: %w", err)
	}
	a.IsOpen = true
	return nil
}

// GetOpenAlert returns the open alert of the given type for an employee,
// or nil when none is open.
func (db *DB) GetOpenAlert(employeeID, alertType string) (*Alert, error) {
	query := `
		SELECT id, employee_id, session_id, alert_type, severity, message,
		       opened_at, closed_at, is_open
		FROM alerts
		WHERE employee_id = $1 AND alert_type = $2 AND is_open
	`

	var a Alert
	err := db.QueryRow(query, employeeID, alertType).Scan(
		&a.ID, &a.EmployeeID, &a.SessionID, &a.AlertType, &a.Severity,
		&a.Message, &a.OpenedAt, &a.ClosedAt, &a.IsOpen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CloseAlert closes an alert by id. Closing an already-closed alert is a
// no-op.
func (db *DB) CloseAlert(alertID int64, closedAt time.Time) error {
	_, err := db.Exec(`
		UPDATE alerts SET is_open = FALSE, closed_at = $1
		WHERE id = $2 AND is_open
	`, closedAt.UTC(), alertID)
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}
	return nil
}

// CloseOpenAlert closes the open alert of a type for an employee, if one
// exists, and reports whether a row transitioned. Returns the closed alert.
func (db *DB) CloseOpenAlert(employeeID, alertType string, closedAt time.Time) (*Alert, error) {
	query := `
		UPDATE alerts SET is_open = FALSE, closed_at = $1
		WHERE employee_id = $2 AND alert_type = $3 AND is_open
		RETURNING id, employee_id, session_id, alert_type, severity, message,
		          opened_at, closed_at, is_open
	`

	var a Alert
	err := db.QueryRow(query, closedAt.UTC(), employeeID, alertType).Scan(
		&a.ID, &a.EmployeeID, &a.SessionID, &a.AlertType, &a.Severity,
		&a.Message, &a.OpenedAt, &a.ClosedAt, &a.IsOpen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close open alert: %w", err)
	}
	return &a, nil
}

// ListOpenAlerts returns all open alerts, optionally filtered by employee.
func (db *DB) ListOpenAlerts(employeeID string) ([]*Alert, error) {
	query := `
		SELECT id, employee_id, session_id, alert_type, severity, message,
		       opened_at, closed_at, is_open
		FROM alerts
		WHERE is_open AND ($1 = '' OR employee_id = $1)
		ORDER BY opened_at
	`

	rows, err := db.Query(query, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(
			&a.ID, &a.EmployeeID, &a.SessionID, &a.AlertType, &a.Severity,
			&a.Message, &a.OpenedAt, &a.ClosedAt, &a.IsOpen,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}
