package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrActiveSessionExists = errors.New("employee already has an active session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session is not active")
)

// StartSession creates a new active session for an employee. The partial
// unique index on (employee_id) WHERE status='active' enforces the
// one-active-session invariant; a violation maps to ErrActiveSessionExists.
func (db *DB) StartSession(employeeID string, startedAt time.Time) (*Session, error) {
	session := &Session{
		ID:         uuid.New().String(),
		EmployeeID: employeeID,
		StartedAt:  startedAt.UTC(),
		Status:     SessionStatusActive,
	}

	query := `
		INSERT INTO sessions (id, employee_id, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := db.QueryRow(query, session.ID, session.EmployeeID, session.StartedAt, session.Status).
		Scan(&session.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrActiveSessionExists
		}
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by id.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	query := `
		SELECT id, employee_id, started_at, ended_at, status, created_at
		FROM sessions
		WHERE id = $1
	`

	var s Session
	err := db.QueryRow(query, sessionID).Scan(
		&s.ID,
		&s.EmployeeID,
		&s.StartedAt,
		&s.EndedAt,
		&s.Status,
		&s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// CloseSession transitions an active session to the given terminal status,
// freezes its rollup and closes any open alerts tied to the employee. The
// whole transition is one transaction.
func (db *DB) CloseSession(sessionID, status string, endedAt time.Time) (*Session, error) {
	if status != SessionStatusClosed && status != SessionStatusCancelled {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var s Session
	err = tx.QueryRow(`
		UPDATE sessions
		SET status = $1, ended_at = $2
		WHERE id = $3 AND status = 'active'
		RETURNING id, employee_id, started_at, ended_at, status, created_at
	`, status, endedAt.UTC(), sessionID).Scan(
		&s.ID, &s.EmployeeID, &s.StartedAt, &s.EndedAt, &s.Status, &s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		// Distinguish missing from already-closed for the caller.
		if _, getErr := db.GetSession(sessionID); getErr != nil {
			return nil, ErrSessionNotFound
		}
		return nil, ErrSessionNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE session_rollups SET frozen = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = $1
	`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to freeze rollup: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE alerts SET is_open = FALSE, closed_at = $1
		WHERE employee_id = $2 AND is_open
	`, endedAt.UTC(), s.EmployeeID); err != nil {
		return nil, fmt.Errorf("failed to close open alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &s, nil
}

// ListActiveSessions returns all currently active sessions.
func (db *DB) ListActiveSessions() ([]*Session, error) {
	query := `
		SELECT id, employee_id, started_at, ended_at, status, created_at
		FROM sessions
		WHERE status = 'active'
		ORDER BY started_at
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.EmployeeID, &s.StartedAt, &s.EndedAt, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}
