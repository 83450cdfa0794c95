package ingest

import (
	"context"
	"log"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
)

// SessionStore is the persistence surface for session lifecycle.
type SessionStore interface {
	StartSession(employeeID string, startedAt time.Time) (*database.Session, error)
	CloseSession(sessionID, status string, endedAt time.Time) (*database.Session, error)
}

// StateResetter clears per-employee tracking state.
type StateResetter interface {
	Delete(ctx context.Context, employeeID string) error
}

// SessionControl starts and ends work sessions. Ending a session stops
// further processing for it: the rollup freezes and open alerts close in
// the same transaction, the tracking state resets, and a session_closed
// marker trails the session's points on the stream so the pipeline
// force-closes segmentation.
type SessionControl struct {
	store  SessionStore
	states StateResetter
	points Publisher
	now    func() time.Time
}

// NewSessionControl creates a session controller.
func NewSessionControl(store SessionStore, states StateResetter, points Publisher) *SessionControl {
	return &SessionControl{
		store:  store,
		states: states,
		points: points,
		now:    time.Now,
	}
}

// Start opens a new active session for the employee. Fails with
// database.ErrActiveSessionExists when one is already active.
func (c *SessionControl) Start(ctx context.Context, employeeID string) (*database.Session, error) {
	session, err := c.store.StartSession(employeeID, c.now())
	if err != nil {
		return nil, err
	}

	// A fresh session never inherits a previous anchor.
	if err := c.states.Delete(ctx, employeeID); err != nil {
		log.Printf("Failed to reset tracking state for %s: %v", employeeID, err)
	}

	return session, nil
}

// End closes an active session with the given terminal status
// (database.SessionStatusClosed or SessionStatusCancelled).
func (c *SessionControl) End(ctx context.Context, sessionID, status string) (*database.Session, error) {
	endedAt := c.now()
	session, err := c.store.CloseSession(sessionID, status, endedAt)
	if err != nil {
		return nil, err
	}

	if err := c.states.Delete(ctx, session.EmployeeID); err != nil {
		log.Printf("Failed to reset tracking state for %s: %v", session.EmployeeID, err)
	}

	msg := &protocol.SessionClosedMessage{
		SessionID:  session.ID,
		EmployeeID: session.EmployeeID,
		ClosedAt:   endedAt.UTC(),
	}
	data, err := protocol.EncodeSessionClosedMessage(msg)
	if err != nil {
		log.Printf("Failed to encode session_closed message: %v", err)
		return session, nil
	}
	if err := c.points.Publish(ctx, session.ID, data); err != nil {
		log.Printf("Failed to publish session_closed for %s: %v", session.ID, err)
	}

	return session, nil
}
