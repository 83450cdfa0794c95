package detector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/geo"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
	"github.com/jpratama/fieldtrack-server/internal/tracking"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

// Store is the persistence surface the detector needs.
type Store interface {
	ListActiveSessions() ([]*database.Session, error)
	GetOpenAlert(employeeID, alertType string) (*database.Alert, error)
	OpenAlert(a *database.Alert) error
	CloseOpenAlert(employeeID, alertType string, closedAt time.Time) (*database.Alert, error)
}

// States reads and writes per-employee tracking state. The detector is the
// sole writer of the anchor fields.
type States interface {
	Get(ctx context.Context, employeeID string) (*tracking.State, error)
	Set(ctx context.Context, state *tracking.State) error
}

// Publisher sends a keyed message to the alert feed topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Evaluator runs the stuck / no-signal sweep over all active sessions.
// Each sweep is a pure function of stored state, so a repeated or skipped
// sweep never double-opens an alert: the open-alert check and the StuckSent
// flag make re-evaluation idempotent.
type Evaluator struct {
	cfg    config.DetectorConfig
	store  Store
	states States
	alerts Publisher
	now    func() time.Time
}

// NewEvaluator creates a detector evaluator.
func NewEvaluator(cfg config.DetectorConfig, store Store, states States, alerts Publisher) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		store:  store,
		states: states,
		alerts: alerts,
		now:    time.Now,
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := e.Sweep(ctx); err != nil {
			log.Printf("Detector sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep evaluates every active session once. A failure on one employee does
// not stop the sweep for the others.
func (e *Evaluator) Sweep(ctx context.Context) error {
	sessions, err := e.store.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	for _, session := range sessions {
		if err := e.evaluateSession(ctx, session); err != nil {
			log.Printf("Failed to evaluate session %s (%s): %v",
				session.ID, session.EmployeeID, err)
		}
	}

	return nil
}

func (e *Evaluator) evaluateSession(ctx context.Context, session *database.Session) error {
	now := e.now().UTC()

	state, err := e.states.Get(ctx, session.EmployeeID)
	if err != nil {
		return err
	}
	if state != nil && state.SessionID != session.ID {
		// Stale state from a previous session; treat as no points yet.
		state = nil
	}

	// No point has arrived at all: the silence clock starts at session start.
	lastAt := session.StartedAt
	if state != nil {
		lastAt = lastSeen(state)
	}

	if err := e.evaluateNoSignal(ctx, session, now, lastAt); err != nil {
		return err
	}

	// Stuck needs a location; without a point there is nothing to anchor.
	if state == nil {
		return nil
	}
	return e.evaluateStuck(ctx, session, state, now)
}

func (e *Evaluator) evaluateNoSignal(ctx context.Context, session *database.Session, now, lastAt time.Time) error {
	gap := now.Sub(lastAt)
	if gap <= e.cfg.NoSignalThreshold {
		return nil
	}

	existing, err := e.store.GetOpenAlert(session.EmployeeID, database.AlertTypeNoSignal)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	sid := session.ID
	alert := &database.Alert{
		EmployeeID: session.EmployeeID,
		SessionID:  &sid,
		AlertType:  database.AlertTypeNoSignal,
		Severity:   severityFor(gap, e.cfg.NoSignalThreshold),
		Message:    fmt.Sprintf("no location received for %s", gap.Round(time.Minute)),
		OpenedAt:   now,
	}
	if err := e.store.OpenAlert(alert); err != nil {
		return err
	}
	e.publishAlert(ctx, protocol.AlertEventOpened, alert)
	return nil
}

func (e *Evaluator) evaluateStuck(ctx context.Context, session *database.Session, state *tracking.State, now time.Time) error {
	if !state.HasAnchor() {
		anchorAt := lastSeen(state)
		state.AnchorLat = state.LastLat
		state.AnchorLng = state.LastLng
		state.AnchorAt = &anchorAt
		return e.states.Set(ctx, state)
	}

	dist := geo.Distance(state.LastLat, state.LastLng, state.AnchorLat, state.AnchorLng)

	if dist > e.cfg.StuckRadiusM {
		// The employee moved on: re-anchor at the current location and clear
		// any standing stuck alert.
		anchorAt := lastSeen(state)
		state.AnchorLat = state.LastLat
		state.AnchorLng = state.LastLng
		state.AnchorAt = &anchorAt

		if state.IsStuck {
			closed, err := e.store.CloseOpenAlert(session.EmployeeID, database.AlertTypeStuck, now)
			if err != nil {
				return err
			}
			if closed != nil {
				e.publishAlert(ctx, protocol.AlertEventClosed, closed)
			}
			state.IsStuck = false
			state.StuckSent = false
		}
		return e.states.Set(ctx, state)
	}

	// Dwell is wall-clock time since the anchor. A stationary device stops
	// uploading, so the last point time must not bound the dwell; the device
	// going quiet is exactly what a parked employee looks like.
	dwell := now.Sub(*state.AnchorAt)
	if dwell < e.cfg.StuckDuration || state.StuckSent {
		return nil
	}

	existing, err := e.store.GetOpenAlert(session.EmployeeID, database.AlertTypeStuck)
	if err != nil {
		return err
	}
	if existing == nil {
		sid := session.ID
		alert := &database.Alert{
			EmployeeID: session.EmployeeID,
			SessionID:  &sid,
			AlertType:  database.AlertTypeStuck,
			Severity:   severityFor(dwell, e.cfg.StuckDuration),
			Message: fmt.Sprintf("stationary within %.0f m for %s",
				e.cfg.StuckRadiusM, dwell.Round(time.Minute)),
			OpenedAt: now,
		}
		if err := e.store.OpenAlert(alert); err != nil {
			return err
		}
		e.publishAlert(ctx, protocol.AlertEventOpened, alert)
	}

	state.IsStuck = true
	state.StuckSent = true
	return e.states.Set(ctx, state)
}

// lastSeen is the server-clock time of the employee's most recent accepted
// point. State written before the receive time was tracked falls back to the
// device-recorded time.
func lastSeen(state *tracking.State) time.Time {
	if !state.LastReceivedAt.IsZero() {
		return state.LastReceivedAt
	}
	return state.LastPointAt
}

// severityFor escalates to critical when the condition has already held for
// twice its threshold by the time it is first seen (e.g. after detector
// downtime).
func severityFor(held, threshold time.Duration) string {
	if held >= 2*threshold {
		return database.AlertSeverityCritical
	}
	return database.AlertSeverityWarning
}

func (e *Evaluator) publishAlert(ctx context.Context, eventType string, a *database.Alert) {
	sessionID := ""
	if a.SessionID != nil {
		sessionID = *a.SessionID
	}
	notification := &protocol.AlertNotification{
		Type:       eventType,
		AlertID:    a.ID,
		AlertType:  a.AlertType,
		Severity:   a.Severity,
		EmployeeID: a.EmployeeID,
		SessionID:  sessionID,
		Message:    a.Message,
		OpenedAt:   a.OpenedAt,
		ClosedAt:   a.ClosedAt,
	}
	data, err := protocol.EncodeAlertNotification(notification)
	if err != nil {
		log.Printf("Failed to encode alert notification: %v", err)
		return
	}
	if err := e.alerts.Publish(ctx, a.EmployeeID, data); err != nil {
		log.Printf("Failed to publish alert notification: %v", err)
	}
}
