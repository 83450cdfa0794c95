package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
	"github.com/jpratama/fieldtrack-server/internal/tracking"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

type fakeStore struct {
	sessions   []*database.Session
	openAlerts map[string]*database.Alert // employee|type
	opened     []*database.Alert
	closed     []*database.Alert
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{openAlerts: make(map[string]*database.Alert)}
}

func (s *fakeStore) ListActiveSessions() ([]*database.Session, error) {
	return s.sessions, nil
}

func (s *fakeStore) GetOpenAlert(employeeID, alertType string) (*database.Alert, error) {
	return s.openAlerts[employeeID+"|"+alertType], nil
}

func (s *fakeStore) OpenAlert(a *database.Alert) error {
	s.nextID++
	a.ID = s.nextID
	a.IsOpen = true
	s.openAlerts[a.EmployeeID+"|"+a.AlertType] = a
	s.opened = append(s.opened, a)
	return nil
}

func (s *fakeStore) CloseOpenAlert(employeeID, alertType string, closedAt time.Time) (*database.Alert, error) {
	key := employeeID + "|" + alertType
	a, ok := s.openAlerts[key]
	if !ok {
		return nil, nil
	}
	delete(s.openAlerts, key)
	a.IsOpen = false
	t := closedAt
	a.ClosedAt = &t
	s.closed = append(s.closed, a)
	return a, nil
}

type fakeStates struct {
	states map[string]*tracking.State
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*tracking.State)}
}

func (f *fakeStates) Get(ctx context.Context, employeeID string) (*tracking.State, error) {
	return f.states[employeeID], nil
}

func (f *fakeStates) Set(ctx context.Context, state *tracking.State) error {
	f.states[state.EmployeeID] = state
	return nil
}

type fakePublisher struct {
	notifications []*protocol.AlertNotification
}

func (f *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	n, err := protocol.DecodeAlertNotification(value)
	if err != nil {
		return err
	}
	f.notifications = append(f.notifications, n)
	return nil
}

var sweepNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func testDetectorConfig() config.DetectorConfig {
	return config.DetectorConfig{
		SweepInterval:     5 * time.Minute,
		StuckRadiusM:      150,
		StuckDuration:     30 * time.Minute,
		NoSignalThreshold: 20 * time.Minute,
	}
}

func newTestEvaluator() (*Evaluator, *fakeStore, *fakeStates, *fakePublisher) {
	store := newFakeStore()
	states := newFakeStates()
	alerts := &fakePublisher{}
	ev := NewEvaluator(testDetectorConfig(), store, states, alerts)
	ev.now = func() time.Time { return sweepNow }
	return ev, store, states, alerts
}

func activeSession(id, employeeID string, startedAgo time.Duration) *database.Session {
	return &database.Session{
		ID:         id,
		EmployeeID: employeeID,
		StartedAt:  sweepNow.Add(-startedAgo),
		Status:     database.SessionStatusActive,
	}
}

func stateAt(employeeID, sessionID string, lat, lng float64, lastAgo time.Duration) *tracking.State {
	return &tracking.State{
		EmployeeID:     employeeID,
		SessionID:      sessionID,
		LastLat:        lat,
		LastLng:        lng,
		LastPointAt:    sweepNow.Add(-lastAgo),
		LastReceivedAt: sweepNow.Add(-lastAgo),
	}
}

func TestEvaluator_FirstSweepInitializesAnchor(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", time.Hour)}
	states.states["emp-1"] = stateAt("emp-1", "sess-1", -6.2, 106.8, time.Minute)

	require.NoError(t, ev.Sweep(context.Background()))

	state := states.states["emp-1"]
	require.True(t, state.HasAnchor())
	assert.Equal(t, -6.2, state.AnchorLat)
	assert.Equal(t, 106.8, state.AnchorLng)
	assert.Equal(t, state.LastPointAt, *state.AnchorAt)
	assert.Empty(t, store.opened)
}

func TestEvaluator_StuckOpensAfterDwell(t *testing.T) {
	ev, store, states, alerts := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// Anchored 35 minutes ago, last point 1 minute ago ~30 m away.
	state := stateAt("emp-1", "sess-1", -6.2, 106.8003, time.Minute)
	anchorAt := sweepNow.Add(-35 * time.Minute)
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	opened := store.opened[0]
	assert.Equal(t, database.AlertTypeStuck, opened.AlertType)
	assert.Equal(t, database.AlertSeverityWarning, opened.Severity)
	assert.Equal(t, "emp-1", opened.EmployeeID)
	require.NotNil(t, opened.SessionID)
	assert.Equal(t, "sess-1", *opened.SessionID)

	assert.True(t, states.states["emp-1"].IsStuck)
	assert.True(t, states.states["emp-1"].StuckSent)

	require.Len(t, alerts.notifications, 1)
	assert.Equal(t, protocol.AlertEventOpened, alerts.notifications[0].Type)
	assert.Equal(t, database.AlertTypeStuck, alerts.notifications[0].AlertType)
}

func TestEvaluator_StuckOpensAtExactDwellThreshold(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// Anchored exactly one stuck duration ago, fresh point a minute ago.
	state := stateAt("emp-1", "sess-1", -6.2, 106.8003, time.Minute)
	anchorAt := sweepNow.Add(-30 * time.Minute)
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, database.AlertTypeStuck, store.opened[0].AlertType)
	assert.Equal(t, database.AlertSeverityWarning, store.opened[0].Severity)
}

func TestEvaluator_SilentStationaryEmployeeGoesStuck(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// A parked device stops uploading, so the last point is as old as the
	// anchor. Dwell must keep accumulating regardless.
	state := stateAt("emp-1", "sess-1", -6.2, 106.8, 31*time.Minute)
	anchorAt := state.LastPointAt
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))

	var stuck *database.Alert
	for _, a := range store.opened {
		if a.AlertType == database.AlertTypeStuck {
			stuck = a
		}
	}
	require.NotNil(t, stuck, "silent parked employee must still go stuck")
	assert.Equal(t, database.AlertSeverityWarning, stuck.Severity)
}

func TestEvaluator_StuckNotOpenedBeforeDwell(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", time.Hour)}

	state := stateAt("emp-1", "sess-1", -6.2, 106.8003, time.Minute)
	anchorAt := sweepNow.Add(-20 * time.Minute)
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))
	assert.Empty(t, store.opened)
	assert.False(t, states.states["emp-1"].IsStuck)
}

func TestEvaluator_RepeatedSweepIsIdempotent(t *testing.T) {
	ev, store, states, alerts := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	state := stateAt("emp-1", "sess-1", -6.2, 106.8, time.Minute)
	anchorAt := sweepNow.Add(-40 * time.Minute)
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))
	require.NoError(t, ev.Sweep(context.Background()))
	require.NoError(t, ev.Sweep(context.Background()))

	assert.Len(t, store.opened, 1)
	assert.Len(t, alerts.notifications, 1)
}

func TestEvaluator_MovementClosesStuckAndReanchors(t *testing.T) {
	ev, store, states, alerts := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// Standing stuck alert, then the employee appears ~1.1 km away.
	sid := "sess-1"
	open := &database.Alert{
		ID: 9, EmployeeID: "emp-1", SessionID: &sid,
		AlertType: database.AlertTypeStuck, Severity: database.AlertSeverityWarning,
		OpenedAt: sweepNow.Add(-10 * time.Minute), IsOpen: true,
	}
	store.openAlerts["emp-1|stuck"] = open

	state := stateAt("emp-1", "sess-1", -6.2, 106.81, time.Minute)
	anchorAt := sweepNow.Add(-45 * time.Minute)
	state.AnchorLat = -6.2
	state.AnchorLng = 106.8
	state.AnchorAt = &anchorAt
	state.IsStuck = true
	state.StuckSent = true
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.closed, 1)
	assert.Equal(t, int64(9), store.closed[0].ID)

	got := states.states["emp-1"]
	assert.False(t, got.IsStuck)
	assert.False(t, got.StuckSent)
	assert.Equal(t, 106.81, got.AnchorLng)
	assert.Equal(t, got.LastPointAt, *got.AnchorAt)

	require.Len(t, alerts.notifications, 1)
	assert.Equal(t, protocol.AlertEventClosed, alerts.notifications[0].Type)
	require.NotNil(t, alerts.notifications[0].ClosedAt)
}

func TestEvaluator_NoSignalOpensAfterSilence(t *testing.T) {
	ev, store, states, alerts := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}
	states.states["emp-1"] = stateAt("emp-1", "sess-1", -6.2, 106.8, 25*time.Minute)

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, database.AlertTypeNoSignal, store.opened[0].AlertType)
	assert.Equal(t, database.AlertSeverityWarning, store.opened[0].Severity)
	require.Len(t, alerts.notifications, 1)
	assert.Equal(t, protocol.AlertEventOpened, alerts.notifications[0].Type)
}

func TestEvaluator_NoSignalWithoutAnyPointUsesSessionStart(t *testing.T) {
	ev, store, _, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 30 * time.Minute)}

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, database.AlertTypeNoSignal, store.opened[0].AlertType)
}

func TestEvaluator_NoSignalEscalatesToCritical(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 3 * time.Hour)}

	// Seen first after the gap already doubled the threshold.
	states.states["emp-1"] = stateAt("emp-1", "sess-1", -6.2, 106.8, 45*time.Minute)

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, database.AlertSeverityCritical, store.opened[0].Severity)
}

func TestEvaluator_NoSignalIgnoresBackwardDeviceClock(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// The device clock runs 35 minutes behind, but the point reached the
	// server 2 minutes ago: the employee is reporting fine.
	state := stateAt("emp-1", "sess-1", -6.2, 106.8, 35*time.Minute)
	state.LastReceivedAt = sweepNow.Add(-2 * time.Minute)
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))
	assert.Empty(t, store.opened)
}

func TestEvaluator_NoSignalSeesThroughForwardDeviceClock(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}

	// A future-skewed recorded_at must not mask real silence: the server
	// last heard from the device 25 minutes ago.
	state := stateAt("emp-1", "sess-1", -6.2, 106.8, time.Minute)
	state.LastReceivedAt = sweepNow.Add(-25 * time.Minute)
	states.states["emp-1"] = state

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, database.AlertTypeNoSignal, store.opened[0].AlertType)
}

func TestEvaluator_FreshSignalDoesNotOpen(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-1", "emp-1", 2 * time.Hour)}
	states.states["emp-1"] = stateAt("emp-1", "sess-1", -6.2, 106.8, 5*time.Minute)

	require.NoError(t, ev.Sweep(context.Background()))
	assert.Empty(t, store.opened)
}

func TestEvaluator_StaleStateFromPreviousSessionIgnored(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{activeSession("sess-2", "emp-1", 5 * time.Minute)}

	// Redis still carries the previous session's state with an old anchor; it
	// must not anchor the new session, and silence counts from session start.
	stale := stateAt("emp-1", "sess-1", -6.2, 106.8, 90*time.Minute)
	anchorAt := sweepNow.Add(-2 * time.Hour)
	stale.AnchorAt = &anchorAt
	states.states["emp-1"] = stale

	require.NoError(t, ev.Sweep(context.Background()))

	assert.Empty(t, store.opened)
	assert.Equal(t, "sess-1", states.states["emp-1"].SessionID)
}

func TestEvaluator_EmployeesAreIsolated(t *testing.T) {
	ev, store, states, _ := newTestEvaluator()
	store.sessions = []*database.Session{
		activeSession("sess-1", "emp-1", 2 * time.Hour),
		activeSession("sess-2", "emp-2", 2 * time.Hour),
	}

	// emp-1 is stuck; emp-2 is moving and fresh.
	stuck := stateAt("emp-1", "sess-1", -6.2, 106.8, time.Minute)
	anchorAt := sweepNow.Add(-40 * time.Minute)
	stuck.AnchorLat = -6.2
	stuck.AnchorLng = 106.8
	stuck.AnchorAt = &anchorAt
	states.states["emp-1"] = stuck

	moving := stateAt("emp-2", "sess-2", -6.3, 106.9, time.Minute)
	movingAnchorAt := sweepNow.Add(-40 * time.Minute)
	moving.AnchorLat = -6.3
	moving.AnchorLng = 106.88
	moving.AnchorAt = &movingAnchorAt
	states.states["emp-2"] = moving

	require.NoError(t, ev.Sweep(context.Background()))

	require.Len(t, store.opened, 1)
	assert.Equal(t, "emp-1", store.opened[0].EmployeeID)
	assert.False(t, states.states["emp-2"].IsStuck)
	// emp-2 re-anchored at the new location.
	assert.Equal(t, 106.9, states.states["emp-2"].AnchorLng)
}
