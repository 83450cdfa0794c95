package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the per-employee tracking singleton: last accepted location, the
// detector's anchor, and alert flags. Mutated by every accepted point and by
// each detector sweep; reset when a session starts or ends.
type State struct {
	EmployeeID  string    `json:"employee_id"`
	SessionID   string    `json:"session_id"`
	LastLat     float64   `json:"last_lat"`
	LastLng     float64   `json:"last_lng"`
	LastPointAt time.Time `json:"last_point_at"`
	// LastReceivedAt is server clock, LastPointAt device clock; silence is
	// judged on the former so a drifting device clock cannot fake or mask it.
	LastReceivedAt time.Time  `json:"last_received_at"`
	AnchorLat      float64    `json:"anchor_lat"`
	AnchorLng      float64    `json:"anchor_lng"`
	AnchorAt       *time.Time `json:"anchor_at,omitempty"`
	IsStuck        bool       `json:"is_stuck"`
	StuckSent      bool       `json:"stuck_sent"`
}

// HasAnchor reports whether the detector has initialized an anchor.
func (s *State) HasAnchor() bool {
	return s.AnchorAt != nil
}

// StateManager stores tracking state in Redis, one JSON value per employee.
// Single-writer discipline is held per employee: ingestion touches only the
// last-location fields, the detector only the anchor fields, and both go
// through read-modify-write on the same key with the detector sweep being
// the sole anchor writer.
type StateManager struct {
	redis *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client) *StateManager {
	return &StateManager{redis: redisClient}
}

func stateKey(employeeID string) string {
	return fmt.Sprintf("tracking_state:%s", employeeID)
}

// Get retrieves the tracking state for an employee, or nil when none exists.
func (sm *StateManager) Get(ctx context.Context, employeeID string) (*State, error) {
	data, err := sm.redis.Get(ctx, stateKey(employeeID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Set saves the tracking state for an employee.
func (sm *StateManager) Set(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Expire stale state after a week of silence.
	if err := sm.redis.Set(ctx, stateKey(state.EmployeeID), data, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// Delete removes the tracking state for an employee. Called when a session
// starts or ends so stale anchors never leak across sessions.
func (sm *StateManager) Delete(ctx context.Context, employeeID string) error {
	return sm.redis.Del(ctx, stateKey(employeeID)).Err()
}

// RecordPoint updates the last-location fields after an accepted point.
// Anchor fields are left to the detector sweep.
func (sm *StateManager) RecordPoint(ctx context.Context, employeeID, sessionID string, lat, lng float64, recordedAt, receivedAt time.Time) error {
	state, err := sm.Get(ctx, employeeID)
	if err != nil {
		return err
	}
	if state == nil || state.SessionID != sessionID {
		state = &State{EmployeeID: employeeID, SessionID: sessionID}
	}

	// Even an out-of-order point proves the device is reporting.
	state.LastReceivedAt = receivedAt.UTC()

	// Never move the last location backwards in time.
	if recordedAt.Before(state.LastPointAt) {
		return sm.Set(ctx, state)
	}

	state.LastLat = lat
	state.LastLng = lng
	state.LastPointAt = recordedAt.UTC()
	return sm.Set(ctx, state)
}
