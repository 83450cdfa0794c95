package database

import (
	"time"
)

// Session statuses
const (
	SessionStatusActive    = "active"
	SessionStatusClosed    = "closed"
	SessionStatusCancelled = "cancelled"
)

// Session represents one declared work session. At most one active session
// per employee (enforced by a partial unique index).
type Session struct {
	ID         string
	EmployeeID string
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     string
	CreatedAt  time.Time
}

// LocationPoint is an accepted location reading. Immutable once stored;
// retried uploads collapse on the idempotency key.
type LocationPoint struct {
	ID             int64
	SessionID      string
	EmployeeID     string
	Latitude       float64
	Longitude      float64
	AccuracyM      *float64
	SpeedMS        *float64
	Heading        *float64
	Provider       string
	RecordedAt     time.Time
	ReceivedAt     time.Time
	IdempotencyKey string
	DriftFlagged   bool
	DriftExtreme   bool
}

// SessionRollup accumulates filtered distance and accepted-point count for
// one session. Monotonically non-decreasing while the session is active,
// frozen when it closes.
type SessionRollup struct {
	SessionID  string
	EmployeeID string
	DistanceM  float64
	PointCount int
	Frozen     bool
	UpdatedAt  time.Time
}

// DailyRollup is the per-employee, per-local-day distance aggregate.
type DailyRollup struct {
	EmployeeID   string
	LocalDate    time.Time
	DistanceM    float64
	SessionCount int
	UpdatedAt    time.Time
}

// Timeline event types
const (
	EventTypeStop = "STOP"
	EventTypeMove = "MOVE"
)

// TimelineEvent is a generated STOP or MOVE segment. EndedAt is null while
// the segment is still open.
type TimelineEvent struct {
	ID         int64
	EmployeeID string
	SessionID  string
	EventType  string
	StartedAt  time.Time
	EndedAt    *time.Time
	DurationS  int64
	CenterLat  *float64 // STOP only
	CenterLng  *float64 // STOP only
	StartLat   *float64 // MOVE only
	StartLng   *float64 // MOVE only
	EndLat     *float64 // MOVE only
	EndLng     *float64 // MOVE only
	DistanceM  float64
	CreatedAt  time.Time
}

// Alert types and severities
const (
	AlertTypeStuck    = "stuck"
	AlertTypeNoSignal = "no_signal"

	AlertSeverityWarning  = "warning"
	AlertSeverityCritical = "critical"
)

// Alert is an open/close lifecycle row. At most one open alert of a given
// type per employee (partial unique index).
type Alert struct {
	ID         int64
	EmployeeID string
	SessionID  *string
	AlertType  string
	Severity   string
	Message    string
	OpenedAt   time.Time
	ClosedAt   *time.Time
	IsOpen     bool
}

// Diagnostic is a non-blocking diagnostic event, e.g. clock_drift.
type Diagnostic struct {
	ID         int64
	EmployeeID string
	SessionID  *string
	Kind       string
	Detail     string
	CreatedAt  time.Time
}

const DiagnosticClockDrift = "clock_drift"
