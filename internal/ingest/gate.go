package ingest

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/geo"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

// Store is the persistence surface the gate needs.
type Store interface {
	GetSession(sessionID string) (*database.Session, error)
	InsertPoint(p *database.LocationPoint) (inserted bool, existing *database.LocationPoint, err error)
	InsertDiagnostic(d *database.Diagnostic) error
	CloseOpenAlert(employeeID, alertType string, closedAt time.Time) (*database.Alert, error)
}

// TrackingStates is the per-employee state surface the gate updates.
type TrackingStates interface {
	RecordPoint(ctx context.Context, employeeID, sessionID string, lat, lng float64, recordedAt, receivedAt time.Time) error
}

// Publisher sends a keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Gate validates, deduplicates and persists uploaded location points, then
// hands accepted points to the processing pipeline and the tracking state.
type Gate struct {
	cfg    config.IngestConfig
	store  Store
	states TrackingStates
	points Publisher // accepted-points topic, keyed by session id
	alerts Publisher // alert feed topic
	now    func() time.Time
}

// NewGate creates an ingestion gate.
func NewGate(cfg config.IngestConfig, store Store, states TrackingStates, points, alerts Publisher) *Gate {
	return &Gate{
		cfg:    cfg,
		store:  store,
		states: states,
		points: points,
		alerts: alerts,
		now:    time.Now,
	}
}

// ProcessBatch handles one upload batch. Every point gets an individual
// status; a batch is never rejected wholesale. Duplicate submissions are
// success-no-ops so device retries are always safe.
func (g *Gate) ProcessBatch(ctx context.Context, req *protocol.BatchUploadRequest) *protocol.BatchUploadResponse {
	resp := &protocol.BatchUploadResponse{
		BatchID: req.BatchID,
		Results: make([]protocol.PointResult, 0, len(req.Points)),
	}

	// Process in device-recorded order so the published stream is ordered
	// within the batch. Unparseable timestamps sort first and get rejected.
	points := make([]protocol.PointUpload, len(req.Points))
	copy(points, req.Points)
	sort.SliceStable(points, func(i, j int) bool {
		ti, erri := points[i].ParseRecordedAt()
		tj, errj := points[j].ParseRecordedAt()
		if erri != nil || errj != nil {
			return erri != nil && errj == nil
		}
		return ti.Before(tj)
	})

	for i := range points {
		result := g.processPoint(ctx, &points[i])
		if result.Status == protocol.PointStatusAccepted {
			resp.Accepted++
		}
		resp.Results = append(resp.Results, result)
	}

	return resp
}

func (g *Gate) processPoint(ctx context.Context, p *protocol.PointUpload) protocol.PointResult {
	reject := func(reason string) protocol.PointResult {
		return protocol.PointResult{
			IdempotencyKey: p.IdempotencyKey,
			Status:         protocol.PointStatusRejected,
			Reason:         reason,
		}
	}

	recordedAt, err := p.ParseRecordedAt()
	if err != nil {
		return reject(err.Error())
	}
	if err := geo.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
		return reject(err.Error())
	}

	// The key is content-derived; recompute and verify rather than trust
	// the client blindly. An empty key is filled in server-side.
	expectedKey := protocol.IdempotencyKey(p.EmployeeID, p.SessionID, recordedAt, p.Latitude, p.Longitude)
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = expectedKey
	} else if p.IdempotencyKey != expectedKey {
		return reject("idempotency key does not match point contents")
	}

	session, err := g.store.GetSession(p.SessionID)
	if err == database.ErrSessionNotFound {
		return reject("session not found")
	}
	if err != nil {
		return reject(fmt.Sprintf("session lookup failed: %v", err))
	}
	if session.EmployeeID != p.EmployeeID {
		return reject("session does not belong to employee")
	}
	if session.Status != database.SessionStatusActive {
		return reject("session is not active")
	}

	receivedAt := g.now().UTC()
	drift := time.Duration(math.Abs(float64(receivedAt.Sub(recordedAt))))
	driftFlagged := drift > g.cfg.DriftFlag
	driftExtreme := drift > g.cfg.DriftExtreme

	point := &database.LocationPoint{
		SessionID:      p.SessionID,
		EmployeeID:     p.EmployeeID,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyM:      p.AccuracyM,
		SpeedMS:        p.SpeedMS,
		Heading:        p.Heading,
		Provider:       p.Provider,
		RecordedAt:     recordedAt,
		ReceivedAt:     receivedAt,
		IdempotencyKey: p.IdempotencyKey,
		DriftFlagged:   driftFlagged,
		DriftExtreme:   driftExtreme,
	}

	inserted, _, err := g.store.InsertPoint(point)
	if err != nil {
		return reject(fmt.Sprintf("storage failure: %v", err))
	}
	if !inserted {
		// Already stored; a retried upload collapsed onto the prior row.
		return protocol.PointResult{
			IdempotencyKey: p.IdempotencyKey,
			Status:         protocol.PointStatusDuplicate,
		}
	}

	if driftFlagged {
		g.raiseClockDriftDiagnostic(point, drift)
	}

	if err := g.states.RecordPoint(ctx, p.EmployeeID, p.SessionID, p.Latitude, p.Longitude, recordedAt, receivedAt); err != nil {
		log.Printf("Failed to update tracking state for %s: %v", p.EmployeeID, err)
	}

	g.clearNoSignal(ctx, p.EmployeeID, p.SessionID, receivedAt)

	if err := g.publishPoint(ctx, point); err != nil {
		// The pipeline rebuilds a session from storage when its stream has
		// a gap, so a lost publish degrades latency, not correctness.
		log.Printf("Failed to publish point %d: %v", point.ID, err)
	}

	return protocol.PointResult{
		IdempotencyKey: p.IdempotencyKey,
		Status:         protocol.PointStatusAccepted,
		DriftFlagged:   driftFlagged,
	}
}

func (g *Gate) raiseClockDriftDiagnostic(p *database.LocationPoint, drift time.Duration) {
	sid := p.SessionID
	diag := &database.Diagnostic{
		EmployeeID: p.EmployeeID,
		SessionID:  &sid,
		Kind:       database.DiagnosticClockDrift,
		Detail: fmt.Sprintf("recorded_at drifts %s from server time (extreme=%v)",
			drift.Round(time.Second), p.DriftExtreme),
	}
	if err := g.store.InsertDiagnostic(diag); err != nil {
		log.Printf("Failed to record clock drift diagnostic: %v", err)
	}
}

// clearNoSignal closes an open no_signal alert as soon as a fresh point
// arrives, and publishes the closure on the alert feed.
func (g *Gate) clearNoSignal(ctx context.Context, employeeID, sessionID string, at time.Time) {
	closed, err := g.store.CloseOpenAlert(employeeID, database.AlertTypeNoSignal, at)
	if err != nil {
		log.Printf("Failed to clear no_signal alert for %s: %v", employeeID, err)
		return
	}
	if closed == nil {
		return
	}

	notification := &protocol.AlertNotification{
		Type:       protocol.AlertEventClosed,
		AlertID:    closed.ID,
		AlertType:  closed.AlertType,
		Severity:   closed.Severity,
		EmployeeID: employeeID,
		SessionID:  sessionID,
		Message:    "signal restored",
		OpenedAt:   closed.OpenedAt,
		ClosedAt:   closed.ClosedAt,
	}
	data, err := protocol.EncodeAlertNotification(notification)
	if err != nil {
		log.Printf("Failed to encode alert notification: %v", err)
		return
	}
	if err := g.alerts.Publish(ctx, employeeID, data); err != nil {
		log.Printf("Failed to publish alert notification: %v", err)
	}
}

func (g *Gate) publishPoint(ctx context.Context, p *database.LocationPoint) error {
	msg := &protocol.PointMessage{
		PointID:        p.ID,
		EmployeeID:     p.EmployeeID,
		SessionID:      p.SessionID,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyM:      p.AccuracyM,
		SpeedMS:        p.SpeedMS,
		RecordedAt:     p.RecordedAt,
		ReceivedAt:     p.ReceivedAt,
		DriftExtreme:   p.DriftExtreme,
		IdempotencyKey: p.IdempotencyKey,
	}
	data, err := protocol.EncodePointMessage(msg)
	if err != nil {
		return err
	}
	return g.points.Publish(ctx, p.SessionID, data)
}
