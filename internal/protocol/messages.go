package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// PointUpload is a single candidate location point inside an upload batch.
type PointUpload struct {
	EmployeeID     string   `json:"employee_id"`
	SessionID      string   `json:"session_id"`
	Latitude       float64  `json:"lat"`
	Longitude      float64  `json:"lng"`
	AccuracyM      *float64 `json:"accuracy,omitempty"`
	SpeedMS        *float64 `json:"speed,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	RecordedAt     string   `json:"recorded_at"` // RFC3339
	IdempotencyKey string   `json:"idempotency_key"`
}

// ParseRecordedAt parses the device-recorded timestamp.
func (p *PointUpload) ParseRecordedAt() (time.Time, error) {
	if p.RecordedAt == "" {
		return time.Time{}, fmt.Errorf("recorded_at is required")
	}
	ts, err := time.Parse(time.RFC3339, p.RecordedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid recorded_at (must be RFC3339): %w", err)
	}
	return ts.UTC(), nil
}

// BatchUploadRequest is the body of POST /api/v1/points:batch.
type BatchUploadRequest struct {
	BatchID string        `json:"batch_id,omitempty"`
	Points  []PointUpload `json:"points"`
}

// Per-point acceptance statuses returned by the ingestion gate.
const (
	PointStatusAccepted  = "accepted"
	PointStatusDuplicate = "duplicate"
	PointStatusRejected  = "rejected"
)

// PointResult is the per-point outcome of a batch upload.
type PointResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	DriftFlagged   bool   `json:"drift_flagged,omitempty"`
}

// BatchUploadResponse is returned for every upload, including ones where
// every point was a duplicate or rejected. Retried batches are safe.
type BatchUploadResponse struct {
	BatchID  string        `json:"batch_id,omitempty"`
	Accepted int           `json:"accepted"`
	Results  []PointResult `json:"results"`
}

// Envelope types carried on the accepted-points topic.
const (
	StreamTypePoint         = "point"
	StreamTypeSessionClosed = "session_closed"
)

// PointMessage is the internal message published for each newly accepted
// point, keyed by session id so one partition sees a session in order.
type PointMessage struct {
	Type           string    `json:"type"`
	PointID        int64     `json:"point_id"`
	EmployeeID     string    `json:"employee_id"`
	SessionID      string    `json:"session_id"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lng"`
	AccuracyM      *float64  `json:"accuracy,omitempty"`
	SpeedMS        *float64  `json:"speed,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
	ReceivedAt     time.Time `json:"received_at"`
	DriftExtreme   bool      `json:"drift_extreme,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// SessionClosedMessage tells the pipeline to force-close segmentation state
// for a session. Published on the same topic and key as the session's points
// so it arrives after all of them.
type SessionClosedMessage struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	EmployeeID string    `json:"employee_id"`
	ClosedAt   time.Time `json:"closed_at"`
}

// StreamEnvelope is used to sniff the message type before full decoding.
type StreamEnvelope struct {
	Type string `json:"type"`
}

// AlertNotification is the message format published on the alert feed topic
// for the external notification transport.
type AlertNotification struct {
	Type       string     `json:"type"` // ALERT_OPENED, ALERT_CLOSED
	AlertID    int64      `json:"alert_id"`
	AlertType  string     `json:"alert_type"` // stuck, no_signal
	Severity   string     `json:"severity"`
	EmployeeID string     `json:"employee_id"`
	SessionID  string     `json:"session_id,omitempty"`
	Message    string     `json:"message"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

const (
	AlertEventOpened = "ALERT_OPENED"
	AlertEventClosed = "ALERT_CLOSED"
)

// EncodePointMessage encodes a PointMessage to JSON.
func EncodePointMessage(msg *PointMessage) ([]byte, error) {
	msg.Type = StreamTypePoint
	return json.Marshal(msg)
}

// DecodePointMessage decodes JSON to a PointMessage.
func DecodePointMessage(data []byte) (*PointMessage, error) {
	var msg PointMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeSessionClosedMessage encodes a SessionClosedMessage to JSON.
func EncodeSessionClosedMessage(msg *SessionClosedMessage) ([]byte, error) {
	msg.Type = StreamTypeSessionClosed
	return json.Marshal(msg)
}

// DecodeSessionClosedMessage decodes JSON to a SessionClosedMessage.
func DecodeSessionClosedMessage(data []byte) (*SessionClosedMessage, error) {
	var msg SessionClosedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON.
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to an AlertNotification.
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
