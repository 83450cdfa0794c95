package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/ingest"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
	"github.com/jpratama/fieldtrack-server/internal/timeutil"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

// Store is the read-side persistence surface of the API.
type Store interface {
	GetSession(sessionID string) (*database.Session, error)
	GetSessionRollup(sessionID string) (*database.SessionRollup, error)
	GetDailyRollup(employeeID string, localDate time.Time) (*database.DailyRollup, error)
	SumDailyRollupLive(employeeID string, windowStart, windowEnd time.Time) (float64, int, error)
	ListTimelineEvents(employeeID string, from, to time.Time) ([]*database.TimelineEvent, error)
	ListOpenAlerts(employeeID string) ([]*database.Alert, error)
}

type Handler struct {
	gate    *ingest.Gate
	control *ingest.SessionControl
	store   Store
	ingest  config.IngestConfig
	rollup  config.RollupConfig
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(gate *ingest.Gate, control *ingest.SessionControl, store Store, ingestCfg config.IngestConfig, rollupCfg config.RollupConfig) *Handler {
	return &Handler{
		gate:    gate,
		control: control,
		store:   store,
		ingest:  ingestCfg,
		rollup:  rollupCfg,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /api/v1/points:batch", h.handleBatchUpload)
	mux.HandleFunc("POST /api/v1/sessions", h.handleStartSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/end", h.handleEndSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/rollup", h.handleSessionRollup)
	mux.HandleFunc("GET /api/v1/employees/{id}/daily", h.handleDailyRollup)
	mux.HandleFunc("GET /api/v1/employees/{id}/timeline", h.handleTimeline)
	mux.HandleFunc("GET /api/v1/employees/{id}/alerts", h.handleOpenAlerts)
	mux.HandleFunc("GET /api/v1/alerts", h.handleAlertFeed)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	var req protocol.BatchUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if len(req.Points) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "points must not be empty")
		return
	}
	if len(req.Points) > h.ingest.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", "too many points in one batch")
		return
	}

	resp := h.gate.ProcessBatch(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EmployeeID string `json:"employee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	payload.EmployeeID = strings.TrimSpace(payload.EmployeeID)
	if payload.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}

	session, err := h.control.Start(r.Context(), payload.EmployeeID)
	if errors.Is(err, database.ErrActiveSessionExists) {
		writeError(w, http.StatusConflict, "session_exists", "employee already has an active session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	status := database.SessionStatusClosed
	if r.Body != nil && r.ContentLength != 0 {
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if payload.Status != "" {
			status = payload.Status
		}
	}
	if status != database.SessionStatusClosed && status != database.SessionStatusCancelled {
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be closed or cancelled")
		return
	}

	session, err := h.control.End(r.Context(), sessionID, status)
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if errors.Is(err, database.ErrSessionNotActive) {
		writeError(w, http.StatusConflict, "session_not_active", "session is not active")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.PathValue("id"))
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) handleSessionRollup(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, err := h.store.GetSession(sessionID)
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	rollup, err := h.store.GetSessionRollup(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	// A session with no accepted points yet reads as a zero rollup.
	view := rollupResponse{
		SessionID:  session.ID,
		EmployeeID: session.EmployeeID,
	}
	if rollup != nil {
		view.DistanceM = rollup.DistanceM
		view.PointCount = rollup.PointCount
		view.Frozen = rollup.Frozen
		view.UpdatedAt = &rollup.UpdatedAt
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDailyRollup(w http.ResponseWriter, r *http.Request) {
	employeeID := r.PathValue("id")

	date := timeutil.LocalDate(time.Now(), h.rollup.LocalOffset)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	// Materialized rows win; days not yet materialized (today, typically) are
	// summed live from session rollups.
	if rollup, err := h.store.GetDailyRollup(employeeID, date); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	} else if rollup != nil {
		writeJSON(w, http.StatusOK, dailyResponse{
			EmployeeID:   rollup.EmployeeID,
			Date:         date.Format("2006-01-02"),
			DistanceM:    rollup.DistanceM,
			SessionCount: rollup.SessionCount,
			Source:       "materialized",
		})
		return
	}

	start, end := timeutil.DayBoundsUTC(date, h.rollup.LocalOffset)
	distance, sessions, err := h.store.SumDailyRollupLive(employeeID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, dailyResponse{
		EmployeeID:   employeeID,
		Date:         date.Format("2006-01-02"),
		DistanceM:    distance,
		SessionCount: sessions,
		Source:       "live",
	})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	employeeID := r.PathValue("id")

	from := time.Now().UTC().Add(-24 * time.Hour)
	to := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		from, to = timeutil.DayBoundsUTC(parsed, h.rollup.LocalOffset)
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = parsed
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "invalid_request", "to must be after from")
		return
	}

	events, err := h.store.ListTimelineEvents(employeeID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	views := make([]timelineEventResponse, 0, len(events))
	for _, ev := range events {
		views = append(views, timelineEventView(ev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleOpenAlerts(w http.ResponseWriter, r *http.Request) {
	h.renderOpenAlerts(w, r.PathValue("id"))
}

// handleAlertFeed is the cross-employee view a notification transport polls.
// An empty employee_id filter means every open alert.
func (h *Handler) handleAlertFeed(w http.ResponseWriter, r *http.Request) {
	h.renderOpenAlerts(w, strings.TrimSpace(r.URL.Query().Get("employee_id")))
}

func (h *Handler) renderOpenAlerts(w http.ResponseWriter, employeeID string) {
	alerts, err := h.store.ListOpenAlerts(employeeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	views := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

type sessionResponse struct {
	ID         string     `json:"id"`
	EmployeeID string     `json:"employee_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`
}

func sessionView(s *database.Session) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		EmployeeID: s.EmployeeID,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Status:     s.Status,
	}
}

type rollupResponse struct {
	SessionID  string     `json:"session_id"`
	EmployeeID string     `json:"employee_id"`
	DistanceM  float64    `json:"distance_m"`
	PointCount int        `json:"point_count"`
	Frozen     bool       `json:"frozen"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type dailyResponse struct {
	EmployeeID   string  `json:"employee_id"`
	Date         string  `json:"date"`
	DistanceM    float64 `json:"distance_m"`
	SessionCount int     `json:"session_count"`
	Source       string  `json:"source"`
}

type timelineEventResponse struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	EventType string     `json:"event_type"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	DurationS int64      `json:"duration_s"`
	CenterLat *float64   `json:"center_lat,omitempty"`
	CenterLng *float64   `json:"center_lng,omitempty"`
	StartLat  *float64   `json:"start_lat,omitempty"`
	StartLng  *float64   `json:"start_lng,omitempty"`
	EndLat    *float64   `json:"end_lat,omitempty"`
	EndLng    *float64   `json:"end_lng,omitempty"`
	DistanceM float64    `json:"distance_m"`
}

func timelineEventView(ev *database.TimelineEvent) timelineEventResponse {
	return timelineEventResponse{
		ID:        ev.ID,
		SessionID: ev.SessionID,
		EventType: ev.EventType,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
		DurationS: ev.DurationS,
		CenterLat: ev.CenterLat,
		CenterLng: ev.CenterLng,
		StartLat:  ev.StartLat,
		StartLng:  ev.StartLng,
		EndLat:    ev.EndLat,
		EndLng:    ev.EndLng,
		DistanceM: ev.DistanceM,
	}
}

type alertResponse struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employee_id"`
	SessionID  *string   `json:"session_id,omitempty"`
	AlertType  string    `json:"alert_type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	OpenedAt   time.Time `json:"opened_at"`
}

func alertView(a *database.Alert) alertResponse {
	return alertResponse{
		ID:         a.ID,
		EmployeeID: a.EmployeeID,
		SessionID:  a.SessionID,
		AlertType:  a.AlertType,
		Severity:   a.Severity,
		Message:    a.Message,
		OpenedAt:   a.OpenedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
