package pipeline

import (
	"fmt"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/distance"
	"github.com/jpratama/fieldtrack-server/internal/protocol"
	"github.com/jpratama/fieldtrack-server/internal/timeline"
)

// Store is the persistence surface the processor needs.
type Store interface {
	ListSessionPoints(sessionID string) ([]*database.LocationPoint, error)
	DeleteSessionEvents(sessionID string) error
	InsertTimelineEvent(ev *database.TimelineEvent) error
	UpsertOpenMove(ev *database.TimelineEvent) error
	CloseOpenMove(sessionID string, endedAt time.Time, durationS int64, endLat, endLng, distanceM float64) error
	UpsertSessionRollup(sessionID, employeeID string, distanceM float64, pointCount int) error
}

// sessionState is the in-memory processing state of one session: its distance
// engine, its segmenter, and the ordering timestamp of the last point fed in.
type sessionState struct {
	employeeID string
	engine     *distance.Engine
	seg        *timeline.Segmenter
	lastAt     time.Time
}

// Processor turns the ordered per-session point stream into accumulated
// distance, timeline segments and session rollups. Per-session state lives in
// memory; any gap (restart, out-of-order arrival, unknown session) is healed
// by replaying the session's stored points from scratch, which the absolute
// rollup writes and the delete-and-regenerate timeline make idempotent.
//
// Not safe for concurrent use: one processor owns its partition set.
type Processor struct {
	distCfg  distance.Config
	timeCfg  timeline.Config
	store    Store
	sessions map[string]*sessionState
}

// NewProcessor creates a stream processor.
func NewProcessor(distCfg distance.Config, timeCfg timeline.Config, store Store) *Processor {
	return &Processor{
		distCfg:  distCfg,
		timeCfg:  timeCfg,
		store:    store,
		sessions: make(map[string]*sessionState),
	}
}

// HandlePoint processes one accepted point from the stream.
func (pr *Processor) HandlePoint(msg *protocol.PointMessage) error {
	orderAt := orderingTime(msg.RecordedAt, msg.ReceivedAt, msg.DriftExtreme)

	st, ok := pr.sessions[msg.SessionID]
	if !ok {
		// First sight of this session (fresh start or consumer restart). The
		// gate stored the point before publishing it, so a full replay
		// already covers it.
		return pr.rebuild(msg.SessionID)
	}

	if orderAt.Before(st.lastAt) {
		// Late arrival behind the engine's cursor. Filtering is order-
		// sensitive, so recompute the whole session instead of patching.
		return pr.rebuild(msg.SessionID)
	}

	return pr.applyPoint(st, msg.SessionID, pointInput{
		lat:       msg.Latitude,
		lng:       msg.Longitude,
		accuracyM: msg.AccuracyM,
		at:        orderAt,
	})
}

// HandleSessionClosed force-closes segmentation for a session and drops its
// in-memory state.
func (pr *Processor) HandleSessionClosed(msg *protocol.SessionClosedMessage) error {
	st, ok := pr.sessions[msg.SessionID]
	if !ok {
		// Nothing in memory; rebuild so the final segments exist, then close.
		if err := pr.rebuild(msg.SessionID); err != nil {
			return err
		}
		st, ok = pr.sessions[msg.SessionID]
		if !ok {
			return nil // session had no points at all
		}
	}

	events := st.seg.Close()
	if err := pr.applyEvents(st, msg.SessionID, events); err != nil {
		return err
	}

	delete(pr.sessions, msg.SessionID)
	return nil
}

type pointInput struct {
	lat       float64
	lng       float64
	accuracyM *float64
	at        time.Time
}

func (pr *Processor) applyPoint(st *sessionState, sessionID string, in pointInput) error {
	st.engine.Add(distance.Point{
		Lat:       in.lat,
		Lng:       in.lng,
		AccuracyM: in.accuracyM,
		At:        in.at,
	})
	st.lastAt = in.at

	events := st.seg.Add(timeline.Point{Lat: in.lat, Lng: in.lng, At: in.at}, st.engine.TotalM())
	if err := pr.applyEvents(st, sessionID, events); err != nil {
		return err
	}

	return pr.store.UpsertSessionRollup(sessionID, st.employeeID, st.engine.TotalM(), st.engine.Count())
}

func (pr *Processor) applyEvents(st *sessionState, sessionID string, events []timeline.Event) error {
	for _, ev := range events {
		if err := pr.applyEvent(st, sessionID, ev); err != nil {
			return err
		}
	}
	return nil
}

func (pr *Processor) applyEvent(st *sessionState, sessionID string, ev timeline.Event) error {
	switch {
	case ev.Type == timeline.EventMove && ev.Open:
		startLat, startLng := ev.Start.Lat, ev.Start.Lng
		endLat, endLng := ev.End.Lat, ev.End.Lng
		row := &database.TimelineEvent{
			EmployeeID: st.employeeID,
			SessionID:  sessionID,
			EventType:  database.EventTypeMove,
			StartedAt:  ev.Start.At.UTC(),
			DurationS:  int64(ev.Duration().Seconds()),
			StartLat:   &startLat,
			StartLng:   &startLng,
			EndLat:     &endLat,
			EndLng:     &endLng,
			DistanceM:  ev.DistanceM,
		}
		return pr.store.UpsertOpenMove(row)

	case ev.Type == timeline.EventMove:
		return pr.store.CloseOpenMove(
			sessionID, ev.End.At.UTC(), int64(ev.Duration().Seconds()),
			ev.End.Lat, ev.End.Lng, ev.DistanceM,
		)

	case ev.Type == timeline.EventStop:
		centerLat, centerLng := ev.CenterLat, ev.CenterLng
		endedAt := ev.End.At.UTC()
		row := &database.TimelineEvent{
			EmployeeID: st.employeeID,
			SessionID:  sessionID,
			EventType:  database.EventTypeStop,
			StartedAt:  ev.Start.At.UTC(),
			EndedAt:    &endedAt,
			DurationS:  int64(ev.Duration().Seconds()),
			CenterLat:  &centerLat,
			CenterLng:  &centerLng,
		}
		return pr.store.InsertTimelineEvent(row)
	}

	return fmt.Errorf("unknown timeline event type %q", ev.Type)
}

// rebuild recomputes a session from its stored points: the timeline is
// deleted and regenerated, the engine and segmenter restart from zero, and
// the rollup is rewritten absolutely.
func (pr *Processor) rebuild(sessionID string) error {
	points, err := pr.store.ListSessionPoints(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session points: %w", err)
	}
	if len(points) == 0 {
		delete(pr.sessions, sessionID)
		return nil
	}

	if err := pr.store.DeleteSessionEvents(sessionID); err != nil {
		return fmt.Errorf("failed to clear session timeline: %w", err)
	}

	st := &sessionState{
		employeeID: points[0].EmployeeID,
		engine:     distance.NewEngine(pr.distCfg),
		seg:        timeline.NewSegmenter(pr.timeCfg),
	}
	pr.sessions[sessionID] = st

	for _, p := range points {
		in := pointInput{
			lat:       p.Latitude,
			lng:       p.Longitude,
			accuracyM: p.AccuracyM,
			at:        orderingTime(p.RecordedAt, p.ReceivedAt, p.DriftExtreme),
		}
		if err := pr.applyPoint(st, sessionID, in); err != nil {
			return err
		}
	}

	return nil
}

// orderingTime picks the engine-order timestamp for a point. Extreme clock
// drift makes the device timestamp untrustworthy; server-received time is the
// fallback.
func orderingTime(recordedAt, receivedAt time.Time, driftExtreme bool) time.Time {
	if driftExtreme {
		return receivedAt.UTC()
	}
	return recordedAt.UTC()
}
