package timeline

import (
	"time"

	"github.com/jpratama/fieldtrack-server/internal/geo"
)

// Config holds the stop clustering thresholds.
type Config struct {
	StopRadiusM     float64
	MinStopDuration time.Duration
}

// Point is one accepted reading in engine order.
type Point struct {
	Lat float64
	Lng float64
	At  time.Time
}

// Event types
const (
	EventStop = "STOP"
	EventMove = "MOVE"
)

// Event is a STOP or MOVE segment produced by the segmenter. A MOVE with
// Open=true is the session's single in-progress segment and supersedes any
// previous open extent; the consumer upserts it and finalizes it when the
// closed version arrives.
type Event struct {
	Type      string
	Open      bool
	Start     Point
	End       Point
	CenterLat float64 // STOP only: centroid of clustered points
	CenterLng float64 // STOP only
	DistanceM float64 // MOVE only: filtered distance over the span
}

// Duration returns the event's span.
func (ev Event) Duration() time.Duration {
	return ev.End.At.Sub(ev.Start.At)
}

// mark is a position paired with the distance engine's reading at that
// point, so MOVE distance is the filtered accumulation over the span.
type mark struct {
	p     Point
	distM float64
}

type cluster struct {
	anchor Point
	first  mark
	last   mark
	sumLat float64
	sumLng float64
	n      int
}

func newCluster(p Point, distM float64) *cluster {
	m := mark{p: p, distM: distM}
	return &cluster{anchor: p, first: m, last: m, sumLat: p.Lat, sumLng: p.Lng, n: 1}
}

func (c *cluster) extend(p Point, distM float64) {
	c.last = mark{p: p, distM: distM}
	c.sumLat += p.Lat
	c.sumLng += p.Lng
	c.n++
}

func (c *cluster) duration() time.Duration {
	return c.last.p.At.Sub(c.first.p.At)
}

// Segmenter clusters one session's ordered point stream into alternating
// STOP and MOVE segments, online. Not safe for concurrent use.
type Segmenter struct {
	cfg       Config
	cluster   *cluster
	moveStart *mark
}

// NewSegmenter creates a segmenter with the given thresholds.
func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Add consumes the next point together with the distance engine's running
// total after that point, and returns any events to apply, in chronological
// order.
func (s *Segmenter) Add(p Point, distanceSoFar float64) []Event {
	if s.cluster == nil {
		s.cluster = newCluster(p, distanceSoFar)
		return nil
	}

	if geo.Distance(p.Lat, p.Lng, s.cluster.anchor.Lat, s.cluster.anchor.Lng) <= s.cfg.StopRadiusM {
		s.cluster.extend(p, distanceSoFar)
		return nil
	}

	// The point breaks the cluster radius.
	var events []Event

	if s.cluster.duration() >= s.cfg.MinStopDuration {
		if s.moveStart != nil {
			if ev, ok := s.closedMove(s.cluster.first); ok {
				events = append(events, ev)
			}
			s.moveStart = nil
		}
		events = append(events, s.stopEvent())
		start := s.cluster.last
		s.moveStart = &start
	} else if s.moveStart == nil {
		// Too short to be a real stop: noise, absorbed into the move.
		start := s.cluster.first
		s.moveStart = &start
	}

	s.cluster = newCluster(p, distanceSoFar)

	events = append(events, Event{
		Type:      EventMove,
		Open:      true,
		Start:     s.moveStart.p,
		End:       p,
		DistanceM: distanceSoFar - s.moveStart.distM,
	})

	return events
}

// Close force-closes the segmenter at session end, applying the same
// minimum-duration test to the open cluster. A session with a single point
// produces no events; a session that never broke the stop radius produces
// exactly one STOP spanning start to end.
func (s *Segmenter) Close() []Event {
	if s.cluster == nil {
		return nil
	}

	var events []Event

	if s.cluster.duration() >= s.cfg.MinStopDuration {
		if s.moveStart != nil {
			if ev, ok := s.closedMove(s.cluster.first); ok {
				events = append(events, ev)
			}
		}
		events = append(events, s.stopEvent())
	} else if s.moveStart != nil {
		if ev, ok := s.closedMove(s.cluster.last); ok {
			events = append(events, ev)
		}
	}

	s.cluster = nil
	s.moveStart = nil
	return events
}

func (s *Segmenter) stopEvent() Event {
	c := s.cluster
	return Event{
		Type:      EventStop,
		Start:     c.first.p,
		End:       c.last.p,
		CenterLat: c.sumLat / float64(c.n),
		CenterLng: c.sumLng / float64(c.n),
	}
}

func (s *Segmenter) closedMove(end mark) (Event, bool) {
	ev := Event{
		Type:      EventMove,
		Start:     s.moveStart.p,
		End:       end.p,
		DistanceM: end.distM - s.moveStart.distM,
	}
	// A degenerate zero-length span is not a segment.
	if ev.Duration() <= 0 && ev.DistanceM == 0 {
		return Event{}, false
	}
	return ev, true
}
