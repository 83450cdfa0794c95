package distance

import (
	"time"

	"github.com/jpratama/fieldtrack-server/internal/geo"
)

// Config holds the filter thresholds for one session's accumulation.
type Config struct {
	AccuracyCeilingM float64
	JitterFloorM     float64
	MaxSpeedKMH      float64
}

// Point is one accepted reading in engine order. At is the ordering
// timestamp chosen by the caller: device-recorded time, or server-received
// time when the point was flagged for extreme clock drift.
type Point struct {
	Lat       float64
	Lng       float64
	AccuracyM *float64
	At        time.Time
}

// Engine accumulates filtered distance for a single session. It is not safe
// for concurrent use; the pipeline feeds each session from one goroutine.
//
// Filtering is deterministic: the same ordered input always yields the same
// total. Duplicates are guarded upstream by the ingestion gate, not here.
type Engine struct {
	cfg Config

	lastConfirmed *Point
	// provisional holds a point whose implied speed was implausible. It is
	// committed retroactively if the next usable point corroborates the
	// jump, discarded otherwise.
	provisional *Point

	totalM float64
	count  int
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// TotalM returns the accumulated filtered distance in meters.
func (e *Engine) TotalM() float64 { return e.totalM }

// Count returns the number of accepted points processed.
func (e *Engine) Count() int { return e.count }

// Add processes the next accepted point and returns the distance delta it
// contributed (zero when the segment was filtered out).
func (e *Engine) Add(p Point) float64 {
	e.count++

	// A reading with unusable accuracy contributes nothing and does not
	// advance the confirmed position. Unknown accuracy is tolerated.
	if p.AccuracyM != nil && *p.AccuracyM > e.cfg.AccuracyCeilingM {
		return 0
	}

	if e.lastConfirmed == nil {
		cp := p
		e.lastConfirmed = &cp
		return 0
	}

	var delta float64
	if e.provisional != nil {
		delta += e.resolveProvisional(p)
	}

	d := geo.Distance(e.lastConfirmed.Lat, e.lastConfirmed.Lng, p.Lat, p.Lng)

	if d < e.jitterFloor(p.AccuracyM) {
		return delta
	}

	elapsed := p.At.Sub(e.lastConfirmed.At).Seconds()
	if kmh(geo.SpeedMS(d, elapsed)) > e.cfg.MaxSpeedKMH {
		cp := p
		e.provisional = &cp
		return delta
	}

	e.totalM += d
	cp := p
	e.lastConfirmed = &cp
	return delta + d
}

// resolveProvisional decides the fate of a pending teleport candidate using
// the next usable point. If the candidate-to-next speed is plausible, the
// jump was real movement and the candidate is committed; otherwise it was a
// GPS spike and is dropped. Returns the committed delta, if any.
func (e *Engine) resolveProvisional(next Point) float64 {
	prov := e.provisional
	e.provisional = nil

	d := geo.Distance(prov.Lat, prov.Lng, next.Lat, next.Lng)
	elapsed := next.At.Sub(prov.At).Seconds()
	if kmh(geo.SpeedMS(d, elapsed)) > e.cfg.MaxSpeedKMH {
		return 0
	}

	jump := geo.Distance(e.lastConfirmed.Lat, e.lastConfirmed.Lng, prov.Lat, prov.Lng)
	if jump < e.jitterFloor(prov.AccuracyM) {
		return 0
	}

	e.totalM += jump
	e.lastConfirmed = prov
	return jump
}

// jitterFloor is the minimum delta treated as real movement:
// max(floor, 2 x accuracy) when accuracy is known.
func (e *Engine) jitterFloor(accuracyM *float64) float64 {
	floor := e.cfg.JitterFloorM
	if accuracyM != nil && 2**accuracyM > floor {
		floor = 2 * *accuracyM
	}
	return floor
}

func kmh(ms float64) float64 { return ms * 3.6 }
