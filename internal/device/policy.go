package device

import (
	"time"

	"github.com/jpratama/fieldtrack-server/internal/geo"
)

// Mode is the sampling policy's motion mode.
type Mode int

const (
	ModeMoving Mode = iota
	ModeStationary
)

func (m Mode) String() string {
	if m == ModeStationary {
		return "stationary"
	}
	return "moving"
}

// PolicyConfig holds the sampling thresholds.
type PolicyConfig struct {
	AccuracyCeilingM float64 // readings worse than this are discarded outright

	// Minimum displacement from the last accepted point before a new reading
	// is accepted. The fast threshold applies at vehicle-like speeds.
	MinDisplacementSlowM float64
	MinDisplacementFastM float64
	FastSpeedMS          float64

	MinInterval time.Duration // rate limit between accepted points while moving

	// Stationary mode is entered after EntryCount consecutive accepted points
	// inside the anchor radius; while stationary the device polls single-shot
	// at PollInterval instead of streaming.
	StationaryRadiusM    float64
	StationaryEntryCount int
	PollInterval         time.Duration
}

// DefaultPolicyConfig returns the thresholds used on production devices.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AccuracyCeilingM:     50,
		MinDisplacementSlowM: 15,
		MinDisplacementFastM: 50,
		FastSpeedMS:          8,
		MinInterval:          15 * time.Second,
		StationaryRadiusM:    40,
		StationaryEntryCount: 3,
		PollInterval:         5 * time.Minute,
	}
}

// Reading is one raw sensor fix offered to the policy.
type Reading struct {
	Lat       float64
	Lng       float64
	AccuracyM *float64
	SpeedMS   *float64
	At        time.Time
}

// Policy is the two-mode device sampling gate. It decides which raw readings
// become accepted points, trading upload volume against the guarantee that
// genuine movement is observed within one stationary polling interval.
// Not safe for concurrent use.
type Policy struct {
	cfg PolicyConfig

	mode         Mode
	lastAccepted *Reading
	anchor       *Reading
	inRadiusRun  int
}

// NewPolicy creates a sampling policy in moving mode.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Mode returns the current motion mode.
func (p *Policy) Mode() Mode { return p.mode }

// SampleInterval returns how long the device should wait before producing the
// next reading: the moving rate limit, or the stationary single-shot poll.
func (p *Policy) SampleInterval() time.Duration {
	if p.mode == ModeStationary {
		return p.cfg.PollInterval
	}
	return p.cfg.MinInterval
}

// Offer evaluates a reading and reports whether it is accepted (and should be
// queued for upload).
func (p *Policy) Offer(r Reading) bool {
	if r.AccuracyM != nil && *r.AccuracyM > p.cfg.AccuracyCeilingM {
		return false
	}

	if p.lastAccepted == nil {
		p.accept(r)
		p.anchor = p.lastAccepted
		p.inRadiusRun = 1
		return true
	}

	if p.mode == ModeStationary {
		return p.offerStationary(r)
	}
	return p.offerMoving(r)
}

func (p *Policy) offerMoving(r Reading) bool {
	if r.At.Sub(p.lastAccepted.At) < p.cfg.MinInterval {
		return false
	}

	disp := geo.Distance(r.Lat, r.Lng, p.lastAccepted.Lat, p.lastAccepted.Lng)
	if disp < p.minDisplacement(r) {
		return false
	}

	p.accept(r)

	// Track the stationary-entry run against the rolling anchor.
	if geo.Distance(r.Lat, r.Lng, p.anchor.Lat, p.anchor.Lng) <= p.cfg.StationaryRadiusM {
		p.inRadiusRun++
		if p.inRadiusRun >= p.cfg.StationaryEntryCount {
			p.mode = ModeStationary
		}
	} else {
		p.anchor = p.lastAccepted
		p.inRadiusRun = 1
	}

	return true
}

func (p *Policy) offerStationary(r Reading) bool {
	// A poll inside the anchor radius confirms the dwell and is not worth an
	// upload; breaking the radius wakes the policy back into moving mode.
	if geo.Distance(r.Lat, r.Lng, p.anchor.Lat, p.anchor.Lng) <= p.cfg.StationaryRadiusM {
		return false
	}

	p.accept(r)
	p.mode = ModeMoving
	p.anchor = p.lastAccepted
	p.inRadiusRun = 1
	return true
}

func (p *Policy) minDisplacement(r Reading) float64 {
	if r.SpeedMS != nil && *r.SpeedMS >= p.cfg.FastSpeedMS {
		return p.cfg.MinDisplacementFastM
	}
	return p.cfg.MinDisplacementSlowM
}

func (p *Policy) accept(r Reading) {
	cp := r
	p.lastAccepted = &cp
}
