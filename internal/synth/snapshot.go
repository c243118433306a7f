package synth

import (
	"math"
	"strings"
	"sync/atomic"
)

// Mode indexes one engine archetype in the intensity vector.
type Mode int

const (
	ModeVTEC Mode = iota
	ModeBoxer
	ModeCrossPlane
	ModeRotary
	ModeTurbo
	ModeCount
)

var modeNames = [ModeCount]string{"vtec", "boxer", "crossplane", "rotary", "turbo"}

func (m Mode) String() string {
	if m < 0 || m >= ModeCount {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode resolves a mode name case-insensitively.
func ParseMode(name string) (Mode, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range modeNames {
		if candidate == name {
			return Mode(i), true
		}
	}
	return 0, false
}

// Modes holds continuous per-archetype intensities in [0,1]. They are not mutually exclusive.
type Modes [ModeCount]float64

// Max returns the strongest intensity.
func (m Modes) Max() float64 {
	peak := 0.0
	for _, v := range m {
		peak = math.Max(peak, v)
	}
	return peak
}

// Lerp blends toward target by t in [0,1].
func (m Modes) Lerp(target Modes, t float64) Modes {
	t = clamp(t, 0, 1)
	var out Modes
	for i := range m {
		out[i] = m[i] + (target[i]-m[i])*t
	}
	return out
}

// Parameter ranges accepted at the physics boundary.
const (
	MaxRPM        = 12000.0
	MinRedlineRPM = 3000.0
	MaxCylinders  = 12
)

// Snapshot is the one-way parameter set published by the physics loop.
type Snapshot struct {
	RPM      float64
	Throttle float64
	// Demand is the driver's requested throttle before slew limiting. Backfires key off a drop
	// in either Demand or Throttle.
	Demand     float64
	Cylinders  int
	NoiseGain  float64
	RedlineRPM float64
	IdleRPM    float64
	Load       float64
	// Level scales the final output; zero silences the engine.
	Level float64
	Modes Modes
}

// Clamp saturates every field into its accepted range.
func (s Snapshot) Clamp() Snapshot {
	s.RPM = clamp(s.RPM, 0, MaxRPM)
	s.Throttle = clamp(s.Throttle, 0, 1)
	s.Demand = clamp(s.Demand, 0, 1)
	if s.Cylinders < 1 {
		s.Cylinders = 1
	}
	if s.Cylinders > MaxCylinders {
		s.Cylinders = MaxCylinders
	}
	s.NoiseGain = clamp(s.NoiseGain, 0, 1)
	s.RedlineRPM = clamp(s.RedlineRPM, MinRedlineRPM, MaxRPM)
	s.IdleRPM = clamp(s.IdleRPM, 0, s.RedlineRPM)
	s.Load = clamp(s.Load, 0, 1)
	s.Level = clamp(s.Level, 0, 1)
	for i := range s.Modes {
		s.Modes[i] = clamp(s.Modes[i], 0, 1)
	}
	return s
}

// Bus hands snapshots from the physics goroutine to the audio callback.
type Bus struct {
	current atomic.Pointer[Snapshot]
}

// NewBus constructs an empty bus. Readers see nil until the first Publish.
func NewBus() *Bus {
	return &Bus{}
}

// Publish clamps and swaps in a new snapshot.
func (b *Bus) Publish(s Snapshot) {
	if b == nil {
		return
	}
	clamped := s.Clamp()
	b.current.Store(&clamped)
}

// Load returns the latest snapshot without blocking. The result must not be modified.
func (b *Bus) Load() *Snapshot {
	if b == nil {
		return nil
	}
	return b.current.Load()
}

func clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		return lo
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}
