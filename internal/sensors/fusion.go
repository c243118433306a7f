package sensors

import (
	"errors"
	"fmt"
	"math"
	"time"

	"enginesound/server/internal/physics"
)

const (
	intervalHistoryWeight = 0.7
	speedSmoothing        = 0.12

	// DefaultInterval seeds the GPS sampling interval estimate before two fixes arrive.
	DefaultInterval = time.Second
	minInterval     = 100 * time.Millisecond
	maxInterval     = 5 * time.Second

	// AccelThreshold separates deliberate acceleration from sensor noise in m/s^2.
	AccelThreshold = 0.3
	// ThrottlePerAccel maps forward acceleration in m/s^2 onto throttle.
	ThrottlePerAccel = 1.0 / 3.0
	// CruiseThrottle is assumed while holding speed.
	CruiseThrottle = 0.2
	// MovingSpeed is the road speed in m/s above which the vehicle counts as moving.
	MovingSpeed = 0.5

	// DefaultMaxAccuracy rejects fixes whose reported accuracy radius exceeds it, in metres.
	DefaultMaxAccuracy = 50.0
	// DefaultTimeout marks the sensors unavailable after this long without a fix.
	DefaultTimeout = 5 * time.Second
)

// ErrSensorUnavailable reports that location or motion data cannot be obtained.
var ErrSensorUnavailable = errors.New("sensor unavailable")

// Axis selects which accelerometer axis points forward.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Location is a single fix from the location stream.
type Location struct {
	Speed     float64
	Accuracy  float64
	Timestamp time.Time
}

// Motion is a linear acceleration sample in m/s^2.
type Motion struct {
	X float64
	Y float64
	Z float64
}

// Component returns the acceleration along axis.
func (m Motion) Component(axis Axis) float64 {
	switch axis {
	case AxisX:
		return m.X
	case AxisZ:
		return m.Z
	default:
		return m.Y
	}
}

// Config tunes the fusion filter.
type Config struct {
	Timeout     time.Duration
	MaxAccuracy float64
	Forward     Axis
}

// State is the sensor buffer read once per physics tick.
type State struct {
	GPSSpeed          float64
	PrevGPSSpeed      float64
	GPSInterval       time.Duration
	InterpolatedSpeed float64
	Acceleration      Motion
	LastGPSTime       time.Time
	Fixes             uint64
}

// Estimate is what the fusion filter hands the physics loop each tick.
type Estimate struct {
	Status   Status
	Speed    float64
	Throttle float64
	RPM      float64
}

// Valid reports whether the estimate may override the free-rev path.
func (e Estimate) Valid() bool { return e.Status == StatusActive }

// Fusion turns sparse GPS fixes and accelerometer samples into a smooth speed, an inferred
// throttle and an RPM for the real-vehicle mode.
type Fusion struct {
	cfg       Config
	state     State
	enabled   bool
	enabledAt time.Time
	denied    string
}

// NewFusion constructs an inactive filter.
func NewFusion(cfg Config) *Fusion {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAccuracy <= 0 {
		cfg.MaxAccuracy = DefaultMaxAccuracy
	}
	f := &Fusion{cfg: cfg}
	f.Reset()
	return f
}

// Enable starts accepting samples; now anchors the availability timeout.
func (f *Fusion) Enable(now time.Time) {
	if f == nil || f.enabled {
		return
	}
	f.Reset()
	f.enabled = true
	f.enabledAt = now
}

// Disable stops the mode and clears the buffer.
func (f *Fusion) Disable() {
	if f == nil {
		return
	}
	f.Reset()
	f.enabled = false
	f.enabledAt = time.Time{}
}

// Enabled reports whether real-vehicle mode is on.
func (f *Fusion) Enabled() bool { return f != nil && f.enabled }

// Reset clears every sample and estimate.
func (f *Fusion) Reset() {
	if f == nil {
		return
	}
	f.state = State{GPSInterval: DefaultInterval}
	f.denied = ""
}

// Deny records that the host refused sensor access.
func (f *Fusion) Deny(reason string) {
	if f == nil {
		return
	}
	if reason == "" {
		reason = "permission denied"
	}
	f.denied = reason
}

// Snapshot returns a copy of the buffer for diagnostics.
func (f *Fusion) Snapshot() State {
	if f == nil {
		return State{}
	}
	return f.state
}

// OnLocation ingests a fix. It returns false when the fix was ignored.
func (f *Fusion) OnLocation(loc Location, now time.Time) bool {
	if f == nil || !f.enabled {
		return false
	}
	//1.- Drop unusable fixes instead of letting them pull the estimate around.
	if math.IsNaN(loc.Speed) || loc.Speed < 0 {
		return false
	}
	if loc.Accuracy > f.cfg.MaxAccuracy {
		return false
	}
	f.denied = ""
	if f.state.Fixes == 0 {
		//2.- The first fix has nothing to interpolate from.
		f.state.PrevGPSSpeed = loc.Speed
		f.state.InterpolatedSpeed = loc.Speed
	} else {
		//3.- Anchor interpolation at the current smoothed speed and refine the interval.
		f.state.PrevGPSSpeed = f.state.InterpolatedSpeed
		sample := clampDuration(now.Sub(f.state.LastGPSTime), minInterval, maxInterval)
		blended := intervalHistoryWeight*float64(f.state.GPSInterval) + (1-intervalHistoryWeight)*float64(sample)
		f.state.GPSInterval = time.Duration(blended)
	}
	f.state.GPSSpeed = loc.Speed
	f.state.LastGPSTime = now
	f.state.Fixes++
	return true
}

// OnMotion stores the latest acceleration sample.
func (f *Fusion) OnMotion(m Motion) {
	if f == nil || !f.enabled {
		return
	}
	if math.IsNaN(m.X) || math.IsNaN(m.Y) || math.IsNaN(m.Z) {
		return
	}
	f.state.Acceleration = m
}

// Status classifies sensor availability at now.
func (f *Fusion) Status(now time.Time) Status {
	switch {
	case f == nil || !f.enabled:
		return StatusInactive
	case f.denied != "":
		return StatusUnavailable
	case f.state.Fixes == 0:
		if now.Sub(f.enabledAt) > f.cfg.Timeout {
			return StatusUnavailable
		}
		return StatusWaiting
	case now.Sub(f.state.LastGPSTime) > f.cfg.Timeout:
		return StatusUnavailable
	default:
		return StatusActive
	}
}

// Err describes why the sensors are unavailable, or nil.
func (f *Fusion) Err(now time.Time) error {
	if f.Status(now) != StatusUnavailable {
		return nil
	}
	if f.denied != "" {
		return fmt.Errorf("%w: %s", ErrSensorUnavailable, f.denied)
	}
	return fmt.Errorf("%w: no location fix for %s", ErrSensorUnavailable, f.cfg.Timeout)
}

// Tick advances the speed filter and derives throttle and RPM. RPM assumes first gear.
func (f *Fusion) Tick(now time.Time, engine physics.Engine, vehicle physics.VehicleState) Estimate {
	status := f.Status(now)
	if status != StatusActive {
		return Estimate{Status: status}
	}
	//1.- Linear interpolation from the anchor toward the newest fix across one interval.
	t := 1.0
	if f.state.GPSInterval > 0 {
		t = math.Min(1, float64(now.Sub(f.state.LastGPSTime))/float64(f.state.GPSInterval))
	}
	t = math.Max(0, t)
	target := f.state.PrevGPSSpeed + (f.state.GPSSpeed-f.state.PrevGPSSpeed)*t
	//2.- A second exponential pass hides the corners of the piecewise-linear ramp.
	f.state.InterpolatedSpeed += (target - f.state.InterpolatedSpeed) * speedSmoothing
	speed := f.state.InterpolatedSpeed

	//3.- Derive engine RPM straight from the wheels through first gear.
	firstGear := vehicle.GearRatios[0] * vehicle.FinalDrive
	rpm := physics.RPMFromSpeed(speed, firstGear, vehicle.WheelRadius)
	rpm = physics.Clamp(rpm, engine.IdleRPM, engine.MaxRPM())

	return Estimate{
		Status:   status,
		Speed:    speed,
		Throttle: EstimateThrottle(f.state.Acceleration.Component(f.cfg.Forward), speed),
		RPM:      rpm,
	}
}

// EstimateThrottle infers pedal position from forward acceleration and speed.
func EstimateThrottle(forwardAccel, speed float64) float64 {
	switch {
	case forwardAccel > AccelThreshold:
		return physics.Clamp01(forwardAccel * ThrottlePerAccel)
	case forwardAccel < -AccelThreshold && speed > MovingSpeed:
		return 0
	case math.Abs(forwardAccel) <= AccelThreshold && speed <= MovingSpeed:
		return 0
	default:
		return CruiseThrottle
	}
}

func clampDuration(value, lo, hi time.Duration) time.Duration {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
