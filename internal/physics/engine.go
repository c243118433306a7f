package physics

import "math"

const (
	// DefaultIdleRPM is the idle speed used when no preset overrides it.
	DefaultIdleRPM = 900.0
	// DefaultRedlineRPM is the redline used when no preset overrides it.
	DefaultRedlineRPM = 7000.0
	// DefaultInertia is the RPM smoothing coefficient applied per physics tick.
	DefaultInertia = 0.95
	// DefaultPeakTorqueNm is the torque produced at the peak of the curve with the throttle wide open.
	DefaultPeakTorqueNm = 280.0

	// MinInertia and MaxInertia bound the smoothing coefficient.
	MinInertia = 0.8
	MaxInertia = 0.99

	// MinRedlineRPM and MaxRPM bound the rev range accepted from callers.
	MinRedlineRPM = 3000.0
	MaxRPM        = 12000.0

	// RPMFloorFactor scales idle into the lowest RPM the integrator may reach.
	RPMFloorFactor = 0.75
	// RPMHeadroomFactor scales redline into the highest RPM the integrator may reach.
	// The overshoot above redline is consumed by the rev limiter.
	RPMHeadroomFactor = 1.05
)

// Engine captures the rev range and response tuning of the simulated engine.
type Engine struct {
	IdleRPM      float64
	RedlineRPM   float64
	Inertia      float64
	PeakTorqueNm float64
}

// DefaultEngine returns the baseline four cylinder tuning.
func DefaultEngine() Engine {
	return Engine{
		IdleRPM:      DefaultIdleRPM,
		RedlineRPM:   DefaultRedlineRPM,
		Inertia:      DefaultInertia,
		PeakTorqueNm: DefaultPeakTorqueNm,
	}
}

// Normalize saturates every field into its legal range so downstream maths never divides by zero.
func (e Engine) Normalize() Engine {
	//1.- Keep idle positive and below the redline ceiling.
	if !(e.IdleRPM > 0) {
		e.IdleRPM = DefaultIdleRPM
	}
	e.RedlineRPM = Clamp(e.RedlineRPM, MinRedlineRPM, MaxRPM)
	if e.IdleRPM >= e.RedlineRPM {
		e.IdleRPM = e.RedlineRPM * 0.5
	}
	//2.- Saturate the response tuning.
	if e.Inertia == 0 {
		e.Inertia = DefaultInertia
	}
	e.Inertia = Clamp(e.Inertia, MinInertia, MaxInertia)
	if !(e.PeakTorqueNm > 0) {
		e.PeakTorqueNm = DefaultPeakTorqueNm
	}
	return e
}

// MinRPM is the lowest RPM the integrator is allowed to settle at.
func (e Engine) MinRPM() float64 { return e.IdleRPM * RPMFloorFactor }

// MaxRPM is the highest RPM the integrator is allowed to reach.
func (e Engine) MaxRPM() float64 { return e.RedlineRPM * RPMHeadroomFactor }

// ClampRPM saturates rpm into [idle*0.75, redline*1.05].
func (e Engine) ClampRPM(rpm float64) float64 {
	return Clamp(rpm, e.MinRPM(), e.MaxRPM())
}

// Clamp saturates value into [lo, hi]; NaN collapses to lo.
func Clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) || value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Clamp01 saturates value into [0, 1].
func Clamp01(value float64) float64 { return Clamp(value, 0, 1) }
