package physics

import "math"

const (
	internalResistance         = 0.15
	internalResistanceExponent = 1.5

	// MaxCoupling caps how strongly the driveline RPM pulls the engine target.
	MaxCoupling = 0.85
	// couplingSpeed is the road speed in m/s at which the driveline is considered fully engaged.
	couplingSpeed = 5.0
	// couplingThrottleRelief lowers coupling under throttle at low speed.
	couplingThrottleRelief = 0.25

	risingLoadFactor    = 0.7
	risingLoadCap       = 0.9
	engineBrakingFactor = 0.3
	fallingBase         = 0.5
)

// FreeTargetRPM is the RPM the engine would settle at with no load: idle plus the rev span
// scaled by throttle.
func (e Engine) FreeTargetRPM(throttle float64) float64 {
	return e.IdleRPM + (e.RedlineRPM-e.IdleRPM)*Clamp01(throttle)
}

// TargetRPM applies the internal-resistance correction to the free target. Friction grows with
// RPM and only bites on the closed part of the throttle.
func (e Engine) TargetRPM(rpm, throttle float64) float64 {
	throttle = Clamp01(throttle)
	ratio := 0.0
	if e.RedlineRPM > 0 && rpm > 0 {
		ratio = rpm / e.RedlineRPM
	}
	r := internalResistance * math.Pow(ratio, internalResistanceExponent)
	return math.Max(e.IdleRPM, e.FreeTargetRPM(throttle)*(1-r*(1-throttle)))
}

// CouplingFactor returns how strongly the wheels dictate engine RPM for the current speed and
// throttle. It grows with speed, relaxes under throttle and never exceeds MaxCoupling.
func CouplingFactor(speed, throttle float64) float64 {
	if speed <= 0 {
		return 0
	}
	speedFactor := math.Min(1, speed/couplingSpeed)
	return math.Min(MaxCoupling, speedFactor*(1-couplingThrottleRelief*Clamp01(throttle)))
}

// CoupledTargetRPM blends the engine target with the RPM implied by the wheels.
func (e Engine) CoupledTargetRPM(target, drivelineRPM, coupling float64) float64 {
	coupling = Clamp(coupling, 0, MaxCoupling)
	return math.Max(e.IdleRPM, target*(1-coupling)+drivelineRPM*coupling)
}

// EffectiveInertia returns the smoothing coefficient for one tick.
//
// Rising, load slows the climb. Falling, the flywheel holds RPM up while load-proportional
// engine braking partially counters it when the driveline is coupled.
func (e Engine) EffectiveInertia(rising bool, load float64, coupled bool) float64 {
	inertia := Clamp(e.Inertia, MinInertia, MaxInertia)
	load = Clamp01(load)
	if rising {
		return inertia + (1-inertia)*math.Min(risingLoadCap, load*risingLoadFactor)
	}
	braking := 1.0
	if coupled {
		braking = 1 - load*engineBrakingFactor
	}
	return inertia + (1-inertia)*braking*fallingBase
}

// Smooth moves rpm toward target by one exponential step.
func Smooth(rpm, target, effectiveInertia float64) float64 {
	return rpm*effectiveInertia + target*(1-effectiveInertia)
}

// StepRPM advances rpm one tick toward target and saturates the result.
func (e Engine) StepRPM(rpm, target, load float64, coupled bool) float64 {
	effective := e.EffectiveInertia(target > rpm, load, coupled)
	return e.ClampRPM(Smooth(rpm, target, effective))
}
