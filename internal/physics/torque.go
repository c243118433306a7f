package physics

const (
	torquePeakPosition = 0.6
	torqueCurveWidth   = 0.4
	// closedThrottleTorque is the share of the curve still produced with the throttle shut.
	closedThrottleTorque = 0.15

	// DeclutchedLoad pins the engine load when no torque path to the wheels exists.
	DeclutchedLoad = 0.05
	// MaxInertialLoad bounds the extra load caused by accelerating the vehicle mass.
	MaxInertialLoad = 0.35
	// InertialLoadScale converts an accelerating force in newtons into load.
	InertialLoadScale = 1.0 / 12000.0
)

// NormalizedRPM maps rpm from [idle, redline] into [0, 1].
func (e Engine) NormalizedRPM(rpm float64) float64 {
	span := e.RedlineRPM - e.IdleRPM
	if span <= 0 {
		return 0
	}
	return Clamp01((rpm - e.IdleRPM) / span)
}

// Torque evaluates the fixed torque curve at the supplied operating point.
//
// The curve is a parabola peaking at 60% of the rev span and clipped to zero outside its
// 40% half width. Throttle blends the output between 15% and 100% of the curve.
func (e Engine) Torque(rpm, throttle float64) float64 {
	x := (e.NormalizedRPM(rpm) - torquePeakPosition) / torqueCurveWidth
	curve := 1 - x*x
	if curve <= 0 {
		return 0
	}
	blend := closedThrottleTorque + (1-closedThrottleTorque)*Clamp01(throttle)
	return e.PeakTorqueNm * curve * blend
}

// Load derives the engine load from the torque the vehicle requires versus what the engine can
// deliver at the current RPM, plus a bounded inertial term while accelerating.
func (e Engine) Load(rpm, acceleration float64, v VehicleState) float64 {
	//1.- Without a torque path the engine only carries its own accessories.
	if v.Declutched() {
		return DeclutchedLoad
	}
	ratio := v.OverallRatio()
	efficiency := v.efficiency()
	if ratio <= 0 || v.WheelRadius <= 0 {
		return DeclutchedLoad
	}
	//2.- Convert the resistive force at the wheel into crank torque.
	required := v.Forces(0).RoadLoad() * v.WheelRadius / (ratio * efficiency)
	available := e.Torque(rpm, 1)
	resistance := 0.0
	switch {
	case required <= 0:
		resistance = 0
	case available <= 0:
		resistance = 1
	default:
		resistance = min(1, required/available)
	}
	//3.- Accelerating the vehicle mass adds load on top of the road load.
	inertial := 0.0
	if acceleration > 0 {
		inertial = min(MaxInertialLoad, v.Mass*acceleration*InertialLoadScale)
	}
	return Clamp01(resistance + inertial)
}
