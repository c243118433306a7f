package physics

import "math"

const (
	// AirDensity is sea level air density in kg/m^3.
	AirDensity = 1.225
	// Gravity is standard gravity in m/s^2.
	Gravity = 9.81
	// GradeFactor maps RoadLoad 1 onto a 10% incline.
	GradeFactor = 0.1
	// BrakeDeceleration is the deceleration in m/s^2 produced by a fully pressed brake.
	BrakeDeceleration = 9.0
	// MaxStepSeconds bounds a single integration step.
	MaxStepSeconds = 0.05
)

// Forces breaks down the longitudinal forces acting on the vehicle in newtons.
type Forces struct {
	Tractive float64
	Aero     float64
	Rolling  float64
	Grade    float64
	Brake    float64
}

// RoadLoad sums the forces the engine has to overcome: aero, rolling and grade.
func (f Forces) RoadLoad() float64 { return f.Aero + f.Rolling + f.Grade }

// Resistive sums every force opposing motion, brakes included.
func (f Forces) Resistive() float64 { return f.RoadLoad() + f.Brake }

// Net is tractive minus resistive force.
func (f Forces) Net() float64 { return f.Tractive - f.Resistive() }

// Forces evaluates the longitudinal forces for the supplied crank torque.
func (v VehicleState) Forces(torque float64) Forces {
	forces := Forces{
		Aero:    0.5 * AirDensity * v.DragCoefficient * v.FrontalArea * v.Speed * v.Speed,
		Rolling: v.Mass * Gravity * v.RollingResistance,
		Grade:   v.Mass * Gravity * Clamp01(v.RoadLoad) * GradeFactor,
	}
	if v.Speed > 0 {
		forces.Brake = Clamp01(v.Brake) * BrakeDeceleration * v.Mass
	}
	//1.- Torque only reaches the road through an engaged gear.
	if !v.Declutched() && v.WheelRadius > 0 && torque > 0 {
		forces.Tractive = torque * v.OverallRatio() * v.efficiency() / v.WheelRadius
	}
	return forces
}

// ClampStep saturates a frame delta in seconds into [0, MaxStepSeconds].
func ClampStep(dt float64) float64 {
	if math.IsNaN(dt) || dt <= 0 {
		return 0
	}
	return math.Min(dt, MaxStepSeconds)
}

// Integrate advances the road speed by dt seconds under the supplied crank torque and returns
// the acceleration that was applied.
func (v *VehicleState) Integrate(torque, dt float64) float64 {
	if v == nil || v.Mass <= 0 {
		return 0
	}
	dt = ClampStep(dt)
	if dt == 0 {
		return 0
	}
	//1.- Declutched the tractive term is already zero so only resistance decelerates the car.
	accel := v.Forces(torque).Net() / v.Mass
	//2.- Speed never goes negative; resistance cannot push the car backwards.
	v.Speed = math.Max(0, v.Speed+accel*dt)
	return accel
}
