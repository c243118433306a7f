package physics

import "math"

// GearCount is the number of forward gears; gear 0 is neutral.
const GearCount = 6

// ShiftSnapMinSpeed is the road speed in m/s above which a gear change re-bases RPM.
const ShiftSnapMinSpeed = 0.1

// VehicleState holds the drivetrain and body parameters plus the integrated road speed.
type VehicleState struct {
	Speed               float64
	Gear                int
	GearRatios          [GearCount]float64
	FinalDrive          float64
	WheelRadius         float64
	Mass                float64
	DragCoefficient     float64
	FrontalArea         float64
	RollingResistance   float64
	DrivelineEfficiency float64

	// Clutch reports the pedal pressed, which disconnects the engine from the wheels.
	Clutch bool
	// Brake and RoadLoad are normalised driver/road inputs in [0, 1].
	Brake    float64
	RoadLoad float64
}

// DefaultVehicle returns a mid-size hatchback.
func DefaultVehicle() VehicleState {
	return VehicleState{
		GearRatios:          [GearCount]float64{3.36, 2.10, 1.62, 1.27, 1.00, 0.82},
		FinalDrive:          3.42,
		WheelRadius:         0.33,
		Mass:                1400,
		DragCoefficient:     0.30,
		FrontalArea:         2.2,
		RollingResistance:   0.012,
		DrivelineEfficiency: 0.88,
	}
}

// ClampGear saturates gear into {0..6}.
func ClampGear(gear int) int {
	if gear < 0 {
		return 0
	}
	if gear > GearCount {
		return GearCount
	}
	return gear
}

// GearRatio returns the ratio of the selected gear or 0 in neutral.
func (v VehicleState) GearRatio() float64 {
	if v.Gear < 1 || v.Gear > GearCount {
		return 0
	}
	return v.GearRatios[v.Gear-1]
}

// OverallRatio multiplies gear and final drive; neutral yields 0.
func (v VehicleState) OverallRatio() float64 {
	return v.GearRatio() * v.FinalDrive
}

// Declutched reports whether no torque path exists between engine and wheels.
func (v VehicleState) Declutched() bool {
	return v.Clutch || !(v.OverallRatio() > 0)
}

func (v VehicleState) efficiency() float64 {
	if v.DrivelineEfficiency <= 0 || v.DrivelineEfficiency > 1 {
		return 1
	}
	return v.DrivelineEfficiency
}

// SpeedFromRPM converts engine RPM into road speed in m/s for the supplied overall ratio.
func SpeedFromRPM(rpm, overallRatio, wheelRadius float64) float64 {
	if overallRatio <= 0 || wheelRadius <= 0 {
		return 0
	}
	return rpm * 2 * math.Pi * wheelRadius / (overallRatio * 60)
}

// RPMFromSpeed converts road speed in m/s into engine RPM for the supplied overall ratio.
func RPMFromSpeed(speed, overallRatio, wheelRadius float64) float64 {
	if overallRatio <= 0 || wheelRadius <= 0 {
		return 0
	}
	return speed * overallRatio * 60 / (2 * math.Pi * wheelRadius)
}

// DrivelineRPM is the RPM the wheels impose on the engine in the current gear.
func (v VehicleState) DrivelineRPM() float64 {
	return RPMFromSpeed(v.Speed, v.OverallRatio(), v.WheelRadius)
}

// ShiftGear selects gear and returns the engine RPM after the shift.
//
// Moving and coupled, RPM snaps to the value the new ratio imposes; the jump is not smoothed.
// Reselecting the current gear leaves RPM untouched.
func (v *VehicleState) ShiftGear(gear int, rpm float64, e Engine) float64 {
	if v == nil {
		return rpm
	}
	gear = ClampGear(gear)
	if gear == v.Gear {
		return rpm
	}
	//1.- Record the selection first so the snap uses the new ratio.
	v.Gear = gear
	if v.Speed < ShiftSnapMinSpeed || v.Declutched() {
		return rpm
	}
	//2.- Re-base RPM on the wheel speed through the new ratio.
	return e.ClampRPM(v.DrivelineRPM())
}
