package physics

import (
	"math"
	"testing"
)

func TestIntegrateDeclutchedDecelerates(t *testing.T) {
	vehicle := DefaultVehicle()
	vehicle.Speed = 20
	accel := vehicle.Integrate(500, 0.02)
	forces := vehicle.Forces(500)
	if forces.Tractive != 0 {
		t.Fatalf("neutral must not produce tractive force")
	}
	if accel >= 0 {
		t.Fatalf("expected deceleration, got %.3f", accel)
	}
	if vehicle.Speed >= 20 {
		t.Fatalf("speed should drop, got %.3f", vehicle.Speed)
	}
}

func TestIntegrateClampsStepAndSpeed(t *testing.T) {
	vehicle := DefaultVehicle()
	vehicle.Speed = 0.001
	vehicle.Integrate(0, 5)
	if vehicle.Speed != 0 {
		t.Fatalf("speed must not go negative, got %.4f", vehicle.Speed)
	}
	if ClampStep(1) != MaxStepSeconds || ClampStep(-1) != 0 || ClampStep(math.NaN()) != 0 {
		t.Fatalf("step clamp failed")
	}
}

func TestIntegrateTractiveForce(t *testing.T) {
	vehicle := DefaultVehicle()
	vehicle.Gear = 1
	vehicle.Speed = 5
	forces := vehicle.Forces(200)
	expected := 200 * vehicle.OverallRatio() * vehicle.DrivelineEfficiency / vehicle.WheelRadius
	if math.Abs(forces.Tractive-expected) > 1e-9 {
		t.Fatalf("tractive %.3f expected %.3f", forces.Tractive, expected)
	}
	aero := 0.5 * AirDensity * vehicle.DragCoefficient * vehicle.FrontalArea * 25
	if math.Abs(forces.Aero-aero) > 1e-9 {
		t.Fatalf("aero %.4f expected %.4f", forces.Aero, aero)
	}
	before := vehicle.Speed
	accel := vehicle.Integrate(200, 0.05)
	if math.Abs(vehicle.Speed-(before+accel*0.05)) > 1e-12 {
		t.Fatalf("speed not integrated with clamped step")
	}
	if accel <= 0 {
		t.Fatalf("first gear with torque should accelerate, got %.3f", accel)
	}
}

func TestGradeAndBrakeResist(t *testing.T) {
	vehicle := DefaultVehicle()
	vehicle.Speed = 10
	flat := vehicle.Forces(0).Resistive()
	vehicle.RoadLoad = 1
	hill := vehicle.Forces(0).Resistive()
	if math.Abs(hill-flat-vehicle.Mass*Gravity*GradeFactor) > 1e-9 {
		t.Fatalf("grade force mismatch")
	}
	vehicle.Brake = 1
	if vehicle.Forces(0).Brake != BrakeDeceleration*vehicle.Mass {
		t.Fatalf("brake force mismatch")
	}
}
