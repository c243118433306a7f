package engine

import (
	"time"

	"enginesound/server/internal/sensors"
	"enginesound/server/internal/synth"
)

// Parameters is the physics-side engine state mutated once per tick.
type Parameters struct {
	CurrentRPM      float64
	IdleRPM         float64
	RedlineRPM      float64
	Cylinders       int
	Inertia         float64
	PeakTorqueNm    float64
	ThrottleCurrent float64
	ThrottleTarget  float64
	NoiseGain       float64
	Load            float64
	Modes           synth.Modes
}

// Telemetry is the per-tick record shared with observers.
type Telemetry struct {
	Tick        uint64
	Simulated   time.Duration
	RPM         float64
	Throttle    float64
	Load        float64
	Speed       float64
	Gear        int
	Torque      float64
	Brake       float64
	Clutch      bool
	Limiter     bool
	Ignition    bool
	RealVehicle bool
	Sensor      sensors.Status
	Preset      string
	Modes       synth.Modes
}

// FrameFields names the numeric values in the order Values emits them.
var FrameFields = []string{
	"rpm", "throttle", "load", "speed", "gear", "torque", "brake", "limiter",
	"vtec", "boxer", "crossplane", "rotary", "turbo",
}

// Values flattens the numeric telemetry into FrameFields order.
func (t Telemetry) Values() []float64 {
	values := []float64{
		t.RPM, t.Throttle, t.Load, t.Speed, float64(t.Gear), t.Torque, t.Brake, boolFloat(t.Limiter),
	}
	return append(values, t.Modes[:]...)
}

// Map renders the record with wire field names.
func (t Telemetry) Map() map[string]any {
	modes := make(map[string]any, synth.ModeCount)
	for m := synth.Mode(0); m < synth.ModeCount; m++ {
		modes[m.String()] = t.Modes[m]
	}
	return map[string]any{
		"tick":         float64(t.Tick),
		"simulated_ms": float64(t.Simulated.Milliseconds()),
		"rpm":          t.RPM,
		"throttle":     t.Throttle,
		"load":         t.Load,
		"speed":        t.Speed,
		"gear":         float64(t.Gear),
		"torque":       t.Torque,
		"brake":        t.Brake,
		"clutch":       t.Clutch,
		"limiter":      t.Limiter,
		"ignition":     t.Ignition,
		"real_vehicle": t.RealVehicle,
		"sensor":       t.Sensor.String(),
		"preset":       t.Preset,
		"modes":        modes,
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Event types emitted on state transitions.
const (
	EventGearShift   = "gear_shift"
	EventLimiter     = "limiter"
	EventPreset      = "preset"
	EventSensor      = "sensor_status"
	EventIgnition    = "ignition"
	EventRealVehicle = "real_vehicle"
)

// Event is a discrete state transition observed by the controller.
type Event struct {
	Tick      uint64
	Simulated time.Duration
	Type      string
	Payload   map[string]any
}

// EventSink receives transitions. Implementations must not block.
type EventSink interface {
	RecordEvent(Event)
}

// EventSinkFunc adapts a function into an EventSink.
type EventSinkFunc func(Event)

// RecordEvent implements EventSink.
func (f EventSinkFunc) RecordEvent(e Event) { f(e) }
