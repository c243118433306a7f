package input

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a control command.
type Kind uint8

const (
	KindThrottle Kind = iota + 1
	KindBrake
	KindGear
	KindGearUp
	KindGearDown
	KindClutch
	KindRoadLoad
	KindPreset
	KindModeIntensity
	KindRealVehicle
	KindIgnition
	KindLocation
	KindMotion
	KindSensorDenied
)

var kindNames = map[Kind]string{
	KindThrottle:      "throttle",
	KindBrake:         "brake",
	KindGear:          "gear",
	KindGearUp:        "gear_up",
	KindGearDown:      "gear_down",
	KindClutch:        "clutch",
	KindRoadLoad:      "road_load",
	KindPreset:        "preset",
	KindModeIntensity: "mode",
	KindRealVehicle:   "real_vehicle",
	KindIgnition:      "ignition",
	KindLocation:      "location",
	KindMotion:        "motion",
	KindSensorDenied:  "sensor_denied",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a wire name into a Kind.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, candidate := range kindNames {
		if candidate == name {
			return kind, true
		}
	}
	return 0, false
}

// Continuous reports whether the command carries an analog value that may be rate limited.
// Discrete commands such as gear changes must never be dropped for throughput.
func (k Kind) Continuous() bool {
	switch k {
	case KindThrottle, KindBrake, KindRoadLoad, KindModeIntensity, KindMotion:
		return true
	default:
		return false
	}
}

// Command is one user or sensor intent. Only the fields relevant to Kind are meaningful.
type Command struct {
	Kind  Kind
	Value float64
	Int   int
	Flag  bool
	Name  string
	// Location and motion payloads.
	X, Y, Z   float64
	Accuracy  float64
	Timestamp time.Time
}

// Throttle sets the throttle target in [0,1].
func Throttle(value float64) Command { return Command{Kind: KindThrottle, Value: value} }

// Brake sets the brake pressure in [0,1].
func Brake(value float64) Command { return Command{Kind: KindBrake, Value: value} }

// Gear selects a gear; zero is neutral.
func Gear(n int) Command { return Command{Kind: KindGear, Int: n} }

// GearUp selects the next gear.
func GearUp() Command { return Command{Kind: KindGearUp} }

// GearDown selects the previous gear.
func GearDown() Command { return Command{Kind: KindGearDown} }

// Clutch engages (false) or presses (true) the clutch.
func Clutch(pressed bool) Command { return Command{Kind: KindClutch, Flag: pressed} }

// RoadLoad sets the grade input in [0,1].
func RoadLoad(value float64) Command { return Command{Kind: KindRoadLoad, Value: value} }

// Preset selects an engine preset by name.
func Preset(name string) Command { return Command{Kind: KindPreset, Name: name} }

// ModeIntensity sets one archetype intensity by mode name.
func ModeIntensity(mode string, value float64) Command {
	return Command{Kind: KindModeIntensity, Name: mode, Value: value}
}

// RealVehicle toggles sensor-driven mode.
func RealVehicle(on bool) Command { return Command{Kind: KindRealVehicle, Flag: on} }

// Ignition starts or stops the engine.
func Ignition(on bool) Command { return Command{Kind: KindIgnition, Flag: on} }

// Location carries one GPS fix.
func Location(speed, accuracy float64, at time.Time) Command {
	return Command{Kind: KindLocation, Value: speed, Accuracy: accuracy, Timestamp: at}
}

// Motion carries one linear acceleration sample.
func Motion(x, y, z float64) Command { return Command{Kind: KindMotion, X: x, Y: y, Z: z} }

// SensorDenied reports that the client could not obtain sensor access.
func SensorDenied(reason string) Command { return Command{Kind: KindSensorDenied, Name: reason} }
