// Package keyboard turns single raw terminal keystrokes into engine commands.
package keyboard

import (
	"enginesound/server/internal/engine"
	"enginesound/server/internal/input"
	"enginesound/server/internal/physics"
)

// ThrottleStep is the change applied by one throttle key press.
const ThrottleStep = 0.1

const ctrlC = 0x03

// State is the part of the controller the keymap reads to resolve relative keys and toggles.
type State struct {
	ThrottleTarget float64
	Clutch         bool
	RealVehicle    bool
	Ignition       bool
	Preset         string
}

// StateFunc returns the controller's current State.
type StateFunc func() State

// Action is the outcome of one keystroke.
type Action struct {
	Commands   []input.Command
	BrakePulse bool
	Quit       bool
}

// Keymap resolves keys against live controller state so remote changes are never undone by a
// stale local copy.
type Keymap struct {
	state   StateFunc
	presets []string
}

// NewKeymap constructs a keymap reading state from fn.
func NewKeymap(fn StateFunc) *Keymap {
	if fn == nil {
		fn = func() State { return State{Ignition: true} }
	}
	return &Keymap{state: fn, presets: engine.PresetNames()}
}

// Translate maps one byte. Unknown keys produce an empty Action.
func (k *Keymap) Translate(key byte) Action {
	switch key {
	case 'q', 'Q', ctrlC:
		return Action{Quit: true}
	case 'w', 'W':
		return k.throttle(ThrottleStep)
	case 's', 'S':
		return k.throttle(-ThrottleStep)
	case ' ':
		return single(input.Throttle(0))
	case 'b', 'B':
		return Action{Commands: []input.Command{input.Brake(1)}, BrakePulse: true}
	case '+', '=':
		return single(input.GearUp())
	case '-', '_':
		return single(input.GearDown())
	case 'c', 'C':
		return single(input.Clutch(!k.state().Clutch))
	case 'r', 'R':
		return single(input.RealVehicle(!k.state().RealVehicle))
	case 'i', 'I':
		return single(input.Ignition(!k.state().Ignition))
	case 'p', 'P':
		return single(input.Preset(k.nextPreset(k.state().Preset)))
	}
	if key >= '0' && key <= '6' {
		return single(input.Gear(int(key - '0')))
	}
	return Action{}
}

func (k *Keymap) throttle(delta float64) Action {
	target := physics.Clamp(k.state().ThrottleTarget+delta, 0, 1)
	return single(input.Throttle(target))
}

func (k *Keymap) nextPreset(current string) string {
	if len(k.presets) == 0 {
		return current
	}
	for i, name := range k.presets {
		if name == current {
			return k.presets[(i+1)%len(k.presets)]
		}
	}
	return k.presets[0]
}

func single(cmd input.Command) Action {
	return Action{Commands: []input.Command{cmd}}
}
