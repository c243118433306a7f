package engine

import (
	"sort"
	"strings"
	"time"

	"enginesound/server/internal/synth"
)

// PresetFade is how long a preset change cross-fades the mode vector.
const PresetFade = 800 * time.Millisecond

// Preset fixes an engine voice and its rev behaviour.
type Preset struct {
	Name         string
	Cylinders    int
	IdleRPM      float64
	RedlineRPM   float64
	Inertia      float64
	PeakTorqueNm float64
	NoiseGain    float64
	Modes        synth.Modes
}

var presets = map[string]Preset{
	"inline4": {Name: "inline4", Cylinders: 4, IdleRPM: 900, RedlineRPM: 7000, Inertia: 0.95, PeakTorqueNm: 200, NoiseGain: 0.5},
	"vtec": {Name: "vtec", Cylinders: 4, IdleRPM: 950, RedlineRPM: 8500, Inertia: 0.93, PeakTorqueNm: 190, NoiseGain: 0.55,
		Modes: synth.Modes{synth.ModeVTEC: 1}},
	"boxer": {Name: "boxer", Cylinders: 4, IdleRPM: 850, RedlineRPM: 7000, Inertia: 0.95, PeakTorqueNm: 300, NoiseGain: 0.5,
		Modes: synth.Modes{synth.ModeBoxer: 1, synth.ModeTurbo: 0.5}},
	"v8": {Name: "v8", Cylinders: 8, IdleRPM: 700, RedlineRPM: 6500, Inertia: 0.97, PeakTorqueNm: 520, NoiseGain: 0.45,
		Modes: synth.Modes{synth.ModeCrossPlane: 1}},
	"rotary": {Name: "rotary", Cylinders: 4, IdleRPM: 1000, RedlineRPM: 9000, Inertia: 0.9, PeakTorqueNm: 210, NoiseGain: 0.6,
		Modes: synth.Modes{synth.ModeRotary: 1}},
	"turbo4": {Name: "turbo4", Cylinders: 4, IdleRPM: 850, RedlineRPM: 6800, Inertia: 0.95, PeakTorqueNm: 350, NoiseGain: 0.55,
		Modes: synth.Modes{synth.ModeTurbo: 1}},
}

// LookupPreset resolves a preset by case-insensitive name.
func LookupPreset(name string) (Preset, bool) {
	preset, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return preset, ok
}

// PresetNames lists every preset in a stable order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fade linearly cross-fades the mode vector between presets.
type fade struct {
	from     synth.Modes
	to       synth.Modes
	elapsed  time.Duration
	duration time.Duration
}

func (f *fade) start(from, to synth.Modes, duration time.Duration) {
	f.from, f.to = from, to
	f.elapsed = 0
	f.duration = duration
}

// advance moves the fade forward by dt and returns the current vector.
func (f *fade) advance(dt time.Duration) synth.Modes {
	if f.duration <= 0 || f.elapsed >= f.duration {
		return f.to
	}
	f.elapsed += dt
	if f.elapsed >= f.duration {
		return f.to
	}
	return f.from.Lerp(f.to, float64(f.elapsed)/float64(f.duration))
}

func (f *fade) active() bool { return f.duration > 0 && f.elapsed < f.duration }
