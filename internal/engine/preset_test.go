package engine

import (
	"math"
	"sort"
	"testing"
	"time"

	"enginesound/server/internal/physics"
	"enginesound/server/internal/synth"
)

func TestPresetsAreValid(t *testing.T) {
	names := PresetNames()
	if !sort.StringsAreSorted(names) {
		t.Fatalf("preset names should be sorted: %v", names)
	}
	for _, name := range names {
		p, ok := LookupPreset(name)
		if !ok {
			t.Fatalf("lookup %q failed", name)
		}
		e := physics.Engine{IdleRPM: p.IdleRPM, RedlineRPM: p.RedlineRPM, Inertia: p.Inertia, PeakTorqueNm: p.PeakTorqueNm}
		if e.Normalize() != e {
			t.Fatalf("preset %q is outside the legal range", name)
		}
		if p.Cylinders < 1 || p.Cylinders > synth.MaxCylinders {
			t.Fatalf("preset %q has %d cylinders", name, p.Cylinders)
		}
		if p.Modes.Max() > 1 {
			t.Fatalf("preset %q mode intensity above one", name)
		}
	}
}

func TestLookupPresetNormalizesName(t *testing.T) {
	if p, ok := LookupPreset("  Rotary "); !ok || p.Name != "rotary" {
		t.Fatalf("expected rotary preset, got %+v %v", p, ok)
	}
	if _, ok := LookupPreset("diesel"); ok {
		t.Fatalf("unexpected preset match")
	}
}

func TestFadeInterpolatesLinearly(t *testing.T) {
	var f fade
	f.start(synth.Modes{}, synth.Modes{synth.ModeBoxer: 1}, 800*time.Millisecond)
	if !f.active() {
		t.Fatalf("fade should be active")
	}
	mid := f.advance(400 * time.Millisecond)
	if math.Abs(mid[synth.ModeBoxer]-0.5) > 1e-9 {
		t.Fatalf("expected half way, got %.3f", mid[synth.ModeBoxer])
	}
	end := f.advance(time.Second)
	if end[synth.ModeBoxer] != 1 || f.active() {
		t.Fatalf("fade should finish at the target")
	}
	f.start(synth.Modes{synth.ModeTurbo: 1}, synth.Modes{}, 0)
	if got := f.advance(time.Millisecond); got.Max() != 0 {
		t.Fatalf("zero duration should jump to target")
	}
}
