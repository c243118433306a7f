package synth

import (
	"math"
	"math/rand/v2"
)

// MaxHarmonics bounds the additive bank.
const MaxHarmonics = 24

// Tables holds the per-harmonic and per-cylinder offsets fixed at construction.
type Tables struct {
	HarmonicColor [MaxHarmonics]float64
	HarmonicPhase [MaxHarmonics]float64
	CylinderPhase [MaxCylinders]float64
	CylinderGain  [MaxCylinders]float64
}

// NewTables draws every table from a seeded PCG so a seed always yields the same voice.
func NewTables(seed uint64) Tables {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var t Tables
	for k := range t.HarmonicColor {
		t.HarmonicColor[k] = 0.7 + 0.6*rng.Float64()
		t.HarmonicPhase[k] = 2 * math.Pi * rng.Float64()
	}
	for c := range t.CylinderPhase {
		//1.- Small timing and strength scatter per cylinder reads as combustion irregularity.
		t.CylinderPhase[c] = (rng.Float64() - 0.5) * 0.06
		t.CylinderGain[c] = 0.85 + 0.3*rng.Float64()
	}
	return t
}
