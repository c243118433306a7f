package synth

import "math"

const (
	twoPi = 2 * math.Pi

	// RolloffHz is where harmonic amplitudes start falling off quadratically.
	RolloffHz = 4000.0
	// VTECCrossoverFactor places the cam switch as a fraction of redline.
	VTECCrossoverFactor = 0.65
	vtecCrossoverWidth  = 400.0

	jitterDepth = 0.004
	driftDecay  = 0.9995
	driftStep   = 0.00004
	driftLimit  = 0.01

	harmonicMix = 0.55
	pulseMix    = 0.25
	layerMix    = 0.35
)

// FiringFrequency returns the cylinder-firing rate in Hz for a four-stroke engine.
func FiringFrequency(rpm float64, cylinders int) float64 {
	return rpm / 60 * float64(cylinders) / 2
}

// Alpha returns the harmonic decay exponent and the VTEC blend weight.
func Alpha(rpm, redline, throttle, vtec float64) (alpha, camBlend float64) {
	low := 1.6 - 0.6*throttle
	high := 1.1 - 0.5*throttle
	crossover := redline * VTECCrossoverFactor
	camBlend = smoothstep(crossover-vtecCrossoverWidth, crossover+vtecCrossoverWidth, rpm) * vtec
	return low + (high-low)*camBlend, camBlend
}

// HarmonicWeights fills weights with per-harmonic amplitudes and returns their absolute sum.
// Harmonics at or above nyquist get zero weight.
func HarmonicWeights(weights *[MaxHarmonics]float64, tables *Tables, f, nyquist, alpha, camBlend, boxer float64) float64 {
	total := 0.0
	for i := range weights {
		k := float64(i + 1)
		freq := k * f
		if f <= 0 || freq >= nyquist {
			weights[i] = 0
			continue
		}
		a := tables.HarmonicColor[i] / math.Pow(k, alpha)
		if freq > RolloffHz {
			r := RolloffHz / freq
			a *= r * r
		}
		//1.- Boxer rumble lifts the bottom three harmonics and dulls the top.
		switch {
		case i < 3:
			a *= 1 + 0.6*boxer
		case i >= 7:
			a *= 1 - 0.5*boxer
		}
		//2.- Past the cam switch the upper harmonics open up.
		if i >= 5 {
			a *= 1 + 0.8*camBlend
		}
		weights[i] = a
		total += a
	}
	return total
}

type harmonicState struct {
	phase      float64
	cyclePhase float64
	subPhase   float64
	rotorPhase float64
	drift      float64
	weights    [MaxHarmonics]float64
}

// advance moves every oscillator forward by one sample at firing frequency f.
func (h *harmonicState) advance(f float64, cylinders int, sampleRate float64) {
	inc := twoPi * f / sampleRate
	h.phase = wrap(h.phase + inc)
	h.subPhase = wrap(h.subPhase + inc/2)
	h.rotorPhase = wrap(h.rotorPhase + inc/3)
	//1.- The pulse cycle spans one crankshaft revolution.
	h.cyclePhase = wrap(h.cyclePhase + 2*inc/float64(cylinders))
}

// pitch applies jitter and the slow random walk to the nominal firing frequency.
func (h *harmonicState) pitch(f, throttle, u1, u2 float64) float64 {
	jitter := 1 + (2*u1-1)*jitterDepth*(1-0.8*throttle)
	h.drift = clamp(h.drift*driftDecay+(2*u2-1)*driftStep, -driftLimit, driftLimit)
	return f * jitter * (1 + h.drift)
}

// additive sums the weighted harmonic bank normalised to [-1,1].
func (h *harmonicState) additive(tables *Tables, total float64) float64 {
	if total <= 0 {
		return 0
	}
	sum := 0.0
	for i, w := range h.weights {
		if w == 0 {
			continue
		}
		sum += w * math.Sin(float64(i+1)*h.phase+tables.HarmonicPhase[i])
	}
	return sum / total
}

// pulseTrain emits one power-law half-sine pulse per cylinder per revolution.
func (h *harmonicState) pulseTrain(tables *Tables, cylinders int, throttle float64) float64 {
	power := 3 - 1.5*throttle
	position := h.cyclePhase / twoPi * float64(cylinders)
	out := 0.0
	for c := 0; c < cylinders; c++ {
		local := frac(position - float64(c) + tables.CylinderPhase[c])
		if local >= 0.5 {
			continue
		}
		out += tables.CylinderGain[c] * math.Pow(math.Sin(math.Pi*local/0.5), power)
	}
	//1.- Centre the train so it carries no DC into the resonators.
	return clamp(2*out-0.6, -1, 1)
}

// layers returns the archetype sub-layers cross-faded by their intensities.
func (h *harmonicState) layers(modes *Modes) float64 {
	out := 0.0
	if b := modes[ModeBoxer]; b > 0 {
		//1.- Paired pulses at half firing rate give the uneven loping rumble.
		p := frac(h.subPhase / twoPi)
		pair := window(p, 0, 0.08) + 0.8*window(p, 0.12, 0.08)
		out += b * (0.6*(2*pair-0.45) + 0.4*math.Sin(h.subPhase))
	}
	if v := modes[ModeCrossPlane]; v > 0 {
		//2.- Four irregularly spaced pulses per half-rate cycle approximate the cross-plane burble.
		p := frac(h.subPhase / twoPi)
		burble := window(p, 0, 0.1) + 0.7*window(p, 0.22, 0.1) + 0.9*window(p, 0.5, 0.1) + 0.6*window(p, 0.78, 0.1)
		out += v * (0.7*(burble-0.3) + 0.3*math.Sin(h.subPhase+0.7))
	}
	if r := modes[ModeRotary]; r > 0 {
		//3.- Three smooth lobes per rotor turn.
		lobe := math.Pow(0.5-0.5*math.Cos(3*h.rotorPhase), 1.5)
		out += r * (2*lobe - 0.85)
	}
	return out
}

// window is a raised-cosine bump of width w starting at start in a unit cycle.
func window(position, start, width float64) float64 {
	d := frac(position - start)
	if d >= width {
		return 0
	}
	return 0.5 - 0.5*math.Cos(twoPi*d/width)
}

func wrap(phase float64) float64 {
	if phase >= twoPi {
		phase -= twoPi
		if phase >= twoPi {
			phase = math.Mod(phase, twoPi)
		}
	}
	return phase
}

func frac(x float64) float64 {
	return x - math.Floor(x)
}
