package synth

import "math"

// Rev limiter tuning. The values are empirical and kept exact.
const (
	LimiterThreshold = 0.98
	LimiterRate      = 0.0004
	LimiterCut       = 0.45
	LimiterFloor     = 0.06
)

// Limiter is the rev-limiter state machine. The zero value is disengaged.
type Limiter struct {
	cycle  float64
	active bool
}

// Step returns the gain to apply to this sample.
func (l *Limiter) Step(rpm, redline float64) float64 {
	if rpm <= redline*LimiterThreshold {
		l.cycle = 0
		l.active = false
		return 1
	}
	l.active = true
	gain := 1.0
	if l.cycle < LimiterCut {
		gain = LimiterFloor
	}
	l.cycle += LimiterRate
	if l.cycle >= 1 {
		l.cycle -= 1
	}
	return gain
}

// Active reports whether the limiter is cutting.
func (l *Limiter) Active() bool { return l.active }

// Cycle exposes the counter in [0,1).
func (l *Limiter) Cycle() float64 { return l.cycle }

// LimiterPeriod returns the on/off period in samples.
func LimiterPeriod() int { return int(math.Round(1 / LimiterRate)) }

// svf is a Chamberlin state-variable filter used as a resonant band-pass.
type svf struct {
	low  float64
	band float64
}

func (f *svf) bandpass(in, center, damping, sampleRate float64) float64 {
	g := 2 * math.Sin(math.Pi*clamp(center, 20, sampleRate/6)/sampleRate)
	f.low += g * f.band
	high := in - f.low - damping*f.band
	f.band += g * high
	//1.- Saturate the memories so a transient can never blow the filter up.
	f.low = clamp(f.low, -4, 4)
	f.band = clamp(f.band, -4, 4)
	return f.band
}

const (
	exhaustDamping = 0.35
	bodyCutoffHz   = 60
	postCutoffHz   = 6000
	postWet        = 0.82
	dcBlockPole    = 0.995
)

var (
	exhaustRatios  = [3]float64{0.5, 1.5, 3.0}
	exhaustWeights = [3]float64{0.5, 0.3, 0.2}
)

// OutputInputs carries the ramped control values the output stage needs.
type OutputInputs struct {
	Firing   float64
	Throttle float64
	Load     float64
	ModePeak float64
}

type outputStage struct {
	sampleRate float64
	exhaust    [3]svf
	body       float64
	post       float64
	dcIn       float64
	dcOut      float64
	bodyCoef   float64
	postCoef   float64
}

func newOutputStage(sampleRate float64) outputStage {
	return outputStage{
		sampleRate: sampleRate,
		bodyCoef:   onePole(bodyCutoffHz, sampleRate),
		postCoef:   onePole(postCutoffHz, sampleRate),
	}
}

// Process shapes one raw sample into the final pre-gain signal.
func (o *outputStage) Process(x float64, in OutputInputs) float64 {
	//1.- Three exhaust resonances tuned off the firing frequency.
	exhaust := 0.0
	for i := range o.exhaust {
		exhaust += exhaustWeights[i] * o.exhaust[i].bandpass(x, in.Firing*exhaustRatios[i], exhaustDamping, o.sampleRate)
	}
	x += exhaust * (0.4 + 0.6*in.Throttle)

	//2.- Slow body resonance added back for weight.
	o.body += o.bodyCoef * (x - o.body)
	x += 0.5 * o.body

	//3.- Saturate harder under throttle, load and active archetypes.
	drive := 1.2 + 1.8*in.Throttle + 0.8*in.Load + 0.6*in.ModePeak
	y := math.Tanh(drive * x)

	//4.- Post low-pass blended with the dry saturated signal.
	o.post += o.postCoef * (y - o.post)
	y = postWet*o.post + (1-postWet)*y

	//5.- Block DC left by pulses and squared noise.
	out := y - o.dcIn + dcBlockPole*o.dcOut
	o.dcIn = y
	o.dcOut = out
	return out
}
