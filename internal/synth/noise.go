package synth

import "math"

const (
	// BackfireDrop is the snapshot-to-snapshot throttle lift that can trigger a backfire.
	BackfireDrop     = 0.3
	backfireDecaySec = 0.12
	// Backfires only fire inside this band, as fractions of redline.
	backfireBandLow  = 0.35
	backfireBandHigh = 0.95

	crackleSharpness = 8.0
	crackleLeak      = 0.05
	valveSharpness   = 40.0

	spoolRiseSec = 0.6
	spoolFallSec = 0.25

	intakeWeight     = 0.35
	mechanicalWeight = 0.15
	crackleWeight    = 0.25
	turboWeight      = 0.3
	valveWeight      = 0.1
	backfireWeight   = 0.6
)

// NoiseInputs carries the ramped control values for one sample.
type NoiseInputs struct {
	White    float64
	RPM      float64
	Redline  float64
	Throttle float64
	Load     float64
	Firing   float64
	Turbo    float64
}

type noiseBank struct {
	sampleRate float64

	intakeLP     float64
	mechanicalLP float64
	whooshLP     float64
	crackPhase   float64
	crackEnv     float64
	whistlePhase float64
	valvePhase   float64
	spool        float64
	backfire     float64

	mechanicalCoef float64
	whooshCoef     float64
	backfireDecay  float64
	spoolRise      float64
	spoolFall      float64
}

func newNoiseBank(sampleRate float64) noiseBank {
	return noiseBank{
		sampleRate:     sampleRate,
		mechanicalCoef: onePole(2000, sampleRate),
		whooshCoef:     onePole(1200, sampleRate),
		backfireDecay:  math.Exp(-1 / (backfireDecaySec * sampleRate)),
		spoolRise:      1 / (spoolRiseSec * sampleRate),
		spoolFall:      1 / (spoolFallSec * sampleRate),
	}
}

// Trigger arms the backfire envelope when the throttle lift exceeds BackfireDrop inside the RPM band.
func (n *noiseBank) Trigger(lift, rpm, redline float64) bool {
	if lift <= BackfireDrop || backfireWindow(rpm, redline) <= 0 {
		return false
	}
	n.backfire = 1
	return true
}

// Backfire exposes the envelope level.
func (n *noiseBank) Backfire() float64 { return n.backfire }

// Spool exposes the turbo spool factor.
func (n *noiseBank) Spool() float64 { return n.spool }

// Sample mixes every band for one output sample, before noise gain.
func (n *noiseBank) Sample(in NoiseInputs) float64 {
	w := in.White
	rpmNorm := 0.0
	if in.Redline > 0 {
		rpmNorm = clamp(in.RPM/in.Redline, 0, 1.2)
	}

	//1.- Intake breathes through a low-pass that opens with throttle.
	n.intakeLP += onePole(400+2600*in.Throttle, n.sampleRate) * (w - n.intakeLP)
	intake := n.intakeLP * (0.15 + 0.6*in.Throttle + 0.25*in.Load)

	//2.- Mechanical rattle is the high-pass residual of the same white sample.
	n.mechanicalLP += n.mechanicalCoef * (w - n.mechanicalLP)
	mechanical := (w - n.mechanicalLP) * (0.1 + 0.5*rpmNorm + 0.2*in.Load)

	//3.- Combustion crackle rides a bursty envelope locked to the firing rate.
	n.crackPhase = wrap(n.crackPhase + twoPi*in.Firing/n.sampleRate)
	burst := math.Pow(0.5+0.5*math.Sin(n.crackPhase), crackleSharpness)
	n.crackEnv += crackleLeak * (burst - n.crackEnv)
	crackle := n.crackEnv * w * (0.2 + 0.8*in.Throttle)

	//4.- Turbo spool follows boost demand, faster on lift-off than on build-up.
	target := in.Turbo * in.Throttle * clamp(rpmNorm*1.3, 0, 1)
	if target > n.spool {
		n.spool = math.Min(target, n.spool+n.spoolRise)
	} else {
		n.spool = math.Max(target, n.spool-n.spoolFall)
	}
	whistleHz := math.Min(3000+9000*n.spool, 0.45*n.sampleRate)
	n.whistlePhase = wrap(n.whistlePhase + twoPi*whistleHz/n.sampleRate)
	n.whooshLP += n.whooshCoef * (w - n.whooshLP)
	turbo := math.Sin(n.whistlePhase)*n.spool*n.spool*0.5 + (w-n.whooshLP)*n.spool*0.4

	//5.- Valvetrain ticks twice per firing event.
	n.valvePhase = frac(n.valvePhase + 2*in.Firing/n.sampleRate)
	valve := math.Pow(1-n.valvePhase, valveSharpness) * w * (0.1 + 0.2*rpmNorm)

	//6.- Backfire pops decay exponentially and vanish outside the RPM band.
	backfire := 0.0
	if n.backfire > 1e-4 {
		backfire = n.backfire * backfireWindow(in.RPM, in.Redline) * w * w
		n.backfire *= n.backfireDecay
	} else {
		n.backfire = 0
	}

	return intakeWeight*intake +
		mechanicalWeight*mechanical +
		crackleWeight*crackle +
		turboWeight*turbo +
		valveWeight*valve +
		backfireWeight*backfire
}

// backfireWindow is a soft band over [0.35, 0.95] of redline.
func backfireWindow(rpm, redline float64) float64 {
	if redline <= 0 {
		return 0
	}
	x := rpm / redline
	if x <= backfireBandLow || x >= backfireBandHigh {
		return 0
	}
	return smoothstep(backfireBandLow, backfireBandLow+0.1, x) * (1 - smoothstep(backfireBandHigh-0.1, backfireBandHigh, x))
}

// onePole returns the smoothing coefficient of a one-pole low-pass at cutoff Hz.
func onePole(cutoff, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 1
	}
	return 1 - math.Exp(-twoPi*cutoff/sampleRate)
}
