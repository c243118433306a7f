package synth

import (
	"math"
	"math/rand/v2"
)

const (
	// DefaultSampleRate is used when the configuration leaves it unset.
	DefaultSampleRate = 48000
	// RampSeconds is the time constant of the per-sample parameter smoothing.
	RampSeconds = 0.01
	// DefaultMasterGain leaves headroom for the host mixer.
	DefaultMasterGain = 0.8
)

// Config fixes the synthesizer for its lifetime.
type Config struct {
	SampleRate float64
	Seed       uint64
	MasterGain float64
}

// ramped holds the smoothed copy of the latest snapshot.
type ramped struct {
	rpm      float64
	throttle float64
	load     float64
	noise    float64
	redline  float64
	level    float64
	modes    Modes
}

// Synth renders engine audio from snapshots on a Bus. It is owned by one audio goroutine.
type Synth struct {
	cfg       Config
	nyquist   float64
	rampCoef  float64
	bus       *Bus
	tables    Tables
	rng       *rand.Rand
	last      *Snapshot
	cylinders int
	params    ramped
	primed    bool
	harmonics harmonicState
	noise     noiseBank
	output    outputStage
	limiter   Limiter
	backfires uint64
}

// New constructs a synthesizer reading from bus.
func New(cfg Config, bus *Bus) *Synth {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.MasterGain <= 0 {
		cfg.MasterGain = DefaultMasterGain
	}
	return &Synth{
		cfg:       cfg,
		nyquist:   cfg.SampleRate / 2,
		rampCoef:  1 - math.Exp(-1/(RampSeconds*cfg.SampleRate)),
		bus:       bus,
		tables:    NewTables(cfg.Seed),
		rng:       rand.New(rand.NewPCG(cfg.Seed^0x5bd1e995, cfg.Seed+1)),
		cylinders: 4,
		noise:     newNoiseBank(cfg.SampleRate),
		output:    newOutputStage(cfg.SampleRate),
	}
}

// SampleRate reports the configured output rate.
func (s *Synth) SampleRate() float64 { return s.cfg.SampleRate }

// LimiterActive reports whether the rev limiter is cutting.
func (s *Synth) LimiterActive() bool { return s.limiter.Active() }

// Backfires counts triggered backfire events.
func (s *Synth) Backfires() uint64 { return s.backfires }

// Render fills dst with mono samples in [-1,1].
func (s *Synth) Render(dst []float64) {
	for i := range dst {
		dst[i] = s.Next()
	}
}

// Next produces one mono sample in [-1,1]. It never blocks or allocates.
func (s *Synth) Next() float64 {
	s.follow()
	if !s.primed {
		return 0
	}
	p := &s.params

	//1.- Pitch with jitter and drift, then advance every oscillator.
	nominal := FiringFrequency(p.rpm, s.cylinders)
	f := s.harmonics.pitch(nominal, p.throttle, s.rng.Float64(), s.rng.Float64())
	s.harmonics.advance(f, s.cylinders, s.cfg.SampleRate)

	//2.- Additive bank with anti-aliasing and mode shaping.
	alpha, cam := Alpha(p.rpm, p.redline, p.throttle, p.modes[ModeVTEC])
	total := HarmonicWeights(&s.harmonics.weights, &s.tables, f, s.nyquist, alpha, cam, p.modes[ModeBoxer])
	engine := harmonicMix * s.harmonics.additive(&s.tables, total)
	engine += pulseMix * (0.5 + 0.5*p.throttle) * s.harmonics.pulseTrain(&s.tables, s.cylinders, p.throttle)
	engine += layerMix * s.harmonics.layers(&p.modes)

	//3.- Noise bank shares one white sample.
	noise := s.noise.Sample(NoiseInputs{
		White:    2*s.rng.Float64() - 1,
		RPM:      p.rpm,
		Redline:  p.redline,
		Throttle: p.throttle,
		Load:     p.load,
		Firing:   f,
		Turbo:    p.modes[ModeTurbo],
	})

	//4.- Resonance, saturation and post filter.
	out := s.output.Process(engine+noise*p.noise, OutputInputs{
		Firing:   f,
		Throttle: p.throttle,
		Load:     p.load,
		ModePeak: p.modes.Max(),
	})

	//5.- Rev limiter gate, then master gain.
	out *= s.limiter.Step(p.rpm, p.redline)
	return clamp(out*s.cfg.MasterGain*p.level, -1, 1)
}

// follow picks up a newer snapshot and ramps the smoothed parameters one sample toward it.
func (s *Synth) follow() {
	snap := s.bus.Load()
	if snap == nil {
		return
	}
	if snap != s.last {
		if s.last != nil && snap.Level > 0 && s.noise.Trigger(lift(s.last, snap), snap.RPM, snap.RedlineRPM) {
			s.backfires++
		}
		s.last = snap
		s.cylinders = snap.Cylinders
	}
	target := ramped{
		rpm:      snap.RPM,
		throttle: snap.Throttle,
		load:     snap.Load,
		noise:    snap.NoiseGain,
		redline:  snap.RedlineRPM,
		level:    snap.Level,
		modes:    snap.Modes,
	}
	if !s.primed {
		//1.- The first snapshot is taken as-is so start-up does not sweep from zero.
		s.params = target
		s.primed = true
		return
	}
	c := s.rampCoef
	p := &s.params
	p.rpm += (target.rpm - p.rpm) * c
	p.throttle += (target.throttle - p.throttle) * c
	p.load += (target.load - p.load) * c
	p.noise += (target.noise - p.noise) * c
	p.redline = target.redline
	p.level += (target.level - p.level) * c
	p.modes = p.modes.Lerp(target.modes, c)
}

// Modes returns the smoothed mode intensities currently in effect.
func (s *Synth) Modes() Modes { return s.params.modes }

// RPM returns the smoothed RPM currently in effect.
func (s *Synth) RPM() float64 { return s.params.rpm }

// lift is the larger throttle drop between two snapshots, measured on demand or applied throttle.
func lift(previous, current *Snapshot) float64 {
	return max(previous.Throttle-current.Throttle, previous.Demand-current.Demand)
}
