package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cruise() Snapshot {
	return Snapshot{
		RPM:        3000,
		Throttle:   0.5,
		Cylinders:  4,
		NoiseGain:  0.5,
		RedlineRPM: 7000,
		IdleRPM:    900,
		Load:       0.3,
		Level:      1,
	}
}

func TestSnapshotClamp(t *testing.T) {
	s := Snapshot{
		RPM:        20000,
		Throttle:   -1,
		Cylinders:  40,
		NoiseGain:  math.NaN(),
		RedlineRPM: 1000,
		IdleRPM:    5000,
		Load:       2,
		Level:      3,
		Modes:      Modes{-1, 2, 0.5},
	}.Clamp()
	assert.Equal(t, MaxRPM, s.RPM)
	assert.Equal(t, 0.0, s.Throttle)
	assert.Equal(t, 0.0, s.Demand)
	assert.Equal(t, MaxCylinders, s.Cylinders)
	assert.Equal(t, 0.0, s.NoiseGain)
	assert.Equal(t, MinRedlineRPM, s.RedlineRPM)
	assert.Equal(t, MinRedlineRPM, s.IdleRPM)
	assert.Equal(t, 1.0, s.Load)
	assert.Equal(t, 1.0, s.Level)
	assert.Equal(t, Modes{0, 1, 0.5}, s.Modes)

	assert.Equal(t, 1, Snapshot{Cylinders: 0}.Clamp().Cylinders)
}

func TestBusPublishesLatest(t *testing.T) {
	bus := NewBus()
	assert.Nil(t, bus.Load())
	first := cruise()
	bus.Publish(first)
	second := cruise()
	second.RPM = 4000
	bus.Publish(second)
	require.NotNil(t, bus.Load())
	assert.Equal(t, 4000.0, bus.Load().RPM)

	var nilBus *Bus
	nilBus.Publish(first)
	assert.Nil(t, nilBus.Load())
}

func TestParseMode(t *testing.T) {
	for m := Mode(0); m < ModeCount; m++ {
		parsed, ok := ParseMode(" " + m.String() + " ")
		require.True(t, ok)
		assert.Equal(t, m, parsed)
	}
	_, ok := ParseMode("diesel")
	assert.False(t, ok)
}

func TestSilentUntilFirstSnapshot(t *testing.T) {
	s := New(Config{SampleRate: 48000, Seed: 1}, NewBus())
	buf := make([]float64, 512)
	s.Render(buf)
	for _, v := range buf {
		require.Equal(t, 0.0, v)
	}
}

func TestOutputBoundedAcrossOperatingPoints(t *testing.T) {
	buf := make([]float64, 2048)
	for _, cyl := range []int{1, 3, 4, 8, 12} {
		for _, rpm := range []float64{0, 800, 3500, 7000, 12000} {
			for _, throttle := range []float64{0, 1} {
				bus := NewBus()
				snap := cruise()
				snap.Cylinders = cyl
				snap.RPM = rpm
				snap.Throttle = throttle
				snap.NoiseGain = 1
				snap.Load = 1
				snap.Modes = Modes{1, 1, 1, 1, 1}
				bus.Publish(snap)
				s := New(Config{SampleRate: 44100, Seed: 7, MasterGain: 1}, bus)
				s.Render(buf)
				for i, v := range buf {
					require.False(t, math.IsNaN(v), "cyl=%d rpm=%v sample %d is NaN", cyl, rpm, i)
					require.LessOrEqual(t, math.Abs(v), 1.0)
				}
			}
		}
	}
}

func TestRenderIsDeterministicForSeed(t *testing.T) {
	render := func(seed uint64) []float64 {
		bus := NewBus()
		bus.Publish(cruise())
		s := New(Config{SampleRate: 48000, Seed: seed}, bus)
		out := make([]float64, 4096)
		s.Render(out[:2048])
		next := cruise()
		next.RPM = 5200
		next.Throttle = 0.9
		bus.Publish(next)
		s.Render(out[2048:])
		return out
	}
	a := render(42)
	b := render(42)
	c := render(43)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRenderDoesNotAllocate(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.Modes = Modes{0.5, 0.5, 0.5, 0.5, 0.5}
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 3}, bus)
	buf := make([]float64, 256)
	allocs := testing.AllocsPerRun(50, func() {
		s.Render(buf)
	})
	assert.Zero(t, allocs)
}

func TestHarmonicsBelowNyquist(t *testing.T) {
	tables := NewTables(11)
	var weights [MaxHarmonics]float64
	for _, sampleRate := range []float64{8000, 44100, 48000} {
		nyquist := sampleRate / 2
		for cyl := 1; cyl <= MaxCylinders; cyl++ {
			for rpm := 600.0; rpm <= MaxRPM; rpm += 700 {
				f := FiringFrequency(rpm, cyl)
				total := HarmonicWeights(&weights, &tables, f, nyquist, 1.2, 1, 1)
				for i, w := range weights {
					if float64(i+1)*f >= nyquist {
						require.Zero(t, w, "harmonic %d at %.1f Hz survived nyquist %.0f", i+1, float64(i+1)*f, nyquist)
					} else {
						require.Greater(t, w, 0.0)
					}
				}
				if f < nyquist {
					require.Greater(t, total, 0.0)
				}
			}
		}
	}
}

func TestHarmonicRolloffAndBoxerShaping(t *testing.T) {
	tables := NewTables(5)
	var plain, boxer [MaxHarmonics]float64
	f := FiringFrequency(6000, 8)
	HarmonicWeights(&plain, &tables, f, 24000, 1.3, 0, 0)
	HarmonicWeights(&boxer, &tables, f, 24000, 1.3, 0, 1)
	assert.InDelta(t, plain[0]*1.6, boxer[0], 1e-12)
	assert.InDelta(t, plain[9]*0.5, boxer[9], 1e-12)
	assert.InDelta(t, plain[4], boxer[4], 1e-12)

	//1.- 400 Hz firing puts harmonic 20 at 8 kHz, a quarter of the unrolled amplitude.
	expected := tables.HarmonicColor[19] / math.Pow(20, 1.3) * 0.25
	assert.InDelta(t, expected, plain[19], 1e-12)
}

func TestAlphaVTECCrossover(t *testing.T) {
	redline := 8000.0
	crossover := redline * VTECCrossoverFactor

	lowAlpha, blend := Alpha(crossover-1000, redline, 1, 1)
	assert.Zero(t, blend)
	assert.InDelta(t, 1.0, lowAlpha, 1e-12)

	mid, blend := Alpha(crossover, redline, 1, 1)
	assert.InDelta(t, 0.5, blend, 1e-12)
	assert.InDelta(t, 0.8, mid, 1e-12)

	highAlpha, blend := Alpha(crossover+1000, redline, 1, 1)
	assert.InDelta(t, 1.0, blend, 1e-12)
	assert.InDelta(t, 0.6, highAlpha, 1e-12)

	//1.- Without the mode the crossover has no effect.
	off, blend := Alpha(crossover+1000, redline, 1, 0)
	assert.Zero(t, blend)
	assert.InDelta(t, lowAlpha, off, 1e-12)
}

func TestLimiterPeriodicGating(t *testing.T) {
	var l Limiter
	period := LimiterPeriod()
	require.Equal(t, 2500, period)

	gains := make([]float64, 3*period)
	for i := range gains {
		gains[i] = l.Step(7000, 7000)
	}
	require.True(t, l.Active())

	//1.- Every period cuts for the configured fraction, then passes.
	for start := 0; start < len(gains); start += period {
		cut := 0
		for _, g := range gains[start : start+period] {
			if g == LimiterFloor {
				cut++
			}
		}
		assert.InDelta(t, LimiterCut*float64(period), float64(cut), 1, "period starting at %d", start)
		assert.Equal(t, LimiterFloor, gains[start+1])
		assert.Equal(t, 1.0, gains[start+period/2])
	}

	//2.- Dropping below threshold releases on the very next sample.
	assert.Equal(t, 1.0, l.Step(6000, 7000))
	assert.False(t, l.Active())
	assert.Zero(t, l.Cycle())
}

func TestLimiterIgnoresRPMBelowThreshold(t *testing.T) {
	var l Limiter
	for i := 0; i < 5000; i++ {
		require.Equal(t, 1.0, l.Step(6800, 7000))
	}
	assert.False(t, l.Active())
}

func TestSynthEngagesLimiterAtRedline(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.RPM = 7300
	snap.Throttle = 1
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 9}, bus)
	s.Render(make([]float64, 64))
	assert.True(t, s.LimiterActive())

	snap.RPM = 3000
	bus.Publish(snap)
	s.Render(make([]float64, 4800))
	assert.False(t, s.LimiterActive())
}

func TestBackfireOnThrottleLift(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.RPM = 4500
	snap.Throttle = 1
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 2}, bus)
	s.Render(make([]float64, 128))

	snap.Throttle = 0.1
	bus.Publish(snap)
	s.Next()
	assert.Equal(t, uint64(1), s.Backfires())
	assert.Greater(t, s.noise.Backfire(), 0.9)

	//1.- The envelope decays away within two seconds.
	s.Render(make([]float64, 96000))
	assert.Zero(t, s.noise.Backfire())
}

func TestBackfireSuppressedOutsideBand(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.RPM = 1000
	snap.Throttle = 1
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 2}, bus)
	s.Next()

	snap.Throttle = 0
	bus.Publish(snap)
	s.Next()
	assert.Zero(t, s.Backfires())

	//1.- A gentle lift inside the band is not enough either.
	snap.RPM = 4500
	snap.Throttle = 0.8
	bus.Publish(snap)
	s.Next()
	snap.Throttle = 0.6
	bus.Publish(snap)
	s.Next()
	assert.Zero(t, s.Backfires())
}

func TestBackfireFollowsDemandLift(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.RPM = 4500
	snap.Throttle, snap.Demand = 1, 1
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 2}, bus)
	s.Next()

	//1.- The applied throttle is still slewing but the driver has already lifted.
	snap.Throttle, snap.Demand = 0.8, 0
	bus.Publish(snap)
	s.Next()
	assert.Equal(t, uint64(1), s.Backfires())

	snap.Throttle = 0.6
	bus.Publish(snap)
	s.Next()
	assert.Equal(t, uint64(1), s.Backfires())

	//2.- A silenced engine never counts a lift.
	snap.Throttle, snap.Demand = 1, 1
	bus.Publish(snap)
	s.Next()
	snap.Throttle, snap.Demand, snap.Level = 0, 0, 0
	bus.Publish(snap)
	s.Next()
	assert.Equal(t, uint64(1), s.Backfires())
}

func TestPulseCycleIsOneRevolution(t *testing.T) {
	const sampleRate = 48000
	var h harmonicState
	f := FiringFrequency(3000, 4)
	revolutions := 0
	previous := h.cyclePhase
	for i := 0; i < sampleRate; i++ {
		h.advance(f, 4, sampleRate)
		if h.cyclePhase < previous {
			revolutions++
		}
		previous = h.cyclePhase
	}
	//1.- 3000 rpm is 50 revolutions per second.
	assert.InDelta(t, 50, revolutions, 1)
}

func TestExhaustResonatorIsBandPass(t *testing.T) {
	const sampleRate = 48000.0
	rms := func(freq float64) float64 {
		var f svf
		sum := 0.0
		for i := 0; i < int(sampleRate); i++ {
			out := f.bandpass(math.Sin(twoPi*freq*float64(i)/sampleRate)*0.1, 200, exhaustDamping, sampleRate)
			if i >= int(sampleRate)/2 {
				sum += out * out
			}
		}
		return math.Sqrt(sum / (sampleRate / 2))
	}
	centre := rms(200)
	assert.Greater(t, centre, 4*rms(10))
	assert.Greater(t, centre, 4*rms(4000))
}

func TestModeIntensitiesRampWithoutJumps(t *testing.T) {
	bus := NewBus()
	bus.Publish(cruise())
	s := New(Config{SampleRate: 48000, Seed: 4}, bus)
	s.Next()

	snap := cruise()
	snap.Modes[ModeCrossPlane] = 1
	bus.Publish(snap)
	previous := 0.0
	for i := 0; i < 48000/10; i++ {
		s.Next()
		current := s.Modes()[ModeCrossPlane]
		require.GreaterOrEqual(t, current, previous)
		require.LessOrEqual(t, current-previous, s.rampCoef+1e-12)
		previous = current
	}
	assert.InDelta(t, 1, previous, 1e-3)
}

func TestLevelZeroSilences(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.Level = 0
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 1}, bus)
	buf := make([]float64, 256)
	s.Render(buf)
	for _, v := range buf {
		require.Zero(t, v)
	}
}

func TestTurboSpoolFollowsThrottle(t *testing.T) {
	bus := NewBus()
	snap := cruise()
	snap.RPM = 6000
	snap.Throttle = 1
	snap.Modes[ModeTurbo] = 1
	bus.Publish(snap)
	s := New(Config{SampleRate: 48000, Seed: 6}, bus)
	s.Render(make([]float64, 48000))
	assert.InDelta(t, 1, s.noise.Spool(), 1e-6)

	snap.Throttle = 0
	bus.Publish(snap)
	s.Render(make([]float64, 24000))
	assert.InDelta(t, 0, s.noise.Spool(), 1e-9)
}
