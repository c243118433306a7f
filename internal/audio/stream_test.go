package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enginesound/server/internal/synth"
)

func runningSynth(t *testing.T) *synth.Synth {
	t.Helper()
	bus := synth.NewBus()
	bus.Publish(synth.Snapshot{RPM: 3000, Throttle: 0.6, Cylinders: 4, NoiseGain: 0.5, RedlineRPM: 7000, IdleRPM: 900, Load: 0.3, Level: 1})
	return synth.New(synth.Config{SampleRate: 48000, Seed: 7}, bus)
}

func sampleAt(p []byte, index int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(p[index*bytesPerSample:]))
}

func TestStreamSilentWithoutSource(t *testing.T) {
	s := NewStream(2, 256)
	p := make([]byte, 256*2*bytesPerSample)
	for i := range p {
		p[i] = 0xff
	}
	n, err := s.Read(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	for i, b := range p {
		require.Zerof(t, b, "byte %d not silent", i)
	}
	assert.False(t, s.Attached())
}

func TestStreamInterleavesEveryChannel(t *testing.T) {
	s := NewStream(3, 128)
	s.Attach(runningSynth(t))
	p := make([]byte, 512*3*bytesPerSample)
	var energy float64
	for round := 0; round < 4; round++ {
		_, err := s.Read(p)
		require.NoError(t, err)
		for frame := 0; frame < 512; frame++ {
			first := sampleAt(p, frame*3)
			assert.Equal(t, first, sampleAt(p, frame*3+1))
			assert.Equal(t, first, sampleAt(p, frame*3+2))
			require.LessOrEqual(t, math.Abs(float64(first)), 1.0)
			energy += float64(first) * float64(first)
		}
	}
	assert.Greater(t, energy, 0.0)
	assert.Equal(t, uint64(4*512), s.Stats().Frames)
}

func TestStreamClearsPartialFrame(t *testing.T) {
	s := NewStream(2, 16)
	s.Attach(runningSynth(t))
	p := make([]byte, 2*2*bytesPerSample+3)
	for i := range p {
		p[i] = 0xff
	}
	n, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)
	assert.Equal(t, []byte{0, 0, 0}, p[len(p)-3:])
}

func TestStreamDetachReturnsSilence(t *testing.T) {
	s := NewStream(1, 64)
	s.Attach(runningSynth(t))
	s.Detach()
	p := make([]byte, 64*bytesPerSample)
	_, err := s.Read(p)
	require.NoError(t, err)
	for _, b := range p {
		require.Zero(t, b)
	}
}

func TestStreamReadDoesNotAllocate(t *testing.T) {
	s := NewStream(2, 512)
	s.Attach(runningSynth(t))
	p := make([]byte, 512*2*bytesPerSample)
	_, _ = s.Read(p)
	allocs := testing.AllocsPerRun(50, func() {
		_, _ = s.Read(p)
	})
	assert.Zero(t, allocs)
}

func TestDeviceConfigBufferDuration(t *testing.T) {
	cfg := DeviceConfig{SampleRate: 48000, BufferFrames: 480}
	assert.Equal(t, int64(10_000_000), cfg.bufferDuration().Nanoseconds())
	assert.Zero(t, DeviceConfig{}.bufferDuration())
}
