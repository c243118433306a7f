package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"enginesound/server/internal/synth"
)

// ErrAudioUnavailable reports that the host audio output could not be opened.
var ErrAudioUnavailable = errors.New("audio unavailable")

const bytesPerSample = 4

// Stream adapts a synthesizer to the pull-model reader the output device consumes. Read converts
// the mono output to interleaved float32 little-endian, duplicated into every channel.
type Stream struct {
	channels int
	source   atomic.Pointer[synth.Synth]
	mono     []float64

	frames    atomic.Uint64
	backfires atomic.Uint64
	limiter   atomic.Bool
}

// NewStream prepares a reader for channels interleaved outputs. bufferFrames sizes the scratch
// buffer up front so steady-state reads never allocate.
func NewStream(channels, bufferFrames int) *Stream {
	if channels < 1 {
		channels = 1
	}
	if bufferFrames < 1 {
		bufferFrames = 512
	}
	return &Stream{channels: channels, mono: make([]float64, bufferFrames*4)}
}

// Attach installs the synthesizer rendered by subsequent reads.
func (s *Stream) Attach(syn *synth.Synth) { s.source.Store(syn) }

// Detach removes the source; reads then return silence.
func (s *Stream) Detach() { s.source.Store(nil) }

// Attached reports whether a source is installed.
func (s *Stream) Attached() bool { return s.source.Load() != nil }

// Channels reports the interleaved channel count.
func (s *Stream) Channels() int { return s.channels }

// Read fills p with whole frames. It never blocks and never fails.
func (s *Stream) Read(p []byte) (int, error) {
	syn := s.source.Load()
	if syn == nil {
		clear(p)
		return len(p), nil
	}
	frameBytes := s.channels * bytesPerSample
	frames := len(p) / frameBytes
	//1.- Grow only when the device asks for more than it ever did before.
	if len(s.mono) < frames {
		s.mono = make([]float64, frames)
	}
	mono := s.mono[:frames]
	syn.Render(mono)

	//2.- Interleave: every channel carries the same sample.
	offset := 0
	for _, sample := range mono {
		bits := math.Float32bits(float32(sample))
		for ch := 0; ch < s.channels; ch++ {
			binary.LittleEndian.PutUint32(p[offset:], bits)
			offset += bytesPerSample
		}
	}
	clear(p[offset:])

	s.frames.Add(uint64(frames))
	s.backfires.Store(syn.Backfires())
	s.limiter.Store(syn.LimiterActive())
	return len(p), nil
}

// Stats is a race-free copy of what the audio goroutine observed on its last read.
type Stats struct {
	Frames        uint64
	Backfires     uint64
	LimiterActive bool
}

// Stats reports counters that other goroutines may read while the device is pulling.
func (s *Stream) Stats() Stats {
	return Stats{Frames: s.frames.Load(), Backfires: s.backfires.Load(), LimiterActive: s.limiter.Load()}
}
