package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/input"
	"enginesound/server/internal/physics"
	"enginesound/server/internal/synth"
)

const (
	renderBitDepth = 16
	wavPCMFormat   = 1
	// RenderPhysicsHz steps the controller during offline renders.
	RenderPhysicsHz = 60
)

// ProfilePoint changes the driver inputs at At. Gear is applied only when set.
type ProfilePoint struct {
	At       time.Duration `json:"at"`
	Throttle float64       `json:"throttle"`
	Gear     *int          `json:"gear,omitempty"`
	Preset   string        `json:"preset,omitempty"`
}

// Profile scripts an offline render.
type Profile struct {
	Duration time.Duration  `json:"duration"`
	Points   []ProfilePoint `json:"points"`
}

// RenderConfig selects the voice of an offline render.
type RenderConfig struct {
	SampleRate int
	Preset     string
	Seed       uint64
	MasterGain float64
}

// RenderResult summarises a finished render.
type RenderResult struct {
	Samples   int
	Peak      float64
	Backfires uint64
	// LimiterSamples counts samples rendered while the rev limiter was cutting.
	LimiterSamples int
	Final          engine.Telemetry
}

// Render drives a controller through profile and renders mono samples at cfg.SampleRate.
func Render(profile Profile, cfg RenderConfig) ([]float64, RenderResult, error) {
	if profile.Duration <= 0 {
		return nil, RenderResult{}, errors.New("render profile needs a positive duration")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = synth.DefaultSampleRate
	}
	if cfg.Preset == "" {
		cfg.Preset = "inline4"
	}
	queue := input.NewQueue(input.DefaultQueueCapacity)
	bus := synth.NewBus()
	ctrl, err := engine.NewController(engine.Config{Preset: cfg.Preset}, queue, bus)
	if err != nil {
		return nil, RenderResult{}, err
	}
	syn := synth.New(synth.Config{SampleRate: float64(cfg.SampleRate), Seed: cfg.Seed, MasterGain: cfg.MasterGain}, bus)

	points := append([]ProfilePoint(nil), profile.Points...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].At < points[j].At })
	for _, p := range points {
		if p.Preset == "" {
			continue
		}
		if _, ok := engine.LookupPreset(p.Preset); !ok {
			return nil, RenderResult{}, fmt.Errorf("profile point at %s: unknown preset %q", p.At, p.Preset)
		}
	}

	total := int(profile.Duration.Seconds() * float64(cfg.SampleRate))
	out := make([]float64, total)
	dt := time.Second / RenderPhysicsHz
	samplesPerTick := float64(cfg.SampleRate) / RenderPhysicsHz
	start := time.Unix(0, 0)

	var (
		result  RenderResult
		elapsed time.Duration
		carry   float64
		written int
		next    int
	)
	for written < total {
		//1.- Feed every scripted change that is due before this tick.
		for next < len(points) && points[next].At <= elapsed {
			if err := feed(queue, points[next]); err != nil {
				return nil, RenderResult{}, err
			}
			next++
		}
		elapsed += dt
		result.Final = ctrl.Step(start.Add(elapsed), dt)

		//2.- Render the samples belonging to this tick, carrying the fractional remainder.
		carry += samplesPerTick
		n := int(carry)
		carry -= float64(n)
		n = min(n, total-written)
		for i := written; i < written+n; i++ {
			out[i] = syn.Next()
			if syn.LimiterActive() {
				result.LimiterSamples++
			}
		}
		written += n
	}
	for _, v := range out {
		result.Peak = math.Max(result.Peak, math.Abs(v))
	}
	result.Samples = total
	result.Backfires = syn.Backfires()
	return out, result, nil
}

func feed(queue *input.Queue, p ProfilePoint) error {
	cmds := make([]input.Command, 0, 3)
	if p.Preset != "" {
		cmds = append(cmds, input.Preset(p.Preset))
	}
	if p.Gear != nil {
		cmds = append(cmds, input.Gear(*p.Gear))
	}
	cmds = append(cmds, input.Throttle(p.Throttle))
	for _, cmd := range cmds {
		if err := queue.Push(cmd); err != nil {
			return fmt.Errorf("profile point at %s: queue %s: %w", p.At, cmd.Kind, err)
		}
	}
	return nil
}

// RenderWAV renders profile into a 16-bit mono WAV written to w.
func RenderWAV(w io.WriteSeeker, profile Profile, cfg RenderConfig) (RenderResult, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = synth.DefaultSampleRate
	}
	samples, result, err := Render(profile, cfg)
	if err != nil {
		return result, err
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: cfg.SampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: renderBitDepth,
	}
	for i, v := range samples {
		buf.Data[i] = int(math.Round(physics.Clamp(v, -1, 1) * math.MaxInt16))
	}
	enc := wav.NewEncoder(w, cfg.SampleRate, renderBitDepth, 1, wavPCMFormat)
	if err := enc.Write(buf); err != nil {
		return result, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return result, fmt.Errorf("finalise wav: %w", err)
	}
	return result, nil
}
