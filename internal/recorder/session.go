package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	// ManifestVersion is bumped whenever the on-disk layout changes.
	ManifestVersion = 1
	// FrameInterval is the flush cadence of buffered telemetry frames.
	FrameInterval = 200 * time.Millisecond

	manifestName = "manifest.json"
	eventsName   = "events.jsonl.sz"
	framesName   = "frames.bin.zst"

	frameHeaderSize = 8 + 8 + 4
)

// Manifest describes the session bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int      `json:"version"`
	SessionID       string   `json:"session_id"`
	CreatedAt       string   `json:"created_at"`
	Preset          string   `json:"preset,omitempty"`
	FrameIntervalMs int      `json:"frame_interval_ms"`
	Fields          []string `json:"fields"`
	EventsPath      string   `json:"events_path"`
	FramesPath      string   `json:"frames_path"`
}

// frameBlob stores frame values before they are persisted to disk.
type frameBlob struct {
	Tick        uint64
	SimulatedMs int64
	Values      []float64
}

// Session streams one recording to disk: a snappy JSONL event log and a zstd frame stream.
type Session struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	manifest    Manifest
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	scratch     []byte
	lastFlush   time.Time
	events      uint64
	frames      uint64
}

// NewSession creates <root>/<uuid>-<timestamp> and opens its compressed sinks.
func NewSession(root, preset string, fields []string, clock func() time.Time) (*Session, error) {
	if root == "" {
		return nil, fmt.Errorf("recording root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	created := clock().UTC()
	id := uuid.New().String()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", id, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	eventFile, err := os.Create(filepath.Join(path, eventsName))
	if err != nil {
		return nil, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesName))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		SessionID:       id,
		CreatedAt:       created.Format(time.RFC3339Nano),
		Preset:          preset,
		FrameIntervalMs: int(FrameInterval / time.Millisecond),
		Fields:          append([]string(nil), fields...),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestName), append(data, '\n'), 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return &Session{
		dir:         path,
		now:         clock,
		manifest:    manifest,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, nil
}

// Directory exposes the directory backing the session bundle.
func (s *Session) Directory() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Manifest returns the manifest written at creation.
func (s *Session) Manifest() Manifest { return s.manifest }

// AppendEvent writes a single JSON event line to the compressed event log.
func (s *Session) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload map[string]any) error {
	if s == nil {
		return fmt.Errorf("session not initialised")
	}
	captured := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Wrap the payload with metadata so JSONL parsers can stream it.
	record := eventRecord{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		Payload:     payload,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := s.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	s.events++
	return s.eventStream.Flush()
}

// AppendFrame buffers a telemetry frame until the 5 Hz cadence is reached.
func (s *Session) AppendFrame(tick uint64, simulatedMs int64, values []float64) error {
	if s == nil {
		return fmt.Errorf("session not initialised")
	}
	captured := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, frameBlob{Tick: tick, SimulatedMs: simulatedMs, Values: append([]float64(nil), values...)})
	if s.lastFlush.IsZero() {
		s.lastFlush = captured
		return nil
	}
	if captured.Sub(s.lastFlush) >= FrameInterval {
		if err := s.flushLocked(); err != nil {
			return err
		}
		s.lastFlush = captured
	}
	return nil
}

// Flush forces pending frames to be written regardless of cadence.
func (s *Session) Flush() error {
	if s == nil {
		return fmt.Errorf("session not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	s.lastFlush = s.now().UTC()
	return nil
}

// Counts reports how many events and frames were written or staged.
func (s *Session) Counts() (events, frames uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.frames + uint64(len(s.pending))
}

// Close flushes all buffers and releases file handles.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Attempt every flush/close and surface the first failure.
	var firstErr error
	if err := s.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (s *Session) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	//1.- Length-prefixed frames let readers step without knowing the field count.
	for _, frame := range s.pending {
		size := len(frame.Values) * 8
		need := frameHeaderSize + size
		if cap(s.scratch) < need {
			s.scratch = make([]byte, need)
		}
		buf := s.scratch[:need]
		binary.LittleEndian.PutUint64(buf[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(frame.SimulatedMs))
		binary.LittleEndian.PutUint32(buf[16:20], uint32(size))
		for i, v := range frame.Values {
			binary.LittleEndian.PutUint64(buf[frameHeaderSize+i*8:], math.Float64bits(v))
		}
		if _, err := s.frameStream.Write(buf); err != nil {
			return err
		}
	}
	s.frames += uint64(len(s.pending))
	s.pending = s.pending[:0]
	return nil
}

// eventRecord is one line of the event log.
type eventRecord struct {
	Tick        uint64         `json:"tick"`
	SimulatedMs int64          `json:"simulated_ms"`
	CapturedAt  string         `json:"captured_at"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
}
