package recorder

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Event is a single event decoded from the JSONL log.
type Event struct {
	Tick        uint64         `json:"tick"`
	SimulatedMs int64          `json:"simulated_ms"`
	CapturedAt  time.Time      `json:"captured_at"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Frame is a single telemetry frame decoded from the binary stream.
type Frame struct {
	Tick        uint64    `json:"tick"`
	SimulatedMs int64     `json:"simulated_ms"`
	Values      []float64 `json:"values"`
}

// Field returns the value named by the manifest field list, or NaN.
func (f Frame) Field(fields []string, name string) float64 {
	for i, candidate := range fields {
		if candidate == name && i < len(f.Values) {
			return f.Values[i]
		}
	}
	return math.NaN()
}

// Bundle is a fully decoded session.
type Bundle struct {
	Manifest Manifest `json:"manifest"`
	Events   []Event  `json:"events"`
	Frames   []Frame  `json:"frames"`
}

// ReadBundle loads the manifest, events and frames of a session directory or manifest path.
func ReadBundle(path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}
	//1.- Locate the manifest so the asset paths resolve relative to it.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestName)
	}
	dir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Bundle{}, err
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return Bundle{}, fmt.Errorf("decode manifest: %w", err)
	}
	if bundle.Manifest.Version != ManifestVersion {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", bundle.Manifest.Version)
	}

	//2.- Events first so tools can reconstruct the timeline, frames afterwards.
	if bundle.Events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return Bundle{}, fmt.Errorf("read events: %w", err)
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return Bundle{}, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        raw.Tick,
			SimulatedMs: raw.SimulatedMs,
			CapturedAt:  captured,
			Type:        raw.Type,
			Payload:     raw.Payload,
		})
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset+frameHeaderSize <= len(payload) {
		//1.- Read the fixed header then decode the little-endian values.
		tick := binary.LittleEndian.Uint64(payload[offset:])
		sim := int64(binary.LittleEndian.Uint64(payload[offset+8:]))
		size := int(binary.LittleEndian.Uint32(payload[offset+16:]))
		offset += frameHeaderSize
		if size%8 != 0 || offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated")
		}
		values := make([]float64, size/8)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[offset+i*8:]))
		}
		offset += size
		frames = append(frames, Frame{Tick: tick, SimulatedMs: sim, Values: values})
	}
	if offset != len(payload) {
		return nil, fmt.Errorf("trailing %d bytes in frame stream", len(payload)-offset)
	}
	return frames, nil
}
