package sessionplayer

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"enginesound/server/internal/recorder"
)

// Summary condenses a session for quick inspection.
type Summary struct {
	SessionID   string         `json:"session_id"`
	Preset      string         `json:"preset,omitempty"`
	Frames      int            `json:"frames"`
	DurationMs  int64          `json:"duration_ms"`
	PeakRPM     float64        `json:"peak_rpm"`
	TopSpeed    float64        `json:"top_speed"`
	LimiterTime int64          `json:"limiter_ms"`
	Events      map[string]int `json:"events"`
}

// Summarize derives peak values and event counts from a decoded bundle.
func Summarize(bundle recorder.Bundle) Summary {
	summary := Summary{
		SessionID: bundle.Manifest.SessionID,
		Preset:    bundle.Manifest.Preset,
		Frames:    len(bundle.Frames),
		Events:    make(map[string]int),
	}
	fields := bundle.Manifest.Fields
	var prevMs int64
	for i, frame := range bundle.Frames {
		//1.- Missing fields decode as NaN and never win a max.
		if rpm := frame.Field(fields, "rpm"); rpm > summary.PeakRPM {
			summary.PeakRPM = rpm
		}
		if speed := frame.Field(fields, "speed"); speed > summary.TopSpeed {
			summary.TopSpeed = speed
		}
		//2.- Limiter time accumulates the spans ending on a limited frame.
		if i > 0 && frame.Field(fields, "limiter") == 1 {
			summary.LimiterTime += frame.SimulatedMs - prevMs
		}
		prevMs = frame.SimulatedMs
	}
	if n := len(bundle.Frames); n > 0 {
		summary.DurationMs = bundle.Frames[n-1].SimulatedMs - bundle.Frames[0].SimulatedMs
	}
	for _, event := range bundle.Events {
		summary.Events[event.Type]++
	}
	if math.IsNaN(summary.PeakRPM) {
		summary.PeakRPM = 0
	}
	return summary
}

// Entry captures a session manifest alongside its directory.
type Entry struct {
	Directory string            `json:"directory"`
	Manifest  recorder.Manifest `json:"manifest"`
}

// List walks root and returns every session manifest, oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var manifest recorder.Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		entries = append(entries, Entry{Directory: filepath.Dir(path), Manifest: manifest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Directory < entries[j].Directory
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}
