package sessionplayer

import (
	"testing"
	"time"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/recorder"
)

func TestSummarizeRecordedSession(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	session, err := recorder.NewSession(tmp, "turbo4", engine.FrameFields, clock)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	frames := []engine.Telemetry{
		{Tick: 1, Simulated: 0, RPM: 3000, Speed: 5},
		{Tick: 2, Simulated: 100 * time.Millisecond, RPM: 6700, Speed: 9, Limiter: true},
		{Tick: 3, Simulated: 200 * time.Millisecond, RPM: 6500, Speed: 12},
	}
	for _, f := range frames {
		if err := session.AppendFrame(f.Tick, f.Simulated.Milliseconds(), f.Values()); err != nil {
			t.Fatalf("append frame: %v", err)
		}
	}
	if err := session.AppendEvent(2, 100, engine.EventLimiter, map[string]any{"active": true}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bundle, err := recorder.ReadBundle(session.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	summary := Summarize(bundle)
	if summary.Frames != 3 || summary.DurationMs != 200 {
		t.Fatalf("unexpected span %+v", summary)
	}
	if summary.PeakRPM != 6700 || summary.TopSpeed != 12 {
		t.Fatalf("unexpected peaks %+v", summary)
	}
	if summary.LimiterTime != 100 {
		t.Fatalf("expected 100 ms on the limiter, got %d", summary.LimiterTime)
	}
	if summary.Events[engine.EventLimiter] != 1 || summary.Preset != "turbo4" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	entries, err := List(tmp)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Directory != session.Directory() {
		t.Fatalf("unexpected catalogue %+v", entries)
	}
}

func TestListRejectsMissingRoot(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatalf("expected error for empty root")
	}
	if _, err := List(t.TempDir() + "/missing"); err == nil {
		t.Fatalf("expected error for missing root")
	}
}
