package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enginesound/server/internal/config"
)

func TestLoggerEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "info")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	logger.With(String("component", "physics")).Info("gear changed",
		Int("gear", 3),
		Float64("rpm", 3906.12345),
		Duration("fade", 800*time.Millisecond),
		Error(errors.New("boom")),
	)
	logger.Debug("filtered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["component"] != "physics" || payload["service"] != "enginesound" {
		t.Fatalf("missing inherited fields: %v", payload)
	}
	if payload["rpm"] != 3906.123 {
		t.Fatalf("rpm = %v, want 3906.123", payload["rpm"])
	}
	if payload["fade"] != "800ms" || payload["error"] != "boom" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestNewWriterRejectsUnknownLevel(t *testing.T) {
	if _, err := NewWriter(nil, "chatty"); err == nil {
		t.Fatal("expected unknown level error")
	}
}

func TestHTTPTraceMiddlewarePropagatesTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "debug")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	var seen string
	handler := HTTPTraceMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(TraceIDHeader, "rev-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "rev-42" || rr.Header().Get(TraceIDHeader) != "rev-42" {
		t.Fatalf("expected caller trace id, saw %q and header %q", seen, rr.Header().Get(TraceIDHeader))
	}
	if !strings.Contains(buf.String(), `"trace_id":"rev-42"`) {
		t.Fatalf("request log missing trace id: %s", buf.String())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if seen == "" || seen == "rev-42" || rr.Header().Get(TraceIDHeader) != seen {
		t.Fatalf("expected a generated trace id, saw %q and header %q", seen, rr.Header().Get(TraceIDHeader))
	}
	if TraceIDFromContext(context.Background()) != "" {
		t.Fatal("expected no trace id outside a request")
	}
}

func TestRotatingWriterCompressesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	w, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer w.Close()
	w.maxSize = 64
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	record := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 5; i++ {
		if _, err := w.Write(record); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, entry := range entries {
		if entry.Name() == "engine.log" {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".gz") {
			t.Fatalf("rotated file %q not compressed", entry.Name())
		}
		rotated++
	}
	if rotated != 2 {
		t.Fatalf("expected 2 retained backups, got %d", rotated)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(record)) {
		t.Fatalf("active file size = %d, want %d", info.Size(), len(record))
	}
}
