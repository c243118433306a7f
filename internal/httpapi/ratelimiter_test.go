package httpapi

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("expected first two handshakes to be admitted")
	}
	if limiter.Allow() {
		t.Fatal("expected third handshake to be refused")
	}
	if wait := limiter.RetryAfter(); wait != time.Minute {
		t.Fatalf("expected a full window wait, got %v", wait)
	}

	now = now.Add(30 * time.Second)
	if limiter.Allow() {
		t.Fatal("expected handshake within window to still be refused")
	}
	if wait := limiter.RetryAfter(); wait != 30*time.Second {
		t.Fatalf("expected 30s wait, got %v", wait)
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected limiter to admit after the window passes")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	limiter := NewSlidingWindowLimiter(0, 0, nil)
	if !limiter.Allow() || limiter.RetryAfter() != 0 {
		t.Fatal("limiter with zero configuration should admit")
	}
	var nilLimiter *SlidingWindowLimiter
	if !nilLimiter.Allow() {
		t.Fatal("nil limiter should admit")
	}
}
