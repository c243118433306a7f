package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsFrames(t *testing.T) {
	var frames int32
	loop := NewLoop(120, func(time.Time, time.Duration) {
		atomic.AddInt32(&frames, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	loop.Stop()
	if atomic.LoadInt32(&frames) == 0 {
		t.Fatalf("expected loop to run at least one frame")
	}
	//1.- Stop is idempotent and no frames run afterwards.
	loop.Stop()
	after := atomic.LoadInt32(&frames)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&frames) != after {
		t.Fatalf("frames ran after Stop")
	}
}

func TestLoopInterval(t *testing.T) {
	if got := NewLoop(120, nil).Interval(); got != time.Second/120 {
		t.Fatalf("unexpected interval %v", got)
	}
	if got := NewLoop(0, nil).Interval(); got != time.Second/60 {
		t.Fatalf("expected 60 Hz fallback, got %v", got)
	}
}

func TestAdvanceClampsFrameDelta(t *testing.T) {
	var deltas []time.Duration
	loop := NewLoop(60, func(_ time.Time, dt time.Duration) {
		deltas = append(deltas, dt)
	})
	start := time.Unix(100, 0)

	//1.- First frame integrates one nominal interval.
	loop.Advance(start)
	//2.- Regular frame integrates the real gap.
	loop.Advance(start.Add(20 * time.Millisecond))
	//3.- A long stall is clamped.
	loop.Advance(start.Add(2 * time.Second))
	//4.- Clock going backwards integrates nothing.
	loop.Advance(start.Add(time.Second))

	want := []time.Duration{time.Second / 60, 20 * time.Millisecond, DefaultMaxFrameDelta, 0}
	if len(deltas) != len(want) {
		t.Fatalf("got %d frames, want %d", len(deltas), len(want))
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Fatalf("frame %d dt = %v, want %v", i, deltas[i], want[i])
		}
	}
	if loop.Frames() != 4 {
		t.Fatalf("frames = %d, want 4", loop.Frames())
	}
}

func TestAdvanceFeedsMonitor(t *testing.T) {
	monitor := NewTickMonitor(time.Nanosecond)
	loop := NewLoop(60, func(time.Time, time.Duration) {
		time.Sleep(time.Millisecond)
	}, WithMonitor(monitor), WithMaxFrameDelta(10*time.Millisecond))
	loop.Advance(time.Unix(0, 0))
	if dt := loop.Advance(time.Unix(1, 0)); dt != 10*time.Millisecond {
		t.Fatalf("custom clamp ignored: %v", dt)
	}
	snapshot := monitor.Snapshot()
	if snapshot.Samples != 2 || snapshot.Overruns != 2 {
		t.Fatalf("unexpected monitor snapshot: %+v", snapshot)
	}
	if snapshot.Average < time.Millisecond || snapshot.AverageFPS() <= 0 {
		t.Fatalf("average not recorded: %+v", snapshot)
	}
	monitor.Reset()
	if monitor.Snapshot().Samples != 0 {
		t.Fatal("reset did not clear samples")
	}
}
