package simulation

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxFrameDelta caps the time a single frame may integrate after a stall.
const DefaultMaxFrameDelta = 50 * time.Millisecond

// FrameFunc advances the physics by dt, the clamped time since the previous frame.
type FrameFunc func(now time.Time, dt time.Duration)

// Loop drives a best-effort frame-rate loop. Unlike a fixed-step integrator it never catches up
// on missed frames; a late frame simply integrates a longer, clamped delta.
type Loop struct {
	interval time.Duration
	maxDelta time.Duration
	frame    FrameFunc
	monitor  *TickMonitor
	now      func() time.Time

	mu     sync.Mutex
	last   time.Time
	frames uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// LoopOption customises loop construction.
type LoopOption func(*Loop)

// WithMonitor records the wall time spent in every frame.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// WithMaxFrameDelta overrides the delta clamp.
func WithMaxFrameDelta(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.maxDelta = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, frame FrameFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if frame == nil {
		frame = func(time.Time, time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	l := &Loop{
		interval: interval,
		maxDelta: DefaultMaxFrameDelta,
		frame:    frame,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Start ticks until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Advance(l.now())
			}
		}
	}()
}

// Advance runs one frame at now and returns the delta it integrated.
func (l *Loop) Advance(now time.Time) time.Duration {
	l.mu.Lock()
	//1.- The first frame has no predecessor, so it integrates one nominal interval.
	dt := l.interval
	if !l.last.IsZero() {
		dt = now.Sub(l.last)
	}
	//2.- Clamp so a suspended process does not launch the car when it resumes.
	if dt < 0 {
		dt = 0
	}
	if dt > l.maxDelta {
		dt = l.maxDelta
	}
	l.last = now
	l.frames++
	l.mu.Unlock()

	started := time.Now()
	l.frame(now, dt)
	if l.monitor != nil {
		l.monitor.Observe(time.Since(started))
	}
	return dt
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Interval exposes the nominal frame period.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Frames counts frames run so far.
func (l *Loop) Frames() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}
