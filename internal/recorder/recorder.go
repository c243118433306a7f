package recorder

import (
	"sync"
	"sync/atomic"
	"time"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/logging"
)

// DefaultBuffer is how many records may queue before the physics loop starts dropping them.
const DefaultBuffer = 1024

type record struct {
	frame   bool
	tick    uint64
	simMs   int64
	kind    string
	payload map[string]any
	values  []float64
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Directory string
	Events    uint64
	Frames    uint64
	Dropped   uint64
}

// Recorder moves session writes off the physics goroutine. RecordEvent and RecordFrame never
// block; a full buffer drops the record and counts it.
type Recorder struct {
	session *Session
	log     *logging.Logger
	records chan record
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
	err     error
}

var _ engine.EventSink = (*Recorder)(nil)

// Open creates a session under root and starts the writer goroutine.
func Open(root, preset string, logger *logging.Logger, clock func() time.Time) (*Recorder, error) {
	session, err := NewSession(root, preset, engine.FrameFields, clock)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.L()
	}
	r := &Recorder{
		session: session,
		log:     logger.With(logging.String("component", "recorder"), logging.String("session", session.Directory())),
		records: make(chan record, DefaultBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	r.log.Info("session recording started")
	return r, nil
}

// RecordEvent implements engine.EventSink.
func (r *Recorder) RecordEvent(e engine.Event) {
	r.enqueue(record{tick: e.Tick, simMs: e.Simulated.Milliseconds(), kind: e.Type, payload: e.Payload})
}

// RecordFrame stages one telemetry record for the frame stream.
func (r *Recorder) RecordFrame(t engine.Telemetry) {
	r.enqueue(record{frame: true, tick: t.Tick, simMs: t.Simulated.Milliseconds(), values: t.Values()})
}

func (r *Recorder) enqueue(rec record) {
	if r == nil || r.closed.Load() {
		return
	}
	select {
	case r.records <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.records:
			r.write(rec)
		case <-r.stop:
			//1.- Drain whatever was queued before the stop so the tail is not lost.
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec record) {
	var err error
	if rec.frame {
		err = r.session.AppendFrame(rec.tick, rec.simMs, rec.values)
	} else {
		err = r.session.AppendEvent(rec.tick, rec.simMs, rec.kind, rec.payload)
	}
	if err != nil {
		r.dropped.Add(1)
		r.log.Warn("session write failed", logging.Error(err))
	}
}

// Directory is the session bundle path.
func (r *Recorder) Directory() string { return r.session.Directory() }

// Stats reports counters for the metrics endpoint.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	events, frames := r.session.Counts()
	return Stats{Directory: r.session.Directory(), Events: events, Frames: frames, Dropped: r.dropped.Load()}
}

// Close stops accepting records, drains the buffer and finalises the session files.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.stop)
		<-r.done
		r.err = r.session.Close()
		stats := r.Stats()
		r.log.Info("session recording closed",
			logging.Uint64("events", stats.Events),
			logging.Uint64("frames", stats.Frames),
			logging.Uint64("dropped", stats.Dropped),
		)
	})
	return r.err
}
