package input

import (
	"sync"
	"time"

	"enginesound/server/internal/logging"
)

// Clock exposes the current time for freshness and rate decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (c ClockFunc) Now() time.Time { return c() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// GateConfig controls the freshness and throughput checks applied to remote control frames.
type GateConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why a frame was rejected.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

func (r DropReason) String() string { return string(r) }

// Decision summarises whether a frame passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame is the envelope metadata of one remote command.
type Frame struct {
	ClientID   string
	SequenceID uint64
	SentAt     time.Time
	Kind       Kind
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums every reason.
func (d DropCounters) Total() uint64 { return d.Sequence + d.Stale + d.RateLimited }

type clientState struct {
	lastSequence   uint64
	lastContinuous time.Time
	drops          DropCounters
}

// Gate drops remote frames that arrive out of order, too late or too often.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	clock   Clock
	logger  *logging.Logger
	clients map[string]*clientState
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for latency calculations.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate. Zero durations disable the matching check.
func NewGate(cfg GateConfig, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*clientState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies the sequencing, freshness and throughput checks to frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.ClientID == "" {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		decision.Delay = max(now.Sub(frame.SentAt), 0)
	}

	g.mu.Lock()
	state := g.clients[frame.ClientID]
	if state == nil {
		state = &clientState{}
		g.clients[frame.ClientID] = state
	}
	switch {
	case frame.SequenceID == 0 || frame.SequenceID <= state.lastSequence:
		//1.- Replays and reordered frames would rewind the controls.
		decision.Accepted, decision.Reason = false, DropReasonSequence
		state.drops.Sequence++
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		//2.- A late throttle is worse than none; the next frame carries fresher intent.
		decision.Accepted, decision.Reason = false, DropReasonStale
		state.drops.Stale++
		state.lastSequence = frame.SequenceID
	case frame.Kind.Continuous() && g.cfg.MinInterval > 0 && !state.lastContinuous.IsZero() &&
		now.Sub(state.lastContinuous) < g.cfg.MinInterval:
		//3.- Only analog controls are throttled; discrete intents always pass.
		decision.Accepted, decision.Reason = false, DropReasonRateLimited
		state.drops.RateLimited++
	default:
		state.lastSequence = frame.SequenceID
		if frame.Kind.Continuous() {
			state.lastContinuous = now
		}
	}
	g.mu.Unlock()

	if !decision.Accepted && g.logger != nil {
		g.logger.Debug("control frame dropped",
			logging.String("client_id", frame.ClientID),
			logging.String("reason", decision.Reason.String()),
			logging.String("kind", frame.Kind.String()),
			logging.Duration("delay", decision.Delay),
		)
	}
	return decision
}

// Forget clears sequencing state and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-client drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.clients) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.clients))
	for id, state := range g.clients {
		clone[id] = state.drops
	}
	return clone
}

// TotalDrops sums drops across connected clients.
func (g *Gate) TotalDrops() DropCounters {
	var total DropCounters
	for _, counters := range g.Metrics() {
		total.Sequence += counters.Sequence
		total.Stale += counters.Stale
		total.RateLimited += counters.RateLimited
	}
	return total
}
