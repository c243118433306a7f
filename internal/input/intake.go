package input

import "sync/atomic"

// Intake routes remote envelopes through the gate into the command queue. It is shared by every
// remote transport so drops are counted in one place.
type Intake struct {
	gate  *Gate
	queue *Queue

	accepted    atomic.Uint64
	sequence    atomic.Uint64
	stale       atomic.Uint64
	rateLimited atomic.Uint64
	failed      atomic.Uint64
}

// IntakeStats are cumulative counters that survive client disconnects.
type IntakeStats struct {
	Accepted uint64
	Drops    DropCounters
	Failed   uint64
}

// NewIntake binds a gate to a queue. A nil gate accepts every frame.
func NewIntake(gate *Gate, queue *Queue) *Intake {
	return &Intake{gate: gate, queue: queue}
}

// Submit gates env and enqueues its command when accepted.
func (i *Intake) Submit(env Envelope) (Decision, error) {
	decision := i.gate.Evaluate(env.Frame())
	if !decision.Accepted {
		i.countDrop(decision.Reason)
		return decision, nil
	}
	if err := i.queue.Push(env.Command); err != nil {
		i.failed.Add(1)
		return decision, err
	}
	i.accepted.Add(1)
	return decision, nil
}

func (i *Intake) countDrop(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		i.sequence.Add(1)
	case DropReasonStale:
		i.stale.Add(1)
	case DropReasonRateLimited:
		i.rateLimited.Add(1)
	}
}

// Stats reports totals since startup.
func (i *Intake) Stats() IntakeStats {
	if i == nil {
		return IntakeStats{}
	}
	return IntakeStats{
		Accepted: i.accepted.Load(),
		Drops: DropCounters{
			Sequence:    i.sequence.Load(),
			Stale:       i.stale.Load(),
			RateLimited: i.rateLimited.Load(),
		},
		Failed: i.failed.Load(),
	}
}

// Forget drops the gate state of a disconnected client.
func (i *Intake) Forget(clientID string) { i.gate.Forget(clientID) }

// Gate exposes the gate for metrics.
func (i *Intake) Gate() *Gate { return i.gate }

// Queue exposes the queue for metrics.
func (i *Intake) Queue() *Queue { return i.queue }
