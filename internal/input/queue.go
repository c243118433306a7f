package input

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity bounds pending commands between physics ticks.
const DefaultQueueCapacity = 1024

// ErrQueueClosed is returned when pushing after Close.
var ErrQueueClosed = errors.New("command queue closed")

// Queue buffers commands from any goroutine until the physics loop drains them once per tick.
type Queue struct {
	mu        sync.Mutex
	buf       []Command
	head      int
	count     int
	closed    bool
	discarded atomic.Uint64
	pushed    atomic.Uint64
}

// NewQueue allocates a ring of the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{buf: make([]Command, capacity)}
}

// Push enqueues a command. When the ring is full the oldest command is discarded.
func (q *Queue) Push(cmd Command) error {
	if q == nil {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.count == len(q.buf) {
		//1.- Keep the freshest intent; a stale throttle value is worthless.
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.discarded.Add(1)
	}
	q.buf[(q.head+q.count)%len(q.buf)] = cmd
	q.count++
	q.pushed.Add(1)
	return nil
}

// Drain appends every pending command to dst in arrival order and returns it.
func (q *Queue) Drain(dst []Command) []Command {
	if q == nil {
		return dst
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.count; i++ {
		dst = append(dst, q.buf[(q.head+i)%len(q.buf)])
	}
	q.head = 0
	q.count = 0
	return dst
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close rejects further pushes. Pending commands can still be drained.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// QueueStats summarises queue throughput.
type QueueStats struct {
	Pushed    uint64
	Discarded uint64
}

// Stats returns cumulative counters.
func (q *Queue) Stats() QueueStats {
	if q == nil {
		return QueueStats{}
	}
	return QueueStats{Pushed: q.pushed.Load(), Discarded: q.discarded.Load()}
}
