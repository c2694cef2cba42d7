package af

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Receive once a queue has been closed and
// drained, or detached from its context.
var ErrQueueClosed = errors.New("af: event queue closed")

// Payload is the variant carried by an Event: MoveEvent or FinishEvent.
type Payload interface {
	isPayload()
}

// MoveEvent reports that the lens started (Start=true) or stopped moving.
type MoveEvent struct {
	Start bool
}

// FinishEvent reports the outcome of a convergence cycle.
type FinishEvent struct {
	Focused bool
}

func (MoveEvent) isPayload()   {}
func (FinishEvent) isPayload() {}

// Event is one delivered notification. Context is the opaque value the
// subscriber attached to its queue.
type Event struct {
	Payload Payload
	Context any
	Seq     uint64
	At      time.Time
}

// EventQueue is a bounded, ordered queue from the frame path to one
// subscriber. Producers never block: when full the oldest event is dropped.
type EventQueue struct {
	ctx any

	mu      sync.Mutex
	buf     []Event
	head    int
	n       int
	seq     uint64
	dropped uint64
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

// NewEventQueue creates a queue holding at most capacity undelivered events.
// A non-positive capacity selects the default; larger ones are capped at
// 65536. ctx is stamped on every event for the subscriber's own bookkeeping.
func NewEventQueue(capacity int, ctx any) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultParams().EventQueueSize
	}
	if capacity > maxEventQueueSize {
		capacity = maxEventQueueSize
	}
	return &EventQueue{
		ctx:   ctx,
		buf:   make([]Event, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends p. It reports whether an older event had to be dropped.
func (q *EventQueue) push(p Payload, at time.Time) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	dropped := false
	if q.n == len(q.buf) {
		q.buf[q.head] = Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		dropped = true
	}
	q.seq++
	q.buf[(q.head+q.n)%len(q.buf)] = Event{Payload: p, Context: q.ctx, Seq: q.seq, At: at}
	q.n++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (q *EventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return Event{}, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return ev, true
}

// TryReceive returns the oldest undelivered event without blocking.
func (q *EventQueue) TryReceive() (Event, bool) {
	return q.pop()
}

// Receive blocks until an event is available, the queue is closed, or ctx is
// done. Events still buffered when Close is called are delivered first.
func (q *EventQueue) Receive(ctx context.Context) (Event, error) {
	for {
		if ev, ok := q.pop(); ok {
			return ev, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			if ev, ok := q.pop(); ok {
				return ev, nil
			}
			return Event{}, ErrQueueClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of undelivered events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns how many events were discarded because the queue was full.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting events and wakes blocked receivers.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// detach closes the queue and discards anything not yet delivered.
func (q *EventQueue) detach() {
	q.mu.Lock()
	for q.n > 0 {
		q.buf[q.head] = Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
	}
	q.mu.Unlock()
	q.Close()
}
