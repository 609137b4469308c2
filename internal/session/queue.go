package session

import (
	"sync"

	"github.com/roach88/codesync/internal/wire"
)

// EventType distinguishes the inputs the loop processes.
type EventType int

const (
	// EventFrame is a frame received from the relay.
	EventFrame EventType = iota + 1
	// EventCommand is a local operation submitted through one of the
	// Session helpers.
	EventCommand
	// EventTick is a presence heartbeat.
	EventTick
	// EventDisconnected is queued once when the relay connection ends.
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventFrame:
		return "frame"
	case EventCommand:
		return "command"
	case EventTick:
		return "tick"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the loop.
type Event struct {
	Type    EventType
	Frame   wire.Frame
	Command func()
}

// eventQueue is an unbounded FIFO. Producers are the frame pump, the
// heartbeat ticker and command callers; the Run loop is the only consumer.
//
// The signal channel has a buffer of one so the loop can wait on it
// alongside ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back of the queue. Returns false once closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Release the closure and payload for GC.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait signals that events may be available. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
