package relay

import (
	"sync"

	"github.com/roach88/codesync/internal/wire"
)

// DefaultSendQueue is how many broadcast frames may wait for one member
// before the relay gives up on it.
const DefaultSendQueue = 1024

// outbox is a member's FIFO of frames waiting to be written. Producers hold
// the server lock; the member's writer goroutine is the only consumer, so
// network writes never happen under that lock.
type outbox struct {
	mu     sync.Mutex
	frames []wire.Frame
	limit  int
	closed bool
	signal chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, signal: make(chan struct{}, 1)}
}

// push queues f. Returns false when the outbox is full or closed.
func (o *outbox) push(f wire.Frame) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.frames) >= o.limit {
		return false
	}
	o.append(f)
	return true
}

// pushReplay queues the catch-up frames of a joining member. They do not
// count against the limit.
func (o *outbox) pushReplay(frames []wire.Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	for _, f := range frames {
		o.append(f)
	}
}

func (o *outbox) append(f wire.Frame) {
	o.frames = append(o.frames, f)
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// pop returns the front frame. It returns false when empty or closed;
// frames still queued at close are discarded.
func (o *outbox) pop() (wire.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.frames) == 0 {
		return wire.Frame{}, false
	}
	f := o.frames[0]
	o.frames[0] = wire.Frame{}
	o.frames = o.frames[1:]
	return f, true
}

// wait is signalled after a push and closed by close.
func (o *outbox) wait() <-chan struct{} {
	return o.signal
}

// close discards queued frames. Returns false if already closed.
func (o *outbox) close() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.closed = true
	o.frames = nil
	close(o.signal)
	return true
}
