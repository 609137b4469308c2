package crdt

import (
	"fmt"
	"sync"
)

// ID identifies a single operation or element. Replica is the id of the
// replica that created it and Clock its Lamport time on that replica.
type ID struct {
	Replica string
	Clock   uint64
}

// IsZero reports whether id is the zero ID, which denotes "no origin"
// (the head of a sequence).
func (id ID) IsZero() bool {
	return id.Clock == 0 && id.Replica == ""
}

// Less orders IDs by clock, breaking ties by replica id.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Replica < other.Replica
}

// Next returns the ID n steps after id on the same replica.
func (id ID) Next(n uint64) ID {
	return ID{Replica: id.Replica, Clock: id.Clock + n}
}

func (id ID) String() string {
	if id.IsZero() {
		return "<head>"
	}
	return fmt.Sprintf("%s@%d", id.Replica, id.Clock)
}

// Clock is a Lamport clock for a single replica.
//
// Tick is used for local operations; Observe folds in remote timestamps so
// that every local operation is ordered after everything already seen.
type Clock struct {
	mu      sync.Mutex
	replica string
	counter uint64
}

// NewClock creates a clock for replica starting at 0.
func NewClock(replica string) *Clock {
	return &Clock{replica: replica}
}

// Replica returns the replica id stamped on every ID this clock issues.
func (c *Clock) Replica() string {
	return c.replica
}

// Tick advances the clock and returns the new ID.
func (c *Clock) Tick() ID {
	return c.Reserve(1)
}

// Reserve advances the clock by n and returns the first of the n IDs.
// Used for runs of text where each rune needs its own ID.
func (c *Clock) Reserve(n uint64) ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 {
		n = 1
	}
	first := c.counter + 1
	c.counter += n
	return ID{Replica: c.replica, Clock: first}
}

// Observe moves the clock forward to at least id.Clock.
func (c *Clock) Observe(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.Clock > c.counter {
		c.counter = id.Clock
	}
}

// Current returns the current counter without advancing it.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Reset sets the counter back to v. Only used to undo a discarded
// transaction, so v is always a value previously returned by Current.
func (c *Clock) Reset(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter = v
}
