// Package transport moves wire frames between a session and the relay.
// Delivery is ordered per connection; there is no retry or replay here.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/codesync/internal/wire"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional frame stream.
type Conn interface {
	// Send queues f for delivery.
	Send(ctx context.Context, f wire.Frame) error
	// Frames delivers inbound frames in order. It is closed when the
	// connection ends, from either side.
	Frames() <-chan wire.Frame
	// Close ends the connection. Safe to call more than once.
	Close() error
}

// Pipe returns two connected in-memory Conns. Frames sent on one arrive on
// the other, encoded and decoded as they would be on a network connection.
func Pipe() (Conn, Conn) {
	ab := make(chan wire.Frame, 64)
	ba := make(chan wire.Frame, 64)
	done := make(chan struct{})
	link := &pipeLink{done: done}
	a := &pipeConn{link: link, in: ba, out: ab}
	b := &pipeConn{link: link, in: ab, out: ba}
	return a, b
}

type pipeLink struct {
	once sync.Once
	mu   sync.RWMutex
	done chan struct{}
}

func (l *pipeLink) close(chans ...chan wire.Frame) {
	l.once.Do(func() {
		// done first, so a Send blocked on a full buffer lets go of mu.
		close(l.done)
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, c := range chans {
			close(c)
		}
	})
}

type pipeConn struct {
	link *pipeLink
	in   chan wire.Frame
	out  chan wire.Frame
}

func (c *pipeConn) Send(ctx context.Context, f wire.Frame) error {
	// Round-trip through the codec so tests exercise the real encoding.
	decoded, err := wire.Decode(f.Encode())
	if err != nil {
		return err
	}

	c.link.mu.RLock()
	defer c.link.mu.RUnlock()
	select {
	case <-c.link.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- decoded:
		return nil
	case <-c.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Frames() <-chan wire.Frame {
	return c.in
}

func (c *pipeConn) Close() error {
	c.link.close(c.in, c.out)
	return nil
}
