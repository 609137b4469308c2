// Package projection turns document events into plain-data tree snapshots
// for presentation code.
package projection

import (
	"sync"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/model"
)

// Snapshot is a denormalized view of the document at one event.
type Snapshot struct {
	// Seq is the document event sequence the snapshot reflects.
	Seq uint64 `json:"seq"`
	// Synced is false until the initial state exchange completed; an empty
	// Tree before that means "not loaded", not "no files".
	Synced bool         `json:"synced"`
	Tree   []model.Node `json:"tree"`
}

// FileCount returns the number of files in the tree.
func (s Snapshot) FileCount() int {
	return len(model.FileIDs(s.Tree))
}

// Projector recomputes a Snapshot once per document event and publishes it
// on a channel that always holds the latest value.
type Projector struct {
	doc  *doc.Doc
	stop func()

	mu      sync.Mutex
	current Snapshot
	updates chan Snapshot
	closed  bool
}

// New creates a Projector subscribed to d.
func New(d *doc.Doc) *Projector {
	p := &Projector{
		doc:     d,
		updates: make(chan Snapshot, 1),
	}
	p.current = Snapshot{Seq: d.Seq(), Synced: d.Synced(), Tree: d.Snapshot()}
	p.stop = d.Observe(p.onEvent)
	return p
}

func (p *Projector) onEvent(ev doc.Event) {
	snap := Snapshot{Seq: ev.Seq, Synced: ev.Synced, Tree: p.doc.Snapshot()}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || snap.Seq < p.current.Seq {
		return
	}
	p.current = snap

	// Replace whatever the consumer has not picked up yet.
	select {
	case <-p.updates:
	default:
	}
	p.updates <- snap
}

// Snapshot returns the most recent snapshot.
func (p *Projector) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Updates delivers snapshots as events commit. A slow consumer only sees
// the latest one.
func (p *Projector) Updates() <-chan Snapshot {
	return p.updates
}

// Close unsubscribes from the document and closes Updates.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
	close(p.updates)
}
