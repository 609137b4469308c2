// Package testutil holds deterministic helpers shared by tests across
// packages.
package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs issues "<prefix>1", "<prefix>2", ... so that scenarios and
// golden files are byte-identical between runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "n".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "n"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
