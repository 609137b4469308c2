package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/doc"
)

// Exchange applies the full state of every replica to every other replica,
// as a relay would after a partition heals.
func Exchange(t testing.TB, replicas ...*doc.Doc) {
	t.Helper()
	states := make([]*doc.Update, len(replicas))
	for i, r := range replicas {
		states[i] = r.EncodeState()
	}
	for i, r := range replicas {
		for j, st := range states {
			if i == j {
				continue
			}
			require.NoError(t, r.ApplyUpdate(st))
		}
	}
}

// Pipe forwards every local update committed on from to each of to, and
// returns a func that stops forwarding.
func Pipe(from *doc.Doc, to ...*doc.Doc) func() {
	return from.Observe(func(ev doc.Event) {
		if ev.Origin != doc.OriginLocal || ev.Update == nil {
			return
		}
		for _, d := range to {
			_ = d.ApplyUpdate(ev.Update)
		}
	})
}
