package doc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/model"
)

func recordEvents(d *Doc) *[]Event {
	var events []Event
	d.Observe(func(ev Event) { events = append(events, ev) })
	return &events
}

func mustTransact(t *testing.T, d *Doc, fn func(*Txn) error) *Update {
	t.Helper()
	u, err := d.Transact(fn)
	require.NoError(t, err)
	return u
}

func addFile(t *testing.T, d *Doc, parent Array, id, name, content string) {
	t.Helper()
	require.NoError(t, parent.Append(NodeSpec{ID: id, Name: name, Kind: KindFile}))
	require.NoError(t, parent.txn.Contents().Set(id, content))
}

func TestTransact_SingleEventPerCommit(t *testing.T) {
	d := New("a")
	events := recordEvents(d)

	u := mustTransact(t, d, func(txn *Txn) error {
		require.NoError(t, txn.Root().Append(NodeSpec{ID: "src", Name: "src", Kind: KindFolder}))
		src, ok := txn.Root().Get(0)
		require.True(t, ok)
		folder, ok := src.(Folder)
		require.True(t, ok)
		addFile(t, d, folder.Children(), "f1", "a.js", "let x")
		return nil
	})

	require.NotNil(t, u)
	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, OriginLocal, ev.Origin)
	assert.Equal(t, []string{"src", "f1"}, ev.Added)
	assert.Equal(t, []string{"f1"}, ev.ContentSet)
	assert.True(t, ev.TreeChanged())

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "src", snap[0].Name)
	require.Len(t, snap[0].Children, 1)
	assert.Equal(t, "a.js", snap[0].Children[0].Name)

	text, ok := d.ContentString("f1")
	assert.True(t, ok)
	assert.Equal(t, "let x", text)
}

func TestTransact_EmptyCommitsNothing(t *testing.T) {
	d := New("a")
	events := recordEvents(d)

	u, err := d.Transact(func(*Txn) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Empty(t, *events)
	assert.Equal(t, uint64(0), d.Seq())
}

func TestTransact_RollbackOnError(t *testing.T) {
	d := New("a")
	mustTransact(t, d, func(txn *Txn) error {
		addFile(t, d, txn.Root(), "keep", "keep.txt", "hello")
		return nil
	})
	before := d.EncodeState()
	events := recordEvents(d)
	boom := errors.New("boom")

	_, err := d.Transact(func(txn *Txn) error {
		addFile(t, d, txn.Root(), "gone", "gone.txt", "bye")
		require.NoError(t, txn.Root().Delete(0, 1))
		require.NoError(t, txn.Contents().Delete("keep"))
		require.NoError(t, txn.Contents().InsertText("gone", 0, "x"))
		return boom
	})

	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, *events)

	assert.Equal(t, []model.Node{{ID: "keep", Name: "keep.txt"}}, d.Snapshot())
	assert.Equal(t, []string{"keep"}, d.ContentKeys())
	assert.Equal(t, before.Ops, d.EncodeState().Ops)

	// The clock was rewound, so the next op reuses the discarded ids.
	u := mustTransact(t, d, func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "n", Name: "n", Kind: KindFile})
	})
	assert.Equal(t, before.Ops[len(before.Ops)-1].lastID().Next(1), u.Ops[0].ID)
}

func TestTransact_FailedOpAbortsEvenIfIgnored(t *testing.T) {
	d := New("a")
	_, err := d.Transact(func(txn *Txn) error {
		_ = txn.Root().Append(NodeSpec{ID: "x", Name: "x", Kind: KindFile})
		_ = txn.Root().Delete(3, 1)
		return nil
	})
	assert.True(t, IsAborted(err))
	assert.Empty(t, d.Snapshot())
}

func TestTransact_NestedFails(t *testing.T) {
	d := New("a")
	var inner error
	mustTransact(t, d, func(txn *Txn) error {
		_, inner = d.Transact(func(*Txn) error { return nil })
		return nil
	})
	assert.ErrorIs(t, inner, ErrTxnInProgress)
}

func TestObserve_HandlerMutationIsQueued(t *testing.T) {
	d := New("a")
	var seqs []uint64
	var depth, maxDepth int
	d.Observe(func(ev Event) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		seqs = append(seqs, ev.Seq)
		if ev.Seq == 1 {
			_, err := d.Transact(func(txn *Txn) error {
				return txn.Root().Append(NodeSpec{ID: "second", Name: "b", Kind: KindFile})
			})
			assert.NoError(t, err)
		}
		depth--
	})

	mustTransact(t, d, func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "first", Name: "a", Kind: KindFile})
	})

	assert.Equal(t, []uint64{1, 2}, seqs)
	assert.Equal(t, 1, maxDepth)
}

func TestObserve_Unsubscribe(t *testing.T) {
	d := New("a")
	calls := 0
	stop := d.Observe(func(Event) { calls++ })
	mustTransact(t, d, func(txn *Txn) error { return txn.Contents().Set("k", "") })
	stop()
	mustTransact(t, d, func(txn *Txn) error { return txn.Contents().Set("k2", "") })
	assert.Equal(t, 1, calls)
}

func TestApplyUpdate_ConcurrentRootInsertsConverge(t *testing.T) {
	a, b := New("a"), New("b")
	ua := mustTransact(t, a, func(txn *Txn) error {
		addFile(t, a, txn.Root(), "A", "a.txt", "")
		return nil
	})
	ub := mustTransact(t, b, func(txn *Txn) error {
		addFile(t, b, txn.Root(), "B", "b.txt", "")
		return nil
	})

	require.NoError(t, a.ApplyUpdate(ub))
	require.NoError(t, b.ApplyUpdate(ua))

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.Len(t, a.Snapshot(), 2)
	da, err := model.MembershipDigest(a.Snapshot())
	require.NoError(t, err)
	db, err := model.MembershipDigest(b.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Equal(t, []string{"A", "B"}, a.ContentKeys())
	assert.Equal(t, []string{"A", "B"}, b.ContentKeys())
}

func TestApplyUpdate_Idempotent(t *testing.T) {
	a, b := New("a"), New("b")
	u := mustTransact(t, a, func(txn *Txn) error {
		addFile(t, a, txn.Root(), "A", "a.txt", "body")
		return nil
	})
	events := recordEvents(b)

	require.NoError(t, b.ApplyUpdate(u))
	require.NoError(t, b.ApplyUpdate(u))
	require.NoError(t, b.ApplyUpdate(a.EncodeState()))

	assert.Len(t, *events, 1)
	assert.Equal(t, OriginRemote, (*events)[0].Origin)
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.Equal(t, a.Contents(), b.Contents())
}

func TestApplyUpdate_ParksMissingDependencies(t *testing.T) {
	a, b := New("a"), New("b")
	u1 := mustTransact(t, a, func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "dir", Name: "dir", Kind: KindFolder})
	})
	u2 := mustTransact(t, a, func(txn *Txn) error {
		e, _ := txn.Root().Get(0)
		addFile(t, a, e.(Folder).Children(), "f", "f.md", "# hi")
		return nil
	})

	// The content ops do not depend on the folder and integrate at once.
	require.NoError(t, b.ApplyUpdate(u2))
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 1, b.Pending())
	assert.True(t, b.HasContent("f"))

	require.NoError(t, b.ApplyUpdate(u1))
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	text, _ := b.ContentString("f")
	assert.Equal(t, "# hi", text)
}

func TestApplyUpdate_ConcurrentDeletesAreIdempotent(t *testing.T) {
	a, b := New("a"), New("b")
	seed := mustTransact(t, a, func(txn *Txn) error {
		addFile(t, a, txn.Root(), "x", "x.txt", "")
		return nil
	})
	require.NoError(t, b.ApplyUpdate(seed))

	del := func(d *Doc) *Update {
		return mustTransact(t, d, func(txn *Txn) error {
			require.NoError(t, txn.Contents().Delete("x"))
			return txn.Root().Delete(0, 1)
		})
	}
	da, db := del(a), del(b)
	seqA := a.Seq()
	events := recordEvents(a)
	require.NoError(t, a.ApplyUpdate(db))
	require.NoError(t, b.ApplyUpdate(da))

	// The second delete changes nothing, so a sees no event, but the op is
	// still kept for state transfer.
	assert.Empty(t, *events)
	assert.Equal(t, seqA, a.Seq())
	assert.Len(t, a.EncodeState().Ops, len(b.EncodeState().Ops))

	assert.Empty(t, a.Snapshot())
	assert.Empty(t, b.Snapshot())
	assert.False(t, a.HasContent("x"))
	assert.False(t, b.HasContent("x"))
}

func TestApplyUpdate_RenameRaceConverges(t *testing.T) {
	a, b := New("a"), New("b")
	seed := mustTransact(t, a, func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "n", Name: "orig", Kind: KindFile})
	})
	require.NoError(t, b.ApplyUpdate(seed))

	rename := func(d *Doc, name string) *Update {
		return mustTransact(t, d, func(txn *Txn) error {
			e, _ := txn.Root().Get(0)
			return e.(File).SetName(name)
		})
	}
	ra, rb := rename(a, "from-a"), rename(b, "from-b")
	require.NoError(t, a.ApplyUpdate(rb))
	require.NoError(t, b.ApplyUpdate(ra))

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	// Same clock on both sides; the higher replica id wins.
	assert.Equal(t, "from-b", a.Snapshot()[0].Name)
}

func TestApplyUpdate_DropsChildUnderFile(t *testing.T) {
	a := New("a")
	mustTransact(t, a, func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "file", Name: "f", Kind: KindFile})
	})

	bad := &Update{Origin: "evil", Ops: []Op{{
		Kind:     OpInsertNode,
		ID:       crdtID("evil", 1),
		Parent:   "file",
		NodeID:   "child",
		Name:     "c",
		NodeKind: KindFile,
	}}}
	require.NoError(t, a.ApplyUpdate(bad))
	assert.Equal(t, 0, a.Pending())
	assert.Len(t, a.Snapshot(), 1)
}

func TestSnapshot_SkipsUnknownKinds(t *testing.T) {
	a := New("a")
	require.NoError(t, a.ApplyUpdate(&Update{Origin: "future", Ops: []Op{{
		Kind:     OpInsertNode,
		ID:       crdtID("future", 1),
		NodeID:   "sym",
		Name:     "link",
		NodeKind: Kind(9),
	}}}))
	assert.Empty(t, a.Snapshot())

	_, err := a.Transact(func(txn *Txn) error {
		e, ok := txn.Root().Get(0)
		require.True(t, ok)
		m, ok := e.(Malformed)
		require.True(t, ok)
		assert.Contains(t, m.Reason(), "unknown node kind")
		return nil
	})
	require.NoError(t, err)
}

func TestContent_TextEditsMerge(t *testing.T) {
	a, b := New("a"), New("b")
	seed := mustTransact(t, a, func(txn *Txn) error { return txn.Contents().Set("k", "ac") })
	require.NoError(t, b.ApplyUpdate(seed))

	ua := mustTransact(t, a, func(txn *Txn) error { return txn.Contents().InsertText("k", 1, "b") })
	ub := mustTransact(t, b, func(txn *Txn) error {
		if err := txn.Contents().InsertText("k", 2, "d"); err != nil {
			return err
		}
		return txn.Contents().DeleteText("k", 0, 1)
	})
	require.NoError(t, a.ApplyUpdate(ub))
	require.NoError(t, b.ApplyUpdate(ua))

	sa, _ := a.ContentString("k")
	sb, _ := b.ContentString("k")
	assert.Equal(t, "bcd", sa)
	assert.Equal(t, sa, sb)
}

func TestMarkSynced(t *testing.T) {
	d := New("a")
	events := recordEvents(d)
	assert.False(t, d.Synced())

	d.MarkSynced()
	d.MarkSynced()

	assert.True(t, d.Synced())
	require.Len(t, *events, 1)
	assert.Equal(t, OriginSync, (*events)[0].Origin)
	assert.True(t, (*events)[0].Synced)
}

func TestTransact_PanicRollsBack(t *testing.T) {
	d := New("a")
	events := recordEvents(d)

	assert.Panics(t, func() {
		_, _ = d.Transact(func(txn *Txn) error {
			require.NoError(t, txn.Root().Append(NodeSpec{ID: "n", Name: "n", Kind: KindFile}))
			panic("boom")
		})
	})
	assert.Empty(t, d.Snapshot())
	assert.Empty(t, *events)
	assert.Empty(t, d.EncodeState().Ops)

	// The document is still usable.
	u, err := d.Transact(func(txn *Txn) error {
		return txn.Root().Append(NodeSpec{ID: "m", Name: "m", Kind: KindFile})
	})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Len(t, d.Snapshot(), 1)
	assert.Len(t, *events, 1)
}
