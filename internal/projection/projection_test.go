package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/filetree"
	"github.com/roach88/codesync/internal/testutil"
)

func TestProjector_TracksEvents(t *testing.T) {
	d := doc.New("a")
	tr := filetree.New(d, filetree.WithIDGenerator(testutil.NewSequentialIDs("")))
	p := New(d)
	defer p.Close()

	assert.Equal(t, uint64(0), p.Snapshot().Seq)
	assert.False(t, p.Snapshot().Synced)
	assert.Empty(t, p.Snapshot().Tree)

	dir, err := tr.Create("", "src", true)
	require.NoError(t, err)
	_, err = tr.Create(dir, "a.js", false)
	require.NoError(t, err)

	snap := <-p.Updates()
	assert.Equal(t, uint64(2), snap.Seq)
	require.Len(t, snap.Tree, 1)
	assert.Equal(t, 1, snap.FileCount())
	assert.Equal(t, snap, p.Snapshot())
}

func TestProjector_SyncedSignal(t *testing.T) {
	d := doc.New("a")
	p := New(d)
	defer p.Close()

	d.MarkSynced()
	snap := <-p.Updates()
	assert.True(t, snap.Synced)
	assert.Empty(t, snap.Tree)
}

func TestProjector_InitialStateOfPopulatedDoc(t *testing.T) {
	d := doc.New("a")
	tr := filetree.New(d)
	_, err := tr.Create("", "x.txt", false)
	require.NoError(t, err)

	p := New(d)
	defer p.Close()
	assert.Equal(t, uint64(1), p.Snapshot().Seq)
	assert.Len(t, p.Snapshot().Tree, 1)
}

func TestProjector_CloseStopsUpdates(t *testing.T) {
	d := doc.New("a")
	p := New(d)
	p.Close()
	p.Close()

	_, err := filetree.New(d).Create("", "x.txt", false)
	require.NoError(t, err)

	_, ok := <-p.Updates()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), p.Snapshot().Seq)
}
