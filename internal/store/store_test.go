package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/doc"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	_, _, err = s1.AppendUpdate(context.Background(), "ws", "a", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	entries, err := s2.ReadUpdates(context.Background(), "ws", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendUpdate_AssignsSeqPerWorkspace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, ok, err := s.AppendUpdate(ctx, "ws1", "a", []byte("one"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), seq)

	seq, _, err = s.AppendUpdate(ctx, "ws1", "b", []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	seq, _, err = s.AppendUpdate(ctx, "ws2", "a", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	ids, err := s.Workspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1", "ws2"}, ids)
}

func TestAppendUpdate_DuplicateIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.AppendUpdate(ctx, "ws", "a", []byte("same"))
	require.NoError(t, err)
	_, _, err = s.AppendUpdate(ctx, "ws", "a", []byte("other"))
	require.NoError(t, err)
	seq, ok, err := s.AppendUpdate(ctx, "ws", "a", []byte("same"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), seq)

	last, err := s.LastSeq(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestReadUpdates_After(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_, _, err := s.AppendUpdate(ctx, "ws", "r", []byte(p))
		require.NoError(t, err)
	}

	entries, err := s.ReadUpdates(ctx, "ws", 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("b"), entries[0].Payload)
	assert.Equal(t, int64(3), entries[1].Seq)
	assert.Len(t, entries[0].Digest, 64)

	none, err := s.ReadUpdates(ctx, "missing", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	last, err := s.LastSeq(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestReplay_RebuildsDocument(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	src := doc.New("a")
	src.Observe(func(ev doc.Event) {
		if ev.Update != nil {
			_, _, err := s.AppendUpdate(ctx, "ws", ev.Update.Origin, doc.EncodeUpdate(ev.Update))
			require.NoError(t, err)
		}
	})
	_, err := src.Transact(func(txn *doc.Txn) error {
		if err := txn.Root().Append(doc.NodeSpec{ID: "f", Name: "f.txt", Kind: doc.KindFile}); err != nil {
			return err
		}
		return txn.Contents().Set("f", "hello")
	})
	require.NoError(t, err)
	_, err = src.Transact(func(txn *doc.Txn) error {
		return txn.Contents().InsertText("f", 5, " world")
	})
	require.NoError(t, err)

	dst := doc.New("b")
	n, err := s.Replay(ctx, "ws", dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, src.Snapshot(), dst.Snapshot())
	text, _ := dst.ContentString("f")
	assert.Equal(t, "hello world", text)
}

func TestReplay_CorruptPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, _, err := s.AppendUpdate(ctx, "ws", "a", []byte{0xff})
	require.NoError(t, err)

	_, err = s.Replay(ctx, "ws", doc.New("b"))
	require.Error(t, err)
	assert.True(t, doc.IsMalformed(err))
}
