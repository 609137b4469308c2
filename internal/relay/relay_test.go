package relay

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/auth"
	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/presence"
	"github.com/roach88/codesync/internal/store"
	"github.com/roach88/codesync/internal/transport"
	"github.com/roach88/codesync/internal/wire"
)

type client struct {
	t    *testing.T
	conn transport.Conn
	done chan error
}

func connect(t *testing.T, s *Server, workspace, session, token string) *client {
	t.Helper()
	local, remote := transport.Pipe()
	c := &client{t: t, conn: local, done: make(chan error, 1)}
	go func() { c.done <- s.Serve(context.Background(), remote) }()
	t.Cleanup(func() { local.Close() })

	hello := wire.EncodeHello(wire.Hello{Session: session, Token: token})
	require.NoError(t, local.Send(context.Background(), wire.Frame{Type: wire.FrameHello, Workspace: workspace, Payload: hello}))
	return c
}

func (c *client) next() wire.Frame {
	c.t.Helper()
	select {
	case f, ok := <-c.conn.Frames():
		require.True(c.t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for frame")
		return wire.Frame{}
	}
}

func (c *client) send(f wire.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.conn.Send(context.Background(), f))
}

func (c *client) waitSynced() []wire.Frame {
	c.t.Helper()
	var before []wire.Frame
	for {
		f := c.next()
		if f.Type == wire.FrameSyncDone {
			return before
		}
		before = append(before, f)
	}
}

func encodedUpdate(t *testing.T, replica, id string) []byte {
	t.Helper()
	d := doc.New(replica)
	u, err := d.Transact(func(txn *doc.Txn) error {
		return txn.Root().Append(doc.NodeSpec{ID: id, Name: id, Kind: doc.KindFile})
	})
	require.NoError(t, err)
	return doc.EncodeUpdate(u)
}

func TestRelay_ForwardsUpdatesAndReplaysLog(t *testing.T) {
	s := New(Options{})
	a := connect(t, s, "ws", "sa", "")
	assert.Empty(t, a.waitSynced())
	b := connect(t, s, "ws", "sb", "")
	assert.Empty(t, b.waitSynced())

	payload := encodedUpdate(t, "a", "file")
	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: payload})

	got := b.next()
	assert.Equal(t, wire.FrameUpdate, got.Type)
	assert.Equal(t, "ws", got.Workspace)
	assert.Equal(t, payload, got.Payload)

	late := connect(t, s, "ws", "sc", "")
	replayed := late.waitSynced()
	require.Len(t, replayed, 1)
	assert.Equal(t, payload, replayed[0].Payload)
}

func TestRelay_IsolatesWorkspaces(t *testing.T) {
	s := New(Options{})
	a := connect(t, s, "one", "sa", "")
	a.waitSynced()
	b := connect(t, s, "two", "sb", "")
	b.waitSynced()

	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: encodedUpdate(t, "a", "x")})
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.rooms["one"].log) == 1
	}, time.Second, 10*time.Millisecond)

	select {
	case f := <-b.conn.Frames():
		t.Fatalf("unexpected frame in other workspace: %v", f.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay_AwarenessAndRemoval(t *testing.T) {
	s := New(Options{})
	a := connect(t, s, "ws", "sa", "")
	a.waitSynced()

	st := presence.State{Session: "sa", Clock: 1, Identity: presence.Identity{Name: "AdaLovelace", Color: "#30bced"}}
	a.send(wire.Frame{Type: wire.FrameAwareness, Payload: wire.EncodeAwareness(st)})

	var b *client
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for m := range s.rooms["ws"].members {
			if m.awareness != nil {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	b = connect(t, s, "ws", "sb", "")
	replayed := b.waitSynced()
	require.Len(t, replayed, 1)
	got, err := wire.DecodeAwareness(replayed[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	a.conn.Close()
	removed := b.next()
	assert.Equal(t, wire.FrameAwarenessRemove, removed.Type)
	assert.Equal(t, "sa", string(removed.Payload))
	require.Eventually(t, func() bool { return s.Members("ws") == 1 }, time.Second, 10*time.Millisecond)
}

func TestRelay_DropsMalformedUpdates(t *testing.T) {
	s := New(Options{})
	a := connect(t, s, "ws", "sa", "")
	a.waitSynced()
	b := connect(t, s, "ws", "sb", "")
	b.waitSynced()

	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: []byte{0xff}})
	good := encodedUpdate(t, "a", "ok")
	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: good})

	assert.Equal(t, good, b.next().Payload)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.rejectedTotal.WithLabelValues("bad_update")))
}

func TestRelay_RequiresHelloFirst(t *testing.T) {
	s := New(Options{HelloTimeout: 50 * time.Millisecond})
	local, remote := transport.Pipe()
	defer local.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background(), remote) }()
	require.NoError(t, local.Send(context.Background(), wire.Frame{Type: wire.FrameUpdate, Workspace: "ws"}))

	err := <-errc
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeNoHello, re.Code)

	local2, remote2 := transport.Pipe()
	defer local2.Close()
	go func() { errc <- s.Serve(context.Background(), remote2) }()
	err = <-errc
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeNoHello, re.Code)
}

func TestRelay_TokenVerification(t *testing.T) {
	authority, err := auth.New([]byte("secret"))
	require.NoError(t, err)
	s := New(Options{Auth: authority})

	bad := connect(t, s, "ws", "s1", "nope")
	err = <-bad.done
	assert.True(t, IsUnauthorized(err))

	tok, err := authority.Issue("GraceHopper")
	require.NoError(t, err)
	good := connect(t, s, "ws", "s2", tok)
	good.waitSynced()
	assert.Equal(t, 1, s.Members("ws"))
}

func TestRelay_PersistsAcrossRestart(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer st.Close()

	payload := encodedUpdate(t, "a", "persisted")
	s1 := New(Options{Store: st})
	a := connect(t, s1, "ws", "sa", "")
	a.waitSynced()
	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: payload})
	a.send(wire.Frame{Type: wire.FrameUpdate, Payload: payload})
	require.Eventually(t, func() bool {
		n, _ := st.LastSeq(context.Background(), "ws")
		return n == 1
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s1.metrics.updatesDupes) == 1
	}, time.Second, 10*time.Millisecond)

	s2 := New(Options{Store: st})
	b := connect(t, s2, "ws", "sb", "")
	replayed := b.waitSynced()
	require.Len(t, replayed, 1)
	assert.Equal(t, payload, replayed[0].Payload)
}

func TestRelay_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Options{Registerer: reg})
	c := connect(t, s, "ws", "sa", "")
	c.waitSynced()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	n, err := testutil.GatherAndCount(reg, "codesync_relay_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelay_WebsocketHandler(t *testing.T) {
	s := New(Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx := context.Background()
	conn, err := transport.Dial(ctx, url, transport.DefaultSettings())
	require.NoError(t, err)
	defer conn.Close()

	c := &client{t: t, conn: conn}
	c.send(wire.Frame{Type: wire.FrameHello, Workspace: "ws", Payload: wire.EncodeHello(wire.Hello{Session: "s"})})
	assert.Empty(t, c.waitSynced())
}

func TestRelay_DisconnectsStalledMember(t *testing.T) {
	settings := transport.DefaultSettings()
	settings.WriteTimeout = 50 * time.Millisecond
	s := New(Options{Transport: settings, SendQueue: 8})

	a := connect(t, s, "ws", "sa", "")
	a.waitSynced()
	stalled := connect(t, s, "ws", "stalled", "")
	stalled.waitSynced()
	require.Equal(t, 2, s.Members("ws"))

	// stalled stops reading; its pipe buffer and send queue fill up.
	payload := encodedUpdate(t, "a", "file")
	for i := 0; i < 200; i++ {
		a.send(wire.Frame{Type: wire.FrameUpdate, Payload: payload})
	}

	require.Eventually(t, func() bool { return s.Members("ws") == 1 }, 2*time.Second, 10*time.Millisecond)
	evicted := testutil.ToFloat64(s.metrics.rejectedTotal.WithLabelValues("send_queue_full")) +
		testutil.ToFloat64(s.metrics.rejectedTotal.WithLabelValues("send_failed"))
	assert.Equal(t, float64(1), evicted)

	// Its connection is closed, not left open with a gap in the log.
	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-stalled.conn.Frames():
			closed = !ok
		case <-deadline:
			t.Fatal("stalled connection was never closed")
		}
	}

	// Other workspaces were never blocked, and the sender stays connected.
	other := connect(t, s, "other", "so", "")
	other.waitSynced()
	select {
	case err := <-a.done:
		t.Fatalf("sender disconnected: %v", err)
	default:
	}
}

func TestOutbox(t *testing.T) {
	o := newOutbox(2)
	frame := func(p string) wire.Frame { return wire.Frame{Type: wire.FrameUpdate, Payload: []byte(p)} }

	o.pushReplay([]wire.Frame{frame("r1"), frame("r2"), frame("r3")})
	assert.False(t, o.push(frame("x")), "replay counts toward the queued total")

	for _, want := range []string{"r1", "r2", "r3"} {
		f, ok := o.pop()
		require.True(t, ok)
		assert.Equal(t, want, string(f.Payload))
	}
	_, ok := o.pop()
	assert.False(t, ok)

	assert.True(t, o.push(frame("a")))
	assert.True(t, o.push(frame("b")))
	assert.False(t, o.push(frame("c")))

	assert.True(t, o.close())
	assert.False(t, o.close())
	_, ok = o.pop()
	assert.False(t, ok, "close discards queued frames")
	assert.False(t, o.push(frame("d")))
	for range o.wait() {
	}
}
