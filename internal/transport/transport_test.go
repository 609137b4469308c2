package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codesync/internal/wire"
)

func recv(t *testing.T, c Conn) wire.Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Frame{}
	}
}

func TestPipe_DeliversInOrder(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, wire.Frame{Type: wire.FrameUpdate, Payload: []byte("1")}))
	require.NoError(t, a.Send(ctx, wire.Frame{Type: wire.FrameUpdate, Payload: []byte("2")}))
	require.NoError(t, b.Send(ctx, wire.Frame{Type: wire.FrameSyncDone}))

	assert.Equal(t, []byte("1"), recv(t, b).Payload)
	assert.Equal(t, []byte("2"), recv(t, b).Payload)
	assert.Equal(t, wire.FrameSyncDone, recv(t, a).Type)
}

func TestPipe_CloseEndsBothSides(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, b.Close())
	require.NoError(t, a.Close())

	_, ok := <-a.Frames()
	assert.False(t, ok)
	_, ok = <-b.Frames()
	assert.False(t, ok)
	assert.ErrorIs(t, a.Send(context.Background(), wire.Frame{Type: wire.FrameHello}), ErrClosed)
}

func TestPipe_SendRespectsContext(t *testing.T) {
	a, b := Pipe()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 64; i++ {
		require.NoError(t, a.Send(ctx, wire.Frame{Type: wire.FrameUpdate}))
	}
	cancel()
	assert.ErrorIs(t, a.Send(ctx, wire.Frame{Type: wire.FrameUpdate}), context.Canceled)
}

func TestWebsocket_RoundTrip(t *testing.T) {
	settings := DefaultSettings()
	settings.PingInterval = 50 * time.Millisecond
	settings.ReadTimeout = time.Second

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, settings)
		if err != nil {
			return
		}
		defer conn.Close()
		for f := range conn.Frames() {
			f.Workspace = "echo:" + f.Workspace
			if err := conn.Send(r.Context(), f); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx := context.Background()
	conn, err := Dial(ctx, url, settings)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, wire.Frame{Type: wire.FrameAwareness, Workspace: "w", Payload: []byte{1, 2}}))
	got := recv(t, conn)
	assert.Equal(t, "echo:w", got.Workspace)
	assert.Equal(t, []byte{1, 2}, got.Payload)

	// Survives several ping intervals with no traffic.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, conn.Send(ctx, wire.Frame{Type: wire.FrameHello}))
	assert.Equal(t, wire.FrameHello, recv(t, conn).Type)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", DefaultSettings())
	assert.Error(t, err)
}
