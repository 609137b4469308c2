package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/codesync/internal/wire"
)

// Settings tunes a websocket connection.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the silence tolerated from the peer. Pings are
	// sent every PingInterval, which must be shorter.
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingInterval:     10 * time.Second,
		SendBuffer:       64,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Dial opens a websocket connection to url.
func Dial(ctx context.Context, url string, s Settings) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSConn(ws, s), nil
}

// Accept upgrades an HTTP request to a websocket Conn.
func Accept(w http.ResponseWriter, r *http.Request, s Settings) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return newWSConn(ws, s), nil
}

type wsConn struct {
	ws       *websocket.Conn
	settings Settings
	send     chan []byte
	frames   chan wire.Frame
	done     chan struct{}
	once     sync.Once
}

func newWSConn(ws *websocket.Conn, s Settings) *wsConn {
	if s.SendBuffer <= 0 {
		s.SendBuffer = DefaultSettings().SendBuffer
	}
	c := &wsConn{
		ws:       ws,
		settings: s,
		send:     make(chan []byte, s.SendBuffer),
		frames:   make(chan wire.Frame, s.SendBuffer),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *wsConn) Send(ctx context.Context, f wire.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- f.Encode():
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Frames() <-chan wire.Frame {
	return c.frames
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *wsConn) writeLoop() {
	ping := time.NewTicker(c.settings.PingInterval)
	defer func() {
		ping.Stop()
		deadline := time.Now().Add(c.settings.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				// A write deadline cannot be recovered from.
				slog.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Debug("websocket ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *wsConn) readLoop() {
	defer func() {
		c.Close()
		close(c.frames)
	}()

	c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		if typ != websocket.BinaryMessage {
			continue
		}
		f, err := wire.Decode(msg)
		if err != nil {
			slog.Warn("dropping undecodable frame", "error", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}
