// Package relay fans document updates and presence out to every session in
// a workspace. It never interprets ops beyond checking they decode: merging
// happens on the replicas.
//
// A session connects, sends Hello naming its workspace, receives the
// workspace log followed by SyncDone, and from then on sees every Update and
// Awareness frame other members send. When a connection ends the relay
// announces AwarenessRemove for its session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/codesync/internal/auth"
	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/store"
	"github.com/roach88/codesync/internal/transport"
	"github.com/roach88/codesync/internal/wire"
)

// DefaultHelloTimeout bounds how long a new connection may stay silent.
const DefaultHelloTimeout = 10 * time.Second

// Error codes for rejected connections and frames.
const (
	ErrCodeNoHello      = "NO_HELLO"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeBadUpdate    = "BAD_UPDATE"
	ErrCodeStore        = "STORE"
)

// Error is returned by Serve when a connection is rejected.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a rejected token.
func IsUnauthorized(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == ErrCodeUnauthorized
}

// Options configures a Server.
type Options struct {
	// Store persists workspace logs. Nil keeps logs in memory only.
	Store *store.Store
	// Auth, when set, requires every Hello to carry a valid token.
	Auth *auth.Authority
	// Registerer receives the relay metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// HelloTimeout overrides DefaultHelloTimeout.
	HelloTimeout time.Duration
	// Transport tunes accepted websocket connections. Its WriteTimeout
	// also bounds every frame written to a member.
	Transport transport.Settings
	// SendQueue overrides DefaultSendQueue.
	SendQueue int
}

// Server is the relay.
type Server struct {
	opts     Options
	metrics  *metrics
	gatherer prometheus.Gatherer

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	workspace string
	// log holds encoded updates when there is no store.
	log     [][]byte
	members map[*member]struct{}
}

type member struct {
	conn    transport.Conn
	out     *outbox
	session string
	// awareness is the member's last Awareness payload, replayed to
	// sessions that join later.
	awareness []byte
}

// New creates a relay.
func New(opts Options) *Server {
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = DefaultHelloTimeout
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.Transport == (transport.Settings{}) {
		opts.Transport = transport.DefaultSettings()
	}
	s := &Server{opts: opts, rooms: make(map[string]*room)}

	reg := opts.Registerer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, s.gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		s.gatherer = g
	}
	s.metrics = newMetrics(reg)
	return s
}

// Handler serves websocket sessions on /ws and metrics on /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Accept(w, r, s.opts.Transport)
		if err != nil {
			slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		if err := s.Serve(r.Context(), conn); err != nil {
			slog.Info("session rejected", "remote", r.RemoteAddr, "error", err)
		}
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve runs one session connection until it closes or ctx is done. It
// always closes conn.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) error {
	defer conn.Close()
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()

	hello, workspace, err := s.awaitHello(ctx, conn)
	if err != nil {
		return err
	}

	m := &member{conn: conn, out: newOutbox(s.opts.SendQueue), session: hello.Session}
	r, err := s.join(ctx, workspace, m)
	if err != nil {
		return err
	}
	defer s.leave(r, m)
	go s.write(ctx, r, m)

	slog.Info("session joined", "workspace", workspace, "session", m.session)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-conn.Frames():
			if !ok {
				return nil
			}
			s.metrics.framesTotal.WithLabelValues(f.Type.String()).Inc()
			s.handle(ctx, r, m, f)
		}
	}
}

func (s *Server) awaitHello(ctx context.Context, conn transport.Conn) (wire.Hello, string, error) {
	timer := time.NewTimer(s.opts.HelloTimeout)
	defer timer.Stop()

	var f wire.Frame
	select {
	case <-ctx.Done():
		return wire.Hello{}, "", ctx.Err()
	case <-timer.C:
		s.metrics.rejectedTotal.WithLabelValues("hello_timeout").Inc()
		return wire.Hello{}, "", &Error{Code: ErrCodeNoHello, Message: "no hello before timeout"}
	case got, ok := <-conn.Frames():
		if !ok {
			return wire.Hello{}, "", &Error{Code: ErrCodeNoHello, Message: "connection closed before hello"}
		}
		f = got
	}

	if f.Type != wire.FrameHello || f.Workspace == "" {
		s.metrics.rejectedTotal.WithLabelValues("no_hello").Inc()
		return wire.Hello{}, "", &Error{Code: ErrCodeNoHello, Message: fmt.Sprintf("first frame is %s", f.Type)}
	}
	hello, err := wire.DecodeHello(f.Payload)
	if err != nil {
		s.metrics.rejectedTotal.WithLabelValues("no_hello").Inc()
		return wire.Hello{}, "", &Error{Code: ErrCodeNoHello, Message: "undecodable hello", Err: err}
	}
	if s.opts.Auth != nil {
		if _, err := s.opts.Auth.Verify(hello.Token); err != nil {
			s.metrics.rejectedTotal.WithLabelValues("unauthorized").Inc()
			return wire.Hello{}, "", &Error{Code: ErrCodeUnauthorized, Message: "token rejected", Err: err}
		}
	}
	return hello, f.Workspace, nil
}

// join queues the workspace log for m and adds it to the room. Both happen
// under the server lock so no update slips between replay and membership.
func (s *Server) join(ctx context.Context, workspace string, m *member) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[workspace]
	if !ok {
		r = &room{workspace: workspace, members: make(map[*member]struct{})}
		s.rooms[workspace] = r
		s.metrics.rooms.Inc()
	}

	payloads := r.log
	if s.opts.Store != nil {
		entries, err := s.opts.Store.ReadUpdates(ctx, workspace, 0)
		if err != nil {
			s.dropIfEmpty(r)
			return nil, &Error{Code: ErrCodeStore, Message: "read workspace log", Err: err}
		}
		payloads = make([][]byte, 0, len(entries))
		for _, e := range entries {
			payloads = append(payloads, e.Payload)
		}
	}

	frames := make([]wire.Frame, 0, len(payloads)+len(r.members)+1)
	for _, p := range payloads {
		frames = append(frames, wire.Frame{Type: wire.FrameUpdate, Workspace: workspace, Payload: p})
	}
	s.metrics.replayedFrames.Add(float64(len(payloads)))
	for other := range r.members {
		if other.awareness == nil {
			continue
		}
		frames = append(frames, wire.Frame{Type: wire.FrameAwareness, Workspace: workspace, Payload: other.awareness})
	}
	frames = append(frames, wire.Frame{Type: wire.FrameSyncDone, Workspace: workspace})
	m.out.pushReplay(frames)

	r.members[m] = struct{}{}
	return r, nil
}

// write drains m's outbox onto its connection until the outbox closes. A
// write that fails or exceeds the write timeout closes the connection, so
// the session reconnects and resyncs instead of missing an update.
func (s *Server) write(ctx context.Context, r *room, m *member) {
	for {
		f, ok := m.out.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case _, open := <-m.out.wait():
				if !open {
					return
				}
			}
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.opts.Transport.WriteTimeout)
		err := m.conn.Send(sendCtx, f)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.evict(r, m, "send_failed", err)
				s.mu.Unlock()
			}
			return
		}
	}
}

// evict disconnects a member that cannot take more frames. Its Serve loop
// sees the closed connection and leaves the room. Callers hold s.mu.
func (s *Server) evict(r *room, m *member, reason string, err error) {
	if !m.out.close() {
		return
	}
	s.metrics.rejectedTotal.WithLabelValues(reason).Inc()
	slog.Warn("disconnecting session", "workspace", r.workspace, "session", m.session, "reason", reason, "error", err)
	if cerr := m.conn.Close(); cerr != nil {
		slog.Debug("close evicted connection", "session", m.session, "error", cerr)
	}
}

func (s *Server) leave(r *room, m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(r.members, m)
	m.out.close()
	if m.session != "" {
		s.broadcast(r, m, wire.Frame{
			Type:      wire.FrameAwarenessRemove,
			Workspace: r.workspace,
			Payload:   []byte(m.session),
		})
	}
	s.dropIfEmpty(r)
	slog.Info("session left", "workspace", r.workspace, "session", m.session)
}

// dropIfEmpty forgets a room with no members, unless the room itself holds
// the only copy of the log. Callers hold s.mu.
func (s *Server) dropIfEmpty(r *room) {
	if len(r.members) > 0 || (s.opts.Store == nil && len(r.log) > 0) {
		return
	}
	if s.rooms[r.workspace] == r {
		delete(s.rooms, r.workspace)
		s.metrics.rooms.Dec()
	}
}

func (s *Server) handle(ctx context.Context, r *room, m *member, f wire.Frame) {
	f.Workspace = r.workspace
	switch f.Type {
	case wire.FrameUpdate:
		u, err := doc.DecodeUpdate(f.Payload)
		if err != nil {
			s.metrics.rejectedTotal.WithLabelValues("bad_update").Inc()
			slog.Warn("dropping undecodable update", "workspace", r.workspace, "session", m.session, "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.opts.Store != nil {
			_, appended, err := s.opts.Store.AppendUpdate(ctx, r.workspace, u.Origin, f.Payload)
			if err != nil {
				slog.Error("failed to persist update", "workspace", r.workspace, "error", err)
				return
			}
			if !appended {
				s.metrics.updatesDupes.Inc()
				return
			}
			s.metrics.updatesStored.Inc()
		} else {
			r.log = append(r.log, f.Payload)
		}
		s.broadcast(r, m, f)

	case wire.FrameAwareness:
		st, err := wire.DecodeAwareness(f.Payload)
		if err != nil {
			slog.Warn("dropping undecodable awareness", "workspace", r.workspace, "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		m.session = st.Session
		m.awareness = f.Payload
		s.broadcast(r, m, f)

	default:
		slog.Debug("ignoring frame", "workspace", r.workspace, "type", f.Type.String())
	}
}

// broadcast queues f for every member of r except from. Callers hold s.mu.
// A member whose outbox is full is disconnected rather than skipped.
func (s *Server) broadcast(r *room, from *member, f wire.Frame) {
	for other := range r.members {
		if other == from {
			continue
		}
		if !other.out.push(f) {
			s.evict(r, other, "send_queue_full", nil)
		}
	}
}

// Members returns the number of connected sessions in workspace.
func (s *Server) Members(workspace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[workspace]; ok {
		return len(r.members)
	}
	return 0
}
