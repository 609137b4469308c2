// Package session runs one replica of a workspace against a relay.
//
// A Session owns a document, the file tree engine over it, the presence
// registry and the local view state. Every mutation, inbound frame and
// heartbeat goes through one FIFO queue drained by Run, so the document is
// only ever written from a single goroutine. The exported helpers submit
// work to that queue and wait for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/filetree"
	"github.com/roach88/codesync/internal/model"
	"github.com/roach88/codesync/internal/presence"
	"github.com/roach88/codesync/internal/projection"
	"github.com/roach88/codesync/internal/templates"
	"github.com/roach88/codesync/internal/transport"
	"github.com/roach88/codesync/internal/viewstate"
	"github.com/roach88/codesync/internal/wire"
)

var (
	// ErrStopped is returned by helpers once Run has returned.
	ErrStopped = errors.New("session: not running")
	// ErrDisconnected is returned by Run when the relay closes the connection.
	ErrDisconnected = errors.New("session: relay connection closed")
)

// Options configures a Session.
type Options struct {
	Workspace string
	// Token is passed to the relay in Hello.
	Token string
	// Identity is the presence identity. Zero picks a random one.
	Identity presence.Identity
	// Heartbeat and PresenceTTL default to the presence package values.
	Heartbeat   time.Duration
	PresenceTTL time.Duration
	// Seed writes the default project into the workspace after the first
	// sync if the tree is empty.
	Seed bool

	Clock   clockwork.Clock
	IDs     filetree.IDGenerator
	Catalog *templates.Catalog
}

// NewSessionID returns a fresh time-ordered session id. It doubles as the
// replica id of the session's document.
func NewSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session is one connected replica.
type Session struct {
	id   string
	opts Options
	conn transport.Conn

	doc      *doc.Doc
	tree     *filetree.Tree
	presence *presence.Registry
	proj     *projection.Projector
	// view is only touched from the loop.
	view *viewstate.Store

	queue   *eventQueue
	outbox  []wire.Frame
	running atomic.Bool
	done    chan struct{}

	synced   chan struct{}
	syncOnce sync.Once
}

// New creates a session over conn. Nothing is sent until Run.
func New(conn transport.Conn, opts Options) *Session {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = presence.DefaultHeartbeat
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = presence.DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Identity == (presence.Identity{}) {
		opts.Identity = presence.RandomIdentity(rand.New(rand.NewSource(opts.Clock.Now().UnixNano())))
	}

	var treeOpts []filetree.Option
	if opts.IDs != nil {
		treeOpts = append(treeOpts, filetree.WithIDGenerator(opts.IDs))
	}
	if opts.Catalog != nil {
		treeOpts = append(treeOpts, filetree.WithCatalog(opts.Catalog))
	}

	id := NewSessionID()
	d := doc.New(id)
	s := &Session{
		id:       id,
		opts:     opts,
		conn:     conn,
		doc:      d,
		tree:     filetree.New(d, treeOpts...),
		presence: presence.NewRegistry(id, opts.Clock, opts.PresenceTTL),
		proj:     projection.New(d),
		view:     viewstate.NewStore(),
		queue:    newEventQueue(),
		done:     make(chan struct{}),
		synced:   make(chan struct{}),
	}
	d.Observe(s.onDocEvent)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Workspace returns the workspace id.
func (s *Session) Workspace() string { return s.opts.Workspace }

// Synced is closed once the relay has delivered the workspace state.
func (s *Session) Synced() <-chan struct{} { return s.synced }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Projector publishes tree snapshots as the document changes.
func (s *Session) Projector() *projection.Projector { return s.proj }

// Peers lists everyone present in the workspace, this session first.
func (s *Session) Peers() []presence.Peer { return s.presence.List() }

// Online is the number of sessions present, including this one.
func (s *Session) Online() int { return s.presence.Count() }

// Run processes events until ctx is done or the relay goes away. It closes
// the connection on return and can only be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session: already running")
	}
	defer close(s.done)
	defer s.queue.Close()
	defer s.proj.Close()
	defer s.conn.Close()

	hello := wire.EncodeHello(wire.Hello{Session: s.id, Token: s.opts.Token})
	if err := s.conn.Send(ctx, wire.Frame{Type: wire.FrameHello, Workspace: s.opts.Workspace, Payload: hello}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	s.outbox = append(s.outbox, s.awareness(s.presence.SetLocal(s.opts.Identity)))
	s.flush(ctx)

	go s.pump()
	go s.heartbeat(ctx)

	slog.Info("session starting", "workspace", s.opts.Workspace, "session", s.id, "name", s.opts.Identity.Name)
	for {
		e, ok := s.queue.TryDequeue()
		if ok {
			if err := s.process(e); err != nil {
				slog.Info("session stopping", "session", s.id, "reason", err)
				return err
			}
			s.flush(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("session stopping: context cancelled", "session", s.id)
			return ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// pump moves inbound frames onto the queue until the connection closes.
func (s *Session) pump() {
	for f := range s.conn.Frames() {
		s.queue.Enqueue(Event{Type: EventFrame, Frame: f})
	}
	s.queue.Enqueue(Event{Type: EventDisconnected})
}

func (s *Session) heartbeat(ctx context.Context) {
	ticker := s.opts.Clock.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.Chan():
			s.queue.Enqueue(Event{Type: EventTick})
		}
	}
}

// process handles one event. Called only from Run.
func (s *Session) process(e Event) error {
	switch e.Type {
	case EventFrame:
		s.handleFrame(e.Frame)
	case EventCommand:
		e.Command()
	case EventTick:
		s.outbox = append(s.outbox, s.awareness(s.presence.Heartbeat()))
		for _, id := range s.presence.Expire() {
			slog.Debug("presence expired", "session", s.id, "peer", id)
		}
	case EventDisconnected:
		return ErrDisconnected
	default:
		slog.Warn("unknown event type", "type", int(e.Type))
	}
	return nil
}

func (s *Session) handleFrame(f wire.Frame) {
	switch f.Type {
	case wire.FrameUpdate:
		u, err := doc.DecodeUpdate(f.Payload)
		if err != nil {
			slog.Warn("dropping undecodable update", "session", s.id, "error", err)
			return
		}
		if err := s.doc.ApplyUpdate(u); err != nil {
			slog.Warn("apply update failed", "session", s.id, "origin", u.Origin, "error", err)
		}

	case wire.FrameSyncDone:
		if s.doc.Synced() {
			return
		}
		s.doc.MarkSynced()
		if s.opts.Seed {
			if _, err := s.tree.SeedIfEmpty(); err != nil {
				slog.Error("seeding workspace failed", "session", s.id, "error", err)
			}
		}
		s.syncOnce.Do(func() { close(s.synced) })

	case wire.FrameAwareness:
		st, err := wire.DecodeAwareness(f.Payload)
		if err != nil {
			slog.Warn("dropping undecodable awareness", "session", s.id, "error", err)
			return
		}
		s.presence.Apply(st)

	case wire.FrameAwarenessRemove:
		s.presence.Remove(string(f.Payload))

	default:
		slog.Debug("ignoring frame", "session", s.id, "type", f.Type.String())
	}
}

// onDocEvent queues local updates for the relay, removes content orphaned
// by remote merges and prunes tabs of nodes that disappeared. Document
// events fire on the loop goroutine.
func (s *Session) onDocEvent(ev doc.Event) {
	if ev.Origin == doc.OriginLocal && ev.Update != nil {
		s.outbox = append(s.outbox, wire.Frame{
			Type:      wire.FrameUpdate,
			Workspace: s.opts.Workspace,
			Payload:   doc.EncodeUpdate(ev.Update),
		})
	}
	if ev.Origin == doc.OriginRemote && (ev.TreeChanged() || len(ev.ContentSet) > 0) {
		if _, err := s.tree.PruneOrphans(); err != nil {
			slog.Warn("prune orphaned content", "session", s.id, "error", err)
		}
	}
	if ev.TreeChanged() {
		live := model.IDs(s.doc.Snapshot())
		s.view.Reconcile(func(id string) bool { return live[id] })
	}
}

func (s *Session) awareness(st presence.State) wire.Frame {
	return wire.Frame{Type: wire.FrameAwareness, Workspace: s.opts.Workspace, Payload: wire.EncodeAwareness(st)}
}

// flush sends queued frames. A failed send is logged; if the connection is
// gone the pump reports the disconnect.
func (s *Session) flush(ctx context.Context) {
	for i, f := range s.outbox {
		if err := s.conn.Send(ctx, f); err != nil {
			slog.Warn("send failed", "session", s.id, "type", f.Type.String(), "error", err)
		}
		s.outbox[i] = wire.Frame{}
	}
	s.outbox = s.outbox[:0]
}

// do runs fn on the loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !s.queue.Enqueue(Event{Type: EventCommand, Command: func() { fn(); close(ran) }}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Create adds a file or folder under parentID ("" for the root) and
// returns its id, or "" if the parent no longer exists.
func (s *Session) Create(ctx context.Context, parentID, name string, isFolder bool) (string, error) {
	var id string
	var err error
	if derr := s.do(ctx, func() { id, err = s.tree.Create(parentID, name, isFolder) }); derr != nil {
		return "", derr
	}
	return id, err
}

// Rename renames a node. Returns false if it no longer exists.
func (s *Session) Rename(ctx context.Context, id, name string) (bool, error) {
	var ok bool
	var err error
	if derr := s.do(ctx, func() { ok, err = s.tree.Rename(id, name) }); derr != nil {
		return false, derr
	}
	return ok, err
}

// Delete removes a node and everything under it.
func (s *Session) Delete(ctx context.Context, id string) (bool, error) {
	var ok bool
	var err error
	if derr := s.do(ctx, func() { ok, err = s.tree.Delete(id) }); derr != nil {
		return false, derr
	}
	return ok, err
}

// Find looks a node up by id.
func (s *Session) Find(ctx context.Context, id string) (model.Node, bool, error) {
	var n model.Node
	var ok bool
	err := s.do(ctx, func() { n, ok = s.tree.Find(id) })
	return n, ok, err
}

// Snapshot returns the current tree.
func (s *Session) Snapshot(ctx context.Context) ([]model.Node, error) {
	var nodes []model.Node
	err := s.do(ctx, func() { nodes = s.tree.Snapshot() })
	return nodes, err
}

// Content returns the text of a file.
func (s *Session) Content(ctx context.Context, id string) (string, bool, error) {
	var text string
	var ok bool
	err := s.do(ctx, func() { text, ok = s.doc.ContentString(id) })
	return text, ok, err
}

// Contents returns the text of every file, keyed by node id.
func (s *Session) Contents(ctx context.Context) (map[string]string, error) {
	var all map[string]string
	err := s.do(ctx, func() { all = s.doc.Contents() })
	return all, err
}

// InsertText inserts text at rune position pos of a file.
func (s *Session) InsertText(ctx context.Context, id string, pos int, text string) error {
	return s.edit(ctx, func(c doc.ContentMap) error { return c.InsertText(id, pos, text) })
}

// DeleteText removes count runes from a file starting at pos.
func (s *Session) DeleteText(ctx context.Context, id string, pos, count int) error {
	return s.edit(ctx, func(c doc.ContentMap) error { return c.DeleteText(id, pos, count) })
}

func (s *Session) edit(ctx context.Context, fn func(doc.ContentMap) error) error {
	var err error
	if derr := s.do(ctx, func() {
		_, err = s.doc.Transact(func(txn *doc.Txn) error { return fn(txn.Contents()) })
	}); derr != nil {
		return derr
	}
	return err
}

// OpenTab opens a file as the active tab. Folders and unknown ids leave the
// view unchanged.
func (s *Session) OpenTab(ctx context.Context, id string) (viewstate.State, error) {
	var st viewstate.State
	err := s.do(ctx, func() {
		if n, ok := s.tree.Find(id); ok && !n.IsFolder {
			st = s.view.Open(id)
			return
		}
		st = s.view.State()
	})
	return st, err
}

// Dispatch applies a view action.
func (s *Session) Dispatch(ctx context.Context, a viewstate.Action) (viewstate.State, error) {
	var st viewstate.State
	err := s.do(ctx, func() { st = s.view.Dispatch(a) })
	return st, err
}

// View returns the current view state.
func (s *Session) View(ctx context.Context) (viewstate.State, error) {
	var st viewstate.State
	err := s.do(ctx, func() { st = s.view.State() })
	return st, err
}
