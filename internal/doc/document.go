package doc

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/codesync/internal/crdt"
	"github.com/roach88/codesync/internal/model"
)

// Origin says where the ops of an Event came from.
type Origin int

const (
	// OriginLocal: a Transact on this replica.
	OriginLocal Origin = iota + 1
	// OriginRemote: an ApplyUpdate from another replica.
	OriginRemote
	// OriginSync: a local state change with no ops (the synced flag).
	OriginSync
)

// Event is the single notification for one committed transaction.
type Event struct {
	// Seq increases by one per event on this document.
	Seq    uint64
	Origin Origin

	// Update holds the ops that were applied, nil for OriginSync.
	Update *Update

	// Node ids touched in the tree. A removed folder is listed once;
	// its descendants are implied.
	Added   []string
	Removed []string
	Renamed []string

	// Content keys touched.
	ContentSet     []string
	ContentDeleted []string
	ContentEdited  []string

	// Synced is the synced flag at commit time.
	Synced bool
}

func (e Event) changed() bool {
	return e.TreeChanged() || len(e.ContentSet) > 0 || len(e.ContentDeleted) > 0 || len(e.ContentEdited) > 0
}

// TreeChanged reports whether the tree structure or any name changed.
func (e Event) TreeChanged() bool {
	return len(e.Added) > 0 || len(e.Removed) > 0 || len(e.Renamed) > 0
}

type node struct {
	id       string
	kind     Kind
	elem     crdt.ID
	parent   string
	name     *crdt.Register[string]
	children *crdt.Sequence[*node]
}

// Doc is one replica of a workspace document.
type Doc struct {
	mu      sync.Mutex
	active  atomic.Bool
	replica string
	clock   *crdt.Clock

	root     *crdt.Sequence[*node]
	nodes    map[string]*node
	contents *crdt.Map[*crdt.Text]
	texts    map[crdt.ID]*crdt.Text

	seen    map[crdt.ID]bool
	log     []Op
	pending []Op
	seq     uint64
	synced  bool

	obsMu       sync.Mutex
	observers   map[int]func(Event)
	nextObs     int
	queue       []Event
	dispatching bool
}

// New creates an empty document for replica. The replica id must be unique
// among every replica of the workspace, ever.
func New(replica string) *Doc {
	return &Doc{
		replica:   replica,
		clock:     crdt.NewClock(replica),
		root:      crdt.NewSequence[*node](),
		nodes:     make(map[string]*node),
		contents:  crdt.NewMap[*crdt.Text](),
		texts:     make(map[crdt.ID]*crdt.Text),
		seen:      make(map[crdt.ID]bool),
		observers: make(map[int]func(Event)),
	}
}

// Replica returns the replica id.
func (d *Doc) Replica() string {
	return d.replica
}

// Transact runs fn as one atomic transaction. If fn returns an error every
// op it applied is undone, nothing is observed and the error is returned
// wrapped as ErrCodeTxnAborted. A panic in fn is rolled back the same way
// and then propagated. A transaction that applies no ops commits nothing
// and returns a nil Update.
func (d *Doc) Transact(fn func(*Txn) error) (*Update, error) {
	if !d.active.CompareAndSwap(false, true) {
		return nil, ErrTxnInProgress
	}
	update, ev, err := d.runTxn(fn)
	if update != nil {
		d.emit(ev)
	}
	return update, err
}

func (d *Doc) runTxn(fn func(*Txn) error) (update *Update, ev Event, err error) {
	d.mu.Lock()
	defer func() {
		d.mu.Unlock()
		d.active.Store(false)
	}()

	txn := &Txn{doc: d, ev: &Event{Origin: OriginLocal}}
	clockBefore := d.clock.Current()
	logBefore := len(d.log)
	done := false
	defer func() {
		if !done {
			txn.rollback()
			d.clock.Reset(clockBefore)
			d.log = d.log[:logBefore]
		}
	}()

	err = fn(txn)
	if err == nil {
		err = txn.err
	}
	if err != nil {
		return nil, Event{}, &Error{Code: ErrCodeTxnAborted, Message: "transaction rolled back", Err: err}
	}
	done = true

	if len(txn.ops) == 0 {
		return nil, Event{}, nil
	}
	update = &Update{Origin: d.replica, Ops: txn.ops}
	return update, d.commit(txn.ev, update), nil
}

// ApplyUpdate integrates ops produced by another replica (or a full state
// dump). Ops already seen are skipped and ops with missing dependencies are
// parked until a later update supplies them. Malformed ops are dropped with
// a warning. At most one Event is emitted.
func (d *Doc) ApplyUpdate(u *Update) error {
	if u.Empty() {
		return nil
	}
	if !d.active.CompareAndSwap(false, true) {
		return ErrTxnInProgress
	}
	d.mu.Lock()

	ev := &Event{Origin: OriginRemote}
	applied := d.integrateAll(u.Ops, ev)

	// Ops that lost a race (a second delete of the same node, a losing
	// rename) are integrated but change nothing visible.
	if len(applied) == 0 || !ev.changed() {
		d.mu.Unlock()
		d.active.Store(false)
		return nil
	}
	committed := d.commit(ev, &Update{Origin: u.Origin, Ops: applied})
	d.mu.Unlock()
	d.active.Store(false)

	d.emit(committed)
	return nil
}

// integrateAll integrates work plus previously parked ops until no more
// progress is possible. Returns the ops that were applied.
func (d *Doc) integrateAll(ops []Op, ev *Event) []Op {
	work := make([]Op, 0, len(d.pending)+len(ops))
	work = append(work, ops...)
	work = append(work, d.pending...)
	d.pending = nil

	var applied []Op
	for len(work) > 0 {
		progress := false
		var parked []Op
		for _, op := range work {
			undo, err := d.integrate(op, ev)
			switch {
			case err == nil:
				if undo != nil {
					applied = append(applied, op)
					progress = true
				}
			case IsMissingDependency(err):
				parked = append(parked, op)
			default:
				slog.Warn("dropping op",
					"replica", d.replica,
					"op", op.Kind.String(),
					"id", op.ID.String(),
					"error", err,
				)
			}
		}
		work = parked
		if !progress {
			break
		}
	}
	d.pending = work
	if len(work) > 0 {
		slog.Debug("ops parked awaiting dependencies", "replica", d.replica, "count", len(work))
	}
	return applied
}

func (d *Doc) commit(ev *Event, update *Update) Event {
	d.seq++
	ev.Seq = d.seq
	ev.Update = update
	ev.Synced = d.synced
	return *ev
}

// MarkSynced records that the initial state exchange with the transport has
// completed. Emits one OriginSync event the first time it is called.
func (d *Doc) MarkSynced() {
	d.mu.Lock()
	if d.synced {
		d.mu.Unlock()
		return
	}
	d.synced = true
	d.seq++
	ev := Event{Seq: d.seq, Origin: OriginSync, Synced: true}
	d.mu.Unlock()
	d.emit(ev)
}

// Synced reports whether MarkSynced has been called. Before that an empty
// tree means "not loaded yet", not "no files".
func (d *Doc) Synced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synced
}

// Observe registers fn for every Event. The returned func unregisters it.
func (d *Doc) Observe(fn func(Event)) func() {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

// emit queues ev and, unless a dispatch is already running, delivers the
// queue in order. Handlers that commit new transactions append to the queue
// instead of recursing.
func (d *Doc) emit(ev Event) {
	d.obsMu.Lock()
	d.queue = append(d.queue, ev)
	if d.dispatching {
		d.obsMu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]

		ids := make([]int, 0, len(d.observers))
		for id := range d.observers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		handlers := make([]func(Event), 0, len(ids))
		for _, id := range ids {
			handlers = append(handlers, d.observers[id])
		}

		d.obsMu.Unlock()
		for _, h := range handlers {
			h(next)
		}
		d.obsMu.Lock()
	}
	d.dispatching = false
	d.obsMu.Unlock()
}

// Seq returns the sequence number of the last event.
func (d *Doc) Seq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// Pending returns how many remote ops are parked.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// EncodeState returns every op this replica has integrated, in integration
// order. Applying it to another replica brings that replica up to date.
func (d *Doc) EncodeState() *Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]Op, len(d.log))
	copy(ops, d.log)
	return &Update{Origin: d.replica, Ops: ops}
}

// Snapshot returns the live tree as plain data.
func (d *Doc) Snapshot() []model.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return snapshotSeq(d.root)
}

func snapshotSeq(seq *crdt.Sequence[*node]) []model.Node {
	out := []model.Node{}
	for _, e := range seq.Live() {
		n := e.Value
		switch n.kind {
		case KindFile:
			out = append(out, model.Node{ID: n.id, Name: n.name.Get()})
		case KindFolder:
			if n.children == nil {
				slog.Warn("snapshot: folder without children container", "node_id", n.id)
				continue
			}
			out = append(out, model.Node{
				ID:       n.id,
				Name:     n.name.Get(),
				IsFolder: true,
				Children: snapshotSeq(n.children),
			})
		default:
			slog.Warn("snapshot: skipping node of unknown kind", "node_id", n.id, "kind", n.kind.String())
		}
	}
	return out
}

// HasContent reports whether a live content entry exists for key.
func (d *Doc) HasContent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contents.Has(key)
}

// ContentString returns the text for key.
func (d *Doc) ContentString(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	txt, ok := d.contents.Get(key)
	if !ok {
		return "", false
	}
	return txt.String(), true
}

// ContentKeys returns every live content key, sorted.
func (d *Doc) ContentKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contents.Keys()
}

// Contents returns every live content entry rendered to a string.
func (d *Doc) Contents() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, d.contents.Len())
	for _, k := range d.contents.Keys() {
		txt, _ := d.contents.Get(k)
		out[k] = txt.String()
	}
	return out
}

// DeadContentKeys returns content keys whose node has been integrated but
// is not reachable from the live tree. This happens when a file is created
// inside a folder another replica deleted concurrently. Keys whose node has
// not arrived yet are not reported.
func (d *Doc) DeadContentKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := make(map[string]bool, len(d.nodes))
	liveIDs(d.root, live)

	var dead []string
	for _, k := range d.contents.Keys() {
		if _, known := d.nodes[k]; known && !live[k] {
			dead = append(dead, k)
		}
	}
	return dead
}

func liveIDs(seq *crdt.Sequence[*node], out map[string]bool) {
	for _, e := range seq.Live() {
		out[e.Value.id] = true
		if e.Value.children != nil {
			liveIDs(e.Value.children, out)
		}
	}
}
