package harness

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/filetree"
	"github.com/roach88/codesync/internal/model"
	"github.com/roach88/codesync/internal/testutil"
	"github.com/roach88/codesync/internal/viewstate"
)

// replica is one simulated session. Local updates collect in outbox until a
// delivery step hands them to the other replicas.
type replica struct {
	name   string
	doc    *doc.Doc
	tree   *filetree.Tree
	view   *viewstate.Store
	outbox []*doc.Update
	events int
}

func newReplica(name string) *replica {
	d := doc.New(name)
	r := &replica{
		name: name,
		doc:  d,
		tree: filetree.New(d, filetree.WithIDGenerator(testutil.NewSequentialIDs(name))),
		view: viewstate.NewStore(),
	}
	d.Observe(r.onEvent)
	return r
}

func (r *replica) onEvent(ev doc.Event) {
	r.events++
	if ev.Origin == doc.OriginLocal && ev.Update != nil {
		r.outbox = append(r.outbox, ev.Update)
	}
	if ev.Origin == doc.OriginRemote && (ev.TreeChanged() || len(ev.ContentSet) > 0) {
		if _, err := r.tree.PruneOrphans(); err != nil {
			slog.Warn("prune orphaned content", "replica", r.name, "error", err)
		}
	}
	if ev.TreeChanged() {
		live := model.IDs(r.doc.Snapshot())
		r.view.Reconcile(func(id string) bool { return live[id] })
	}
}

func (r *replica) state() ReplicaState {
	return ReplicaState{
		Tree:     r.doc.Snapshot(),
		Contents: r.doc.Contents(),
		View:     r.view.State(),
		Events:   r.events,
		Pending:  r.doc.Pending(),
	}
}

// Harness is the scenario execution engine.
type Harness struct {
	replicas []*replica
	byName   map[string]*replica
	aliases  map[string]string
	seq      int64
	logger   *slog.Logger
}

// Run executes a scenario and returns the result. Step failures and
// assertion failures are reported in the result; the error is reserved for
// scenarios that cannot run at all.
func Run(scenario *Scenario) (*Result, error) {
	names := scenario.Replicas
	if len(names) == 0 {
		names = DefaultReplicas
	}
	h := &Harness{
		byName:  make(map[string]*replica, len(names)),
		aliases: make(map[string]string),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, name := range names {
		if _, dup := h.byName[name]; dup {
			return nil, fmt.Errorf("duplicate replica %q", name)
		}
		r := newReplica(name)
		h.replicas = append(h.replicas, r)
		h.byName[name] = r
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		if err := h.execute(fmt.Sprintf("setup[%d]", i), step, result); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}
	h.execute("setup", Step{Sync: true}, result)
	for _, r := range h.replicas {
		r.doc.MarkSynced()
	}

	for i, step := range scenario.Flow {
		if err := h.execute(fmt.Sprintf("flow[%d]", i), step, result); err != nil {
			return nil, fmt.Errorf("failed to execute flow: %w", err)
		}
	}

	for _, r := range h.replicas {
		result.Final[r.name] = r.state()
	}

	actx := &AssertionContext{Aliases: h.aliases}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) resolve(ref string) string {
	if id, ok := h.aliases[ref]; ok {
		return id
	}
	return ref
}

// execute runs one step, traces it and checks its expectation.
func (h *Harness) execute(where string, step Step, result *Result) error {
	h.seq++
	ev := TraceEvent{Seq: h.seq}

	switch {
	case step.Sync:
		n := 0
		for _, r := range h.replicas {
			n += h.deliver(r)
		}
		ev.Op, ev.Result = "sync", fmt.Sprintf("delivered %d", n)
		result.AddTrace(ev)
		return nil

	case step.Deliver != "":
		r, ok := h.byName[step.Deliver]
		if !ok {
			return fmt.Errorf("%s: unknown replica %q", where, step.Deliver)
		}
		ev.Op, ev.Replica = "deliver", r.name
		ev.Result = fmt.Sprintf("delivered %d", h.deliver(r))
		result.AddTrace(ev)
		return nil
	}

	r, ok := h.byName[step.Replica]
	if !ok {
		return fmt.Errorf("%s: unknown replica %q", where, step.Replica)
	}
	ev.Replica, ev.Op = r.name, step.Op

	var (
		done bool
		err  error
	)
	switch step.Op {
	case OpCreate:
		ev.Target, ev.Detail = h.resolve(step.Parent), step.Name
		var id string
		id, err = r.tree.Create(ev.Target, step.Name, step.Folder)
		done = id != ""
		if done && step.As != "" {
			h.aliases[step.As] = id
		}
		ev.Result = id

	case OpRename:
		ev.Target, ev.Detail = h.resolve(step.Target), step.Name
		done, err = r.tree.Rename(ev.Target, step.Name)

	case OpDelete:
		ev.Target = h.resolve(step.Target)
		done, err = r.tree.Delete(ev.Target)

	case OpInsertText:
		ev.Target, ev.Detail = h.resolve(step.Target), step.Text
		_, err = r.doc.Transact(func(txn *doc.Txn) error {
			return txn.Contents().InsertText(ev.Target, step.Pos, step.Text)
		})
		done = err == nil

	case OpDeleteText:
		ev.Target = h.resolve(step.Target)
		ev.Detail = fmt.Sprintf("%d+%d", step.Pos, step.Count)
		_, err = r.doc.Transact(func(txn *doc.Txn) error {
			return txn.Contents().DeleteText(ev.Target, step.Pos, step.Count)
		})
		done = err == nil

	case OpOpen:
		ev.Target = h.resolve(step.Target)
		if n, ok := r.tree.Find(ev.Target); ok && !n.IsFolder {
			r.view.Open(ev.Target)
			done = true
		}

	case OpClose:
		ev.Target = h.resolve(step.Target)
		before := len(r.view.State().OpenIDs)
		done = len(r.view.Close(ev.Target).OpenIDs) < before

	case OpSeed:
		done, err = r.tree.SeedIfEmpty()

	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}

	switch {
	case err != nil:
		ev.Result = "error"
	case step.Op != OpCreate:
		ev.Result = strconv.FormatBool(done)
	}
	result.AddTrace(ev)
	checkExpect(where, step, done, err, result)

	h.logger.Debug("step completed",
		"step", where,
		"replica", r.name,
		"op", step.Op,
		"target", ev.Target,
		"result", ev.Result,
	)
	return nil
}

// deliver hands from's pending updates to every other replica through the
// update codec, in commit order.
func (h *Harness) deliver(from *replica) int {
	n := 0
	for _, u := range from.outbox {
		payload := doc.EncodeUpdate(u)
		for _, to := range h.replicas {
			if to == from {
				continue
			}
			decoded, err := doc.DecodeUpdate(payload)
			if err != nil {
				h.logger.Warn("update failed to decode", "from", from.name, "error", err)
				continue
			}
			if err := to.doc.ApplyUpdate(decoded); err != nil {
				h.logger.Warn("apply update failed", "from", from.name, "to", to.name, "error", err)
			}
			n++
		}
	}
	from.outbox = nil
	return n
}

func checkExpect(where string, step Step, done bool, err error, result *Result) {
	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("%s: %s failed: %v", where, step.Op, err))
		}
		return
	}
	if step.Expect.Error != (err != nil) {
		result.AddError(fmt.Sprintf("%s: %s: expected error=%t, got %v", where, step.Op, step.Expect.Error, err))
	}
	if step.Expect.OK != nil && *step.Expect.OK != done {
		result.AddError(fmt.Sprintf("%s: %s: expected ok=%t, got %t", where, step.Op, *step.Expect.OK, done))
	}
}
