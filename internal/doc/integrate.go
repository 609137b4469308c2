package doc

import (
	"errors"
	"unicode/utf8"

	"github.com/roach88/codesync/internal/crdt"
)

// integrate applies a single op to the document state. It returns a non-nil
// undo func when the op was applied, and (nil, nil) when the op was already
// seen. Callers hold d.mu.
func (d *Doc) integrate(op Op, ev *Event) (func(), error) {
	if !op.Kind.valid() {
		return nil, malformed("unknown op kind %d", uint8(op.Kind))
	}
	if op.ID.IsZero() {
		return nil, malformed("%s op without id", op.Kind)
	}
	if d.seen[op.ID] {
		return nil, nil
	}

	var (
		undo func()
		err  error
	)
	switch op.Kind {
	case OpInsertNode:
		undo, err = d.insertNode(op, ev)
	case OpRemoveNode:
		undo, err = d.removeNode(op, ev)
	case OpRename:
		undo, err = d.rename(op, ev)
	case OpSetContent:
		undo, err = d.setContent(op, ev)
	case OpDeleteContent:
		undo, err = d.deleteContent(op, ev)
	case OpInsertText:
		undo, err = d.insertText(op, ev)
	case OpDeleteText:
		undo, err = d.deleteText(op, ev)
	}
	if err != nil {
		return nil, err
	}

	d.seen[op.ID] = true
	d.log = append(d.log, op)
	d.clock.Observe(op.lastID())
	return func() {
		undo()
		delete(d.seen, op.ID)
	}, nil
}

// children resolves the sequence a node op addresses: the root for "",
// otherwise the named folder's children.
func (d *Doc) children(parent string) (*crdt.Sequence[*node], error) {
	if parent == "" {
		return d.root, nil
	}
	p, ok := d.nodes[parent]
	if !ok {
		return nil, missing("parent node %q", parent)
	}
	if p.kind != KindFolder || p.children == nil {
		return nil, malformed("parent %q is a %s, not a folder", parent, p.kind)
	}
	return p.children, nil
}

func (d *Doc) insertNode(op Op, ev *Event) (func(), error) {
	if op.NodeID == "" {
		return nil, malformed("insert_node %s without node id", op.ID)
	}
	seq, err := d.children(op.Parent)
	if err != nil {
		return nil, err
	}
	if _, exists := d.nodes[op.NodeID]; exists {
		return nil, malformed("node id %q reused by %s", op.NodeID, op.ID)
	}

	n := &node{
		id:     op.NodeID,
		kind:   op.NodeKind,
		elem:   op.ID,
		parent: op.Parent,
		name:   crdt.NewRegister(op.Name, op.ID),
	}
	if op.NodeKind == KindFolder {
		n.children = crdt.NewSequence[*node]()
	}
	if _, err := seq.Integrate(op.ID, op.Origin, n); err != nil {
		if errors.Is(err, crdt.ErrUnknownOrigin) {
			return nil, missing("origin %s under %q", op.Origin, op.Parent)
		}
		return nil, err
	}
	d.nodes[n.id] = n
	ev.Added = append(ev.Added, n.id)

	return func() {
		seq.Excise(op.ID)
		delete(d.nodes, n.id)
	}, nil
}

func (d *Doc) removeNode(op Op, ev *Event) (func(), error) {
	seq, err := d.children(op.Parent)
	if err != nil {
		return nil, err
	}
	changed, err := seq.Remove(op.Target)
	if err != nil {
		if errors.Is(err, crdt.ErrUnknownElement) {
			return nil, missing("element %s under %q", op.Target, op.Parent)
		}
		return nil, err
	}
	if !changed {
		// Concurrent delete of the same node: idempotent.
		return func() {}, nil
	}
	if e, ok := seq.Lookup(op.Target); ok {
		ev.Removed = append(ev.Removed, e.Value.id)
	}
	return func() { seq.Restore(op.Target) }, nil
}

func (d *Doc) rename(op Op, ev *Event) (func(), error) {
	n, ok := d.nodes[op.NodeID]
	if !ok {
		return nil, missing("node %q", op.NodeID)
	}
	prev, prevStamp := n.name.Get(), n.name.Stamp()
	if n.name.Set(op.Name, op.ID) && prev != op.Name {
		ev.Renamed = append(ev.Renamed, n.id)
	}
	return func() { n.name.Restore(prev, prevStamp) }, nil
}

func (d *Doc) setContent(op Op, ev *Event) (func(), error) {
	if op.Key == "" {
		return nil, malformed("set_content %s without key", op.ID)
	}
	txt := crdt.NewText()
	prev := d.contents.State(op.Key)
	// The text is addressable even if it loses the write, so that edits
	// targeting it still integrate and are kept in the log.
	d.texts[op.ID] = txt
	if d.contents.Set(op.Key, txt, op.ID) {
		ev.ContentSet = append(ev.ContentSet, op.Key)
	}
	return func() {
		d.contents.Restore(op.Key, prev)
		delete(d.texts, op.ID)
	}, nil
}

func (d *Doc) deleteContent(op Op, ev *Event) (func(), error) {
	if op.Key == "" {
		return nil, malformed("delete_content %s without key", op.ID)
	}
	prev := d.contents.State(op.Key)
	if d.contents.Delete(op.Key, op.ID) {
		ev.ContentDeleted = append(ev.ContentDeleted, op.Key)
	}
	return func() { d.contents.Restore(op.Key, prev) }, nil
}

func (d *Doc) insertText(op Op, ev *Event) (func(), error) {
	if op.Text == "" {
		return nil, malformed("insert_text %s with empty run", op.ID)
	}
	txt, ok := d.texts[op.Target]
	if !ok {
		return nil, missing("text %s for %q", op.Target, op.Key)
	}
	if _, err := txt.IntegrateRun(op.ID, op.Origin, op.Text); err != nil {
		if errors.Is(err, crdt.ErrUnknownOrigin) {
			return nil, missing("origin %s in text %s", op.Origin, op.Target)
		}
		return nil, err
	}
	d.noteEdit(op.Key, txt, ev)

	n := utf8.RuneCountInString(op.Text)
	return func() { txt.ExciseRun(op.ID, n) }, nil
}

func (d *Doc) deleteText(op Op, ev *Event) (func(), error) {
	txt, ok := d.texts[op.Target]
	if !ok {
		return nil, missing("text %s for %q", op.Target, op.Key)
	}
	removed, err := txt.Remove(op.Targets)
	if err != nil {
		if errors.Is(err, crdt.ErrUnknownElement) {
			return nil, missing("runes in text %s", op.Target)
		}
		return nil, err
	}
	if len(removed) > 0 {
		d.noteEdit(op.Key, txt, ev)
	}
	return func() { txt.Restore(removed) }, nil
}

// noteEdit records key as edited when txt is the text currently visible
// under it.
func (d *Doc) noteEdit(key string, txt *crdt.Text, ev *Event) {
	cur, ok := d.contents.Get(key)
	if !ok || cur != txt {
		return
	}
	for _, k := range ev.ContentEdited {
		if k == key {
			return
		}
	}
	ev.ContentEdited = append(ev.ContentEdited, key)
}
