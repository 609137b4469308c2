package doc

import (
	"fmt"
	"unicode/utf8"

	"github.com/roach88/codesync/internal/crdt"
)

// Txn is the mutation handle passed to a Transact function. It is only valid
// for the duration of that call.
type Txn struct {
	doc  *Doc
	ev   *Event
	ops  []Op
	undo []func()
	err  error
}

func (t *Txn) apply(op Op) error {
	if t.err != nil {
		return t.err
	}
	undo, err := t.doc.integrate(op, t.ev)
	if err != nil {
		t.err = err
		return err
	}
	if undo == nil {
		return nil
	}
	t.ops = append(t.ops, op)
	t.undo = append(t.undo, undo)
	return nil
}

func (t *Txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.ops = nil
	t.undo = nil
}

// Root returns the root sequence of the tree.
func (t *Txn) Root() Array {
	return Array{txn: t, seq: t.doc.root}
}

// Contents returns the content map.
func (t *Txn) Contents() ContentMap {
	return ContentMap{txn: t}
}

// NodeSpec describes a node to insert.
type NodeSpec struct {
	ID   string
	Name string
	Kind Kind
}

// Array is an ordered child sequence: the tree root or a folder's children.
type Array struct {
	txn    *Txn
	seq    *crdt.Sequence[*node]
	parent string
}

// Parent returns the folder id owning the array, "" for the root.
func (a Array) Parent() string {
	return a.parent
}

// Len returns the number of live entries.
func (a Array) Len() int {
	return a.seq.Len()
}

// Get returns the live entry at position i.
func (a Array) Get(i int) (Entry, bool) {
	e, ok := a.seq.At(i)
	if !ok {
		return nil, false
	}
	return a.txn.entry(e.Value), true
}

// Insert places nodes at position i, in order.
func (a Array) Insert(i int, specs ...NodeSpec) error {
	if i < 0 || i > a.seq.Len() {
		return a.txn.fail(fmt.Errorf("insert at %d: index out of range [0,%d]", i, a.seq.Len()))
	}
	origin := a.seq.OriginFor(i)
	for _, s := range specs {
		id := a.txn.doc.clock.Tick()
		op := Op{
			Kind:     OpInsertNode,
			ID:       id,
			Parent:   a.parent,
			Origin:   origin,
			NodeID:   s.ID,
			Name:     s.Name,
			NodeKind: s.Kind,
		}
		if err := a.txn.apply(op); err != nil {
			return err
		}
		origin = id
	}
	return nil
}

// Append places nodes after the last live entry.
func (a Array) Append(specs ...NodeSpec) error {
	return a.Insert(a.seq.Len(), specs...)
}

// Delete removes count live entries starting at position i.
func (a Array) Delete(i, count int) error {
	if i < 0 || count < 0 || i+count > a.seq.Len() {
		return a.txn.fail(fmt.Errorf("delete [%d,%d): index out of range [0,%d]", i, i+count, a.seq.Len()))
	}
	targets := make([]crdt.ID, 0, count)
	for k := 0; k < count; k++ {
		e, _ := a.seq.At(i + k)
		targets = append(targets, e.ID)
	}
	for _, target := range targets {
		op := Op{Kind: OpRemoveNode, ID: a.txn.doc.clock.Tick(), Parent: a.parent, Target: target}
		if err := a.txn.apply(op); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) fail(err error) error {
	if t.err == nil {
		t.err = err
	}
	return err
}

// Entry is a live tree entry as seen from inside a transaction: a File, a
// Folder or a Malformed entry.
type Entry interface {
	ID() string
	Name() string
	isEntry()
}

type base struct {
	txn *Txn
	n   *node
}

func (b base) ID() string   { return b.n.id }
func (b base) Name() string { return b.n.name.Get() }
func (base) isEntry()       {}

// SetName renames the entry. Setting the current name is a no-op.
func (b base) SetName(name string) error {
	if name == b.n.name.Get() {
		return nil
	}
	op := Op{Kind: OpRename, ID: b.txn.doc.clock.Tick(), NodeID: b.n.id, Name: name}
	return b.txn.apply(op)
}

// File is a leaf entry whose content lives in the content map under its id.
type File struct{ base }

// Folder is an entry with an ordered child sequence.
type Folder struct{ base }

// Children returns the folder's child sequence.
func (f Folder) Children() Array {
	return Array{txn: f.txn, seq: f.n.children, parent: f.n.id}
}

// Malformed is an entry whose shape this replica does not understand,
// e.g. a kind written by a newer peer.
type Malformed struct {
	base
	reason string
}

// Reason describes what is wrong with the entry.
func (m Malformed) Reason() string {
	return m.reason
}

func (t *Txn) entry(n *node) Entry {
	b := base{txn: t, n: n}
	switch n.kind {
	case KindFile:
		return File{b}
	case KindFolder:
		if n.children == nil {
			return Malformed{base: b, reason: "folder without children container"}
		}
		return Folder{b}
	default:
		return Malformed{base: b, reason: fmt.Sprintf("unknown node kind %s", n.kind)}
	}
}

// ContentMap is the flat map of file id to text buffer.
type ContentMap struct {
	txn *Txn
}

// Has reports whether a live entry exists for key.
func (c ContentMap) Has(key string) bool {
	return c.txn.doc.contents.Has(key)
}

// Get returns the current text for key.
func (c ContentMap) Get(key string) (string, bool) {
	txt, ok := c.txn.doc.contents.Get(key)
	if !ok {
		return "", false
	}
	return txt.String(), true
}

// Set replaces the entry for key with a fresh text holding initial.
func (c ContentMap) Set(key, initial string) error {
	d := c.txn.doc
	id := d.clock.Tick()
	if err := c.txn.apply(Op{Kind: OpSetContent, ID: id, Key: key}); err != nil {
		return err
	}
	if initial == "" {
		return nil
	}
	run := d.clock.Reserve(uint64(utf8.RuneCountInString(initial)))
	return c.txn.apply(Op{Kind: OpInsertText, ID: run, Key: key, Target: id, Text: initial})
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (c ContentMap) Delete(key string) error {
	if !c.Has(key) {
		return nil
	}
	return c.txn.apply(Op{Kind: OpDeleteContent, ID: c.txn.doc.clock.Tick(), Key: key})
}

// InsertText inserts s at rune position pos of key's text.
func (c ContentMap) InsertText(key string, pos int, s string) error {
	d := c.txn.doc
	txt, stamp, err := c.text(key)
	if err != nil {
		return err
	}
	if pos < 0 || pos > txt.Len() {
		return c.txn.fail(fmt.Errorf("insert text at %d: index out of range [0,%d]", pos, txt.Len()))
	}
	if s == "" {
		return nil
	}
	run := d.clock.Reserve(uint64(utf8.RuneCountInString(s)))
	return c.txn.apply(Op{
		Kind:   OpInsertText,
		ID:     run,
		Key:    key,
		Target: stamp,
		Origin: txt.OriginAt(pos),
		Text:   s,
	})
}

// DeleteText removes count runes of key's text starting at pos.
func (c ContentMap) DeleteText(key string, pos, count int) error {
	txt, stamp, err := c.text(key)
	if err != nil {
		return err
	}
	if pos < 0 || count < 0 || pos+count > txt.Len() {
		return c.txn.fail(fmt.Errorf("delete text [%d,%d): index out of range [0,%d]", pos, pos+count, txt.Len()))
	}
	if count == 0 {
		return nil
	}
	return c.txn.apply(Op{
		Kind:    OpDeleteText,
		ID:      c.txn.doc.clock.Tick(),
		Key:     key,
		Target:  stamp,
		Targets: txt.IDsInRange(pos, count),
	})
}

func (c ContentMap) text(key string) (*crdt.Text, crdt.ID, error) {
	d := c.txn.doc
	txt, ok := d.contents.Get(key)
	if !ok {
		return nil, crdt.ID{}, c.txn.fail(fmt.Errorf("no content for %q", key))
	}
	return txt, d.contents.State(key).Stamp, nil
}
