// Package filetree implements id-addressed operations on a workspace tree:
// create, rename, cascade delete and find. Every mutation runs as one
// document transaction spanning the tree and the content map.
package filetree

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/model"
	"github.com/roach88/codesync/internal/templates"
)

// Tree is the mutation engine bound to one document.
type Tree struct {
	doc     *doc.Doc
	ids     IDGenerator
	catalog *templates.Catalog
}

// Option configures a Tree.
type Option func(*Tree)

// WithIDGenerator replaces the default ULID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tree) { t.ids = g }
}

// WithCatalog replaces the embedded template catalog.
func WithCatalog(c *templates.Catalog) Option {
	return func(t *Tree) { t.catalog = c }
}

// New creates a Tree operating on d.
func New(d *doc.Doc, opts ...Option) *Tree {
	t := &Tree{doc: d, ids: ULIDGenerator{}}
	for _, opt := range opts {
		opt(t)
	}
	if t.catalog == nil {
		t.catalog = templates.Default()
	}
	return t
}

// Doc returns the underlying document.
func (t *Tree) Doc() *doc.Doc {
	return t.doc
}

// NormalizeName trims surrounding whitespace and applies NFC so that the
// same visible name typed on two platforms compares equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Create appends a new node named name as the last child of parentID, or of
// the root when parentID is empty. Files get a content entry seeded from
// the template for their extension.
//
// Returns the new id, or "" when nothing was created: the parent does not
// resolve, resolves to a file, or the name is blank.
func (t *Tree) Create(parentID, name string, isFolder bool) (string, error) {
	name = NormalizeName(name)
	if name == "" {
		return "", nil
	}

	var created string
	_, err := t.doc.Transact(func(txn *doc.Txn) error {
		children, ok := resolveChildren(txn, parentID)
		if !ok {
			slog.Debug("create: parent not found or not a folder", "parent_id", parentID)
			return nil
		}

		id := t.ids.Generate()
		kind := doc.KindFile
		if isFolder {
			kind = doc.KindFolder
		}
		if err := children.Append(doc.NodeSpec{ID: id, Name: name, Kind: kind}); err != nil {
			return err
		}
		if !isFolder {
			if err := txn.Contents().Set(id, t.catalog.Boilerplate(name)); err != nil {
				return err
			}
		}
		created = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create %q: %w", name, err)
	}
	return created, nil
}

// Rename sets the name of node id. Returns false when the node is not found
// or the name is blank or unchanged.
func (t *Tree) Rename(id, name string) (bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return false, nil
	}

	var renamed bool
	_, err := t.doc.Transact(func(txn *doc.Txn) error {
		loc, ok := locate(txn.Root(), id)
		if !ok {
			slog.Debug("rename: node not found", "node_id", id)
			return nil
		}
		if loc.entry.Name() == name {
			return nil
		}
		var err error
		switch e := loc.entry.(type) {
		case doc.File:
			err = e.SetName(name)
		case doc.Folder:
			err = e.SetName(name)
		}
		if err != nil {
			return err
		}
		renamed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rename %s: %w", id, err)
	}
	return renamed, nil
}

// Delete removes node id. For a folder every nested file's content entry is
// removed too. Tree and content changes commit as a single transaction.
// Returns false when the node is not found.
func (t *Tree) Delete(id string) (bool, error) {
	var deleted bool
	_, err := t.doc.Transact(func(txn *doc.Txn) error {
		loc, ok := locate(txn.Root(), id)
		if !ok {
			slog.Debug("delete: node not found", "node_id", id)
			return nil
		}

		var files []string
		switch e := loc.entry.(type) {
		case doc.Folder:
			files = collectFiles(e.Children(), files)
		case doc.File:
			files = append(files, e.ID())
		}
		contents := txn.Contents()
		for _, fid := range files {
			if err := contents.Delete(fid); err != nil {
				return err
			}
		}
		if err := loc.parent.Delete(loc.index, 1); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if deleted {
		slog.Debug("deleted node", "node_id", id)
	}
	return deleted, nil
}

// PruneOrphans removes content entries left behind by a file that was
// created inside a folder another replica deleted at the same time. A
// cascade delete cannot reach such a file, so every replica prunes it once
// both sides have merged. Returns the number of entries removed.
func (t *Tree) PruneOrphans() (int, error) {
	dead := t.doc.DeadContentKeys()
	if len(dead) == 0 {
		return 0, nil
	}
	_, err := t.doc.Transact(func(txn *doc.Txn) error {
		contents := txn.Contents()
		for _, key := range dead {
			if err := contents.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune orphaned content: %w", err)
	}
	slog.Debug("pruned orphaned content", "replica", t.doc.Replica(), "count", len(dead))
	return len(dead), nil
}

// Find returns the live node with id, searching depth-first in pre-order.
func (t *Tree) Find(id string) (model.Node, bool) {
	return model.FindByID(t.doc.Snapshot(), id)
}

// Snapshot returns the current tree.
func (t *Tree) Snapshot() []model.Node {
	return t.doc.Snapshot()
}

// location is where a node sits: its parent sequence and live index.
type location struct {
	parent doc.Array
	index  int
	entry  doc.Entry
}

// locate searches arr depth-first, pre-order, checking each entry's id
// before descending into it. Malformed entries are skipped with a warning:
// a concurrent edit may leave one visible for a single notification cycle.
func locate(arr doc.Array, id string) (location, bool) {
	for i := 0; i < arr.Len(); i++ {
		entry, ok := arr.Get(i)
		if !ok {
			break
		}
		switch e := entry.(type) {
		case doc.Malformed:
			slog.Warn("skipping malformed tree entry", "node_id", e.ID(), "reason", e.Reason())
			continue
		case doc.File:
			if e.ID() == id {
				return location{parent: arr, index: i, entry: e}, true
			}
		case doc.Folder:
			if e.ID() == id {
				return location{parent: arr, index: i, entry: e}, true
			}
			if loc, ok := locate(e.Children(), id); ok {
				return loc, true
			}
		}
	}
	return location{}, false
}

// resolveChildren returns the sequence new children of parentID go into.
func resolveChildren(txn *doc.Txn, parentID string) (doc.Array, bool) {
	if parentID == "" {
		return txn.Root(), true
	}
	loc, ok := locate(txn.Root(), parentID)
	if !ok {
		return doc.Array{}, false
	}
	folder, ok := loc.entry.(doc.Folder)
	if !ok {
		return doc.Array{}, false
	}
	return folder.Children(), true
}

// collectFiles appends the ids of every file under arr, pre-order.
func collectFiles(arr doc.Array, ids []string) []string {
	for i := 0; i < arr.Len(); i++ {
		entry, ok := arr.Get(i)
		if !ok {
			break
		}
		switch e := entry.(type) {
		case doc.File:
			ids = append(ids, e.ID())
		case doc.Folder:
			ids = collectFiles(e.Children(), ids)
		case doc.Malformed:
			slog.Warn("skipping malformed tree entry", "node_id", e.ID(), "reason", e.Reason())
		}
	}
	return ids
}
