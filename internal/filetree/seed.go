package filetree

import (
	"fmt"
	"log/slog"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/templates"
)

// SeedIfEmpty writes the catalog's seed tree, with contents, when the root
// is empty. Only meaningful once the document is synced: before that an
// empty root means "not loaded yet". Returns whether anything was written.
//
// Two replicas seeding the same empty workspace concurrently both succeed;
// the result holds both copies side by side.
func (t *Tree) SeedIfEmpty() (bool, error) {
	var seeded bool
	_, err := t.doc.Transact(func(txn *doc.Txn) error {
		root := txn.Root()
		if root.Len() > 0 {
			return nil
		}
		if err := t.seed(txn, root, t.catalog.Seed()); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seed workspace: %w", err)
	}
	if seeded {
		slog.Info("seeded empty workspace", "replica", t.doc.Replica())
	}
	return seeded, nil
}

func (t *Tree) seed(txn *doc.Txn, arr doc.Array, nodes []templates.SeedNode) error {
	for _, n := range nodes {
		id := t.ids.Generate()
		kind := doc.KindFile
		if n.Folder {
			kind = doc.KindFolder
		}
		if err := arr.Append(doc.NodeSpec{ID: id, Name: n.Name, Kind: kind}); err != nil {
			return err
		}
		if !n.Folder {
			if err := txn.Contents().Set(id, n.Content); err != nil {
				return err
			}
			continue
		}
		entry, _ := arr.Get(arr.Len() - 1)
		folder, ok := entry.(doc.Folder)
		if !ok {
			return fmt.Errorf("seed folder %q: not a folder after insert", n.Name)
		}
		if err := t.seed(txn, folder.Children(), n.Children); err != nil {
			return err
		}
	}
	return nil
}
