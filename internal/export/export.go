// Package export writes a workspace snapshot out as ordinary files.
package export

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/roach88/codesync/internal/model"
)

// ManifestName is the file holding the exported tree with node ids.
const ManifestName = ".codesync.json"

// Result summarizes an export.
type Result struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
	// Renamed lists paths written under a different name because a
	// sibling already used theirs.
	Renamed []string `json:"renamed,omitempty"`
	// Skipped lists node ids whose names cannot be used as a path element.
	Skipped []string `json:"skipped,omitempty"`
}

// Write materializes tree under dir on fsys. Each file gets its entry in
// contents, or is left empty when it has none. Sibling names that collide
// are disambiguated with the node id.
func Write(fsys afero.Fs, dir string, tree []model.Node, contents map[string]string) (Result, error) {
	var res Result
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := writeLevel(fsys, dir, tree, contents, &res); err != nil {
		return res, err
	}

	manifest, err := model.MarshalCanonical(model.ToValue(tree))
	if err != nil {
		return res, fmt.Errorf("encode manifest: %w", err)
	}
	if err := afero.WriteFile(fsys, filepath.Join(dir, ManifestName), manifest, 0o644); err != nil {
		return res, fmt.Errorf("write manifest: %w", err)
	}
	return res, nil
}

func writeLevel(fsys afero.Fs, dir string, nodes []model.Node, contents map[string]string, res *Result) error {
	used := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		name, ok := pathElem(n.Name)
		if !ok {
			slog.Warn("skipping node with unusable name", "node_id", n.ID, "name", n.Name)
			res.Skipped = append(res.Skipped, n.ID)
			continue
		}
		if used[name] || name == ManifestName {
			name = name + "~" + n.ID
			res.Renamed = append(res.Renamed, filepath.Join(dir, name))
		}
		used[name] = true
		p := filepath.Join(dir, name)

		if n.IsFolder {
			if err := fsys.MkdirAll(p, 0o755); err != nil {
				return fmt.Errorf("create folder %s: %w", p, err)
			}
			res.Folders++
			if err := writeLevel(fsys, p, n.Children, contents, res); err != nil {
				return err
			}
			continue
		}
		if err := afero.WriteFile(fsys, p, []byte(contents[n.ID]), 0o644); err != nil {
			return fmt.Errorf("write file %s: %w", p, err)
		}
		res.Files++
	}
	return nil
}

// pathElem reports whether name can be used as a single path element.
func pathElem(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", false
	}
	return name, true
}
