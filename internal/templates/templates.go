// Package templates holds the static catalog behind new files: the
// boilerplate a file starts with, the editor language for its extension and
// the tree a fresh workspace is seeded with. The catalog is written in CUE
// and embedded in the binary.
package templates

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed catalog.cue
var catalogSource string

// DefaultLanguage is reported for extensions the catalog does not know.
const DefaultLanguage = "plaintext"

// SeedNode is one entry of the seed tree.
type SeedNode struct {
	Name     string     `json:"name"`
	Folder   bool       `json:"folder"`
	Content  string     `json:"content"`
	Children []SeedNode `json:"children,omitempty"`
}

// Catalog is a parsed template catalog.
type Catalog struct {
	boilerplate map[string]string
	languages   map[string]string
	seed        []SeedNode
}

// CatalogError reports an invalid catalog source.
type CatalogError struct {
	Message string
	Line    int
	Column  int
}

func (e *CatalogError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("catalog:%d:%d: %s", e.Line, e.Column, e.Message)
	}
	return "catalog: " + e.Message
}

// Parse compiles and validates a catalog written in CUE.
func Parse(src string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("catalog.cue"))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw struct {
		Boilerplate map[string]string `json:"boilerplate"`
		Languages   map[string]string `json:"languages"`
		Seed        []SeedNode        `json:"seed"`
	}
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{
		boilerplate: lowerKeys(raw.Boilerplate),
		languages:   lowerKeys(raw.Languages),
		seed:        raw.Seed,
	}
	return c, nil
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CatalogError{Message: err.Error()}
	}
	first := errs[0]
	if pos := errors.Positions(first); len(pos) > 0 {
		return &CatalogError{Message: first.Error(), Line: pos[0].Line(), Column: pos[0].Column()}
	}
	return &CatalogError{Message: first.Error()}
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded source is
// invalid, which the package tests rule out.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogSource)
		if err != nil {
			panic(fmt.Sprintf("templates: embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Extension returns the lower-cased text after the last dot in name. A name
// without a dot is its own extension, so "Makefile" yields "makefile".
func Extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// Boilerplate returns the initial content for a new file named name, or ""
// for extensions without a template.
func (c *Catalog) Boilerplate(name string) string {
	return c.boilerplate[Extension(name)]
}

// Language returns the editor language id for name.
func (c *Catalog) Language(name string) string {
	if name == "" {
		return DefaultLanguage
	}
	if lang, ok := c.languages[Extension(name)]; ok {
		return lang
	}
	return DefaultLanguage
}

// Seed returns a copy of the seed tree.
func (c *Catalog) Seed() []SeedNode {
	return copySeed(c.seed)
}

func copySeed(nodes []SeedNode) []SeedNode {
	if nodes == nil {
		return nil
	}
	out := make([]SeedNode, len(nodes))
	for i, n := range nodes {
		out[i] = n
		out[i].Children = copySeed(n.Children)
	}
	return out
}

// Boilerplate returns the embedded catalog's template for name.
func Boilerplate(name string) string {
	return Default().Boilerplate(name)
}

// Language returns the embedded catalog's language id for name.
func Language(name string) string {
	return Default().Language(name)
}
