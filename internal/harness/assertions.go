package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/codesync/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " (replica %s)", e.Replica)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	// Aliases maps names given with "as" to node ids.
	Aliases map[string]string
}

func (c *AssertionContext) resolve(ref string) string {
	if c != nil {
		if id, ok := c.Aliases[ref]; ok {
			return id
		}
	}
	return ref
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(result)
		case AssertSnapshot:
			err = forReplicas(result, a.Replica, func(name string, st ReplicaState) error {
				return assertSnapshot(name, st, a, actx)
			})
		case AssertContentPresent:
			err = forReplicas(result, a.Replica, func(name string, st ReplicaState) error {
				return assertContentPresent(name, st, a, actx)
			})
		case AssertContentAbsent:
			err = forReplicas(result, a.Replica, func(name string, st ReplicaState) error {
				return assertContentAbsent(name, st, a, actx)
			})
		case AssertViewState:
			err = forReplicas(result, a.Replica, func(name string, st ReplicaState) error {
				return assertViewState(name, st, a, actx)
			})
		case AssertEventCount:
			err = forReplicas(result, a.Replica, func(name string, st ReplicaState) error {
				if st.Events != a.Count {
					return &AssertionError{
						Type:     AssertEventCount,
						Replica:  name,
						Expected: fmt.Sprintf("%d events", a.Count),
						Actual:   fmt.Sprintf("%d events", st.Events),
					}
				}
				return nil
			})
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// forReplicas runs fn for one replica, or for every replica in name order
// when replica is empty. The first failure is returned.
func forReplicas(result *Result, replica string, fn func(string, ReplicaState) error) error {
	if replica != "" {
		st, ok := result.Final[replica]
		if !ok {
			return fmt.Errorf("unknown replica %q", replica)
		}
		return fn(replica, st)
	}
	names := make([]string, 0, len(result.Final))
	for name := range result.Final {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := fn(name, result.Final[name]); err != nil {
			return err
		}
	}
	return nil
}

// assertConverged compares every replica's digest of tree and contents
// against the first replica's.
func assertConverged(result *Result) error {
	names := make([]string, 0, len(result.Final))
	for name := range result.Final {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) < 2 {
		return nil
	}

	first := result.Final[names[0]]
	want, err := model.SnapshotDigest(first.Tree, first.Contents)
	if err != nil {
		return fmt.Errorf("digest replica %s: %w", names[0], err)
	}
	for _, name := range names[1:] {
		st := result.Final[name]
		got, err := model.SnapshotDigest(st.Tree, st.Contents)
		if err != nil {
			return fmt.Errorf("digest replica %s: %w", name, err)
		}
		if got != want {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  name,
				Expected: fmt.Sprintf("same state as %s: %s", names[0], describeTree(first.Tree)),
				Actual:   describeTree(st.Tree),
			}
		}
	}
	return nil
}

func assertSnapshot(name string, st ReplicaState, a Assertion, actx *AssertionContext) error {
	if path, ok := matchTree(st.Tree, a.Tree, actx, ""); !ok {
		return &AssertionError{
			Type:     AssertSnapshot,
			Replica:  name,
			Expected: describeExpected(a.Tree),
			Actual:   fmt.Sprintf("%s (first difference at %q)", describeTree(st.Tree), path),
		}
	}
	return nil
}

// matchTree compares actual against expected level by level and returns
// the path of the first mismatch.
func matchTree(actual []model.Node, expected []TreeNode, actx *AssertionContext, prefix string) (string, bool) {
	if len(actual) != len(expected) {
		return prefix + "/", false
	}
	for i, want := range expected {
		got := actual[i]
		path := prefix + "/" + want.Name
		if got.Name != want.Name || got.IsFolder != want.Folder {
			return path, false
		}
		if want.ID != "" && got.ID != actx.resolve(want.ID) {
			return path, false
		}
		if want.Folder {
			if p, ok := matchTree(got.Children, want.Children, actx, path); !ok {
				return p, false
			}
		}
	}
	return "", true
}

func assertContentPresent(name string, st ReplicaState, a Assertion, actx *AssertionContext) error {
	id := actx.resolve(a.Target)
	text, ok := st.Contents[id]
	if !ok {
		return &AssertionError{
			Type:     AssertContentPresent,
			Replica:  name,
			Expected: fmt.Sprintf("content for %s", a.Target),
			Actual:   "no content entry",
		}
	}
	if a.Text != nil && text != *a.Text {
		return &AssertionError{
			Type:     AssertContentPresent,
			Replica:  name,
			Expected: fmt.Sprintf("%s = %q", a.Target, *a.Text),
			Actual:   fmt.Sprintf("%q", text),
		}
	}
	return nil
}

func assertContentAbsent(name string, st ReplicaState, a Assertion, actx *AssertionContext) error {
	id := actx.resolve(a.Target)
	if text, ok := st.Contents[id]; ok {
		return &AssertionError{
			Type:     AssertContentAbsent,
			Replica:  name,
			Expected: fmt.Sprintf("no content for %s", a.Target),
			Actual:   fmt.Sprintf("%q", text),
		}
	}
	return nil
}

func assertViewState(name string, st ReplicaState, a Assertion, actx *AssertionContext) error {
	open := make([]string, 0, len(a.Open))
	for _, ref := range a.Open {
		open = append(open, actx.resolve(ref))
	}
	got := st.View.OpenIDs
	if got == nil {
		got = []string{}
	}
	if !slices.Equal(got, open) {
		return &AssertionError{
			Type:     AssertViewState,
			Replica:  name,
			Expected: fmt.Sprintf("open tabs %v", open),
			Actual:   fmt.Sprintf("open tabs %v", got),
		}
	}
	if a.Active != nil && st.View.ActiveID != actx.resolve(*a.Active) {
		return &AssertionError{
			Type:     AssertViewState,
			Replica:  name,
			Expected: fmt.Sprintf("active tab %q", actx.resolve(*a.Active)),
			Actual:   fmt.Sprintf("active tab %q", st.View.ActiveID),
		}
	}
	return nil
}

// describeTree renders a tree as "[a, src/[b.js]]" for failure messages.
func describeTree(nodes []model.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		if n.IsFolder {
			parts[i] = n.Name + "/" + describeTree(n.Children)
		} else {
			parts[i] = n.Name
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func describeExpected(nodes []TreeNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		if n.Folder {
			parts[i] = n.Name + "/" + describeExpected(n.Children)
		} else {
			parts[i] = n.Name
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
