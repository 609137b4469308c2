package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas lists replica names. Defaults to [a, b].
	Replicas []string `yaml:"replicas,omitempty"`

	// Setup runs before the flow and is followed by a full sync.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence of steps.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is either an operation on one replica or a delivery of updates.
type Step struct {
	// Sync delivers every replica's pending updates to every other replica.
	Sync bool `yaml:"sync,omitempty"`
	// Deliver delivers only the named replica's pending updates.
	Deliver string `yaml:"deliver,omitempty"`

	Replica string `yaml:"replica,omitempty"`
	Op      string `yaml:"op,omitempty"`

	// Parent is the folder to create in; empty means the root.
	Parent string `yaml:"parent,omitempty"`
	// Target is the node an operation acts on.
	Target string `yaml:"target,omitempty"`
	Name   string `yaml:"name,omitempty"`
	Folder bool   `yaml:"folder,omitempty"`
	Pos    int    `yaml:"pos,omitempty"`
	Count  int    `yaml:"count,omitempty"`
	Text   string `yaml:"text,omitempty"`

	// As names the id returned by create for later steps.
	As string `yaml:"as,omitempty"`

	// Expect checks the step's result.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// OK is the expected boolean result of rename, delete and seed, or
	// whether create produced a node.
	OK *bool `yaml:"ok,omitempty"`
	// Error expects the step to fail.
	Error bool `yaml:"error,omitempty"`
}

// Operations a step may perform.
const (
	OpCreate     = "create"
	OpRename     = "rename"
	OpDelete     = "delete"
	OpInsertText = "insert_text"
	OpDeleteText = "delete_text"
	OpOpen       = "open"
	OpClose      = "close"
	OpSeed       = "seed"
)

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Replica restricts the assertion to one replica. Empty means every
	// replica, except for view_state and event_count where it is required.
	Replica string `yaml:"replica,omitempty"`

	// Target is the node for content_present and content_absent.
	Target string `yaml:"target,omitempty"`

	// Text is the expected content for content_present.
	Text *string `yaml:"text,omitempty"`

	// Tree is the expected tree for snapshot.
	Tree []TreeNode `yaml:"tree,omitempty"`

	// Open and Active are the expected tabs for view_state.
	Open   []string `yaml:"open,omitempty"`
	Active *string  `yaml:"active,omitempty"`

	// Count is the expected number of events for event_count.
	Count int `yaml:"count,omitempty"`
}

// TreeNode is an expected node. ID is optional and may be an alias.
type TreeNode struct {
	ID       string     `yaml:"id,omitempty"`
	Name     string     `yaml:"name"`
	Folder   bool       `yaml:"folder,omitempty"`
	Children []TreeNode `yaml:"children,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged      = "converged"
	AssertSnapshot       = "snapshot"
	AssertContentPresent = "content_present"
	AssertContentAbsent  = "content_absent"
	AssertViewState      = "view_state"
	AssertEventCount     = "event_count"
)

// DefaultReplicas is used when a scenario lists none.
var DefaultReplicas = []string{"a", "b"}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// like "assertion:" fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(scenario.Replicas) == 0 {
		scenario.Replicas = append([]string(nil), DefaultReplicas...)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Replicas))
	for _, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replica names must be non-empty")
		}
		if known[r] {
			return fmt.Errorf("duplicate replica %q", r)
		}
		known[r] = true
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step, known); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step, known); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step, known map[string]bool) error {
	if step.Sync || step.Deliver != "" {
		if step.Op != "" {
			return fmt.Errorf("%s: a delivery step cannot also have an op", where)
		}
		if step.Deliver != "" && !known[step.Deliver] {
			return fmt.Errorf("%s: unknown replica %q", where, step.Deliver)
		}
		return nil
	}

	if !known[step.Replica] {
		return fmt.Errorf("%s: unknown replica %q", where, step.Replica)
	}
	if step.As != "" && step.Op != OpCreate {
		return fmt.Errorf("%s: as is only valid on create", where)
	}
	switch step.Op {
	case OpCreate:
		if step.Name == "" {
			return fmt.Errorf("%s: name is required for create", where)
		}
	case OpRename:
		if step.Target == "" || step.Name == "" {
			return fmt.Errorf("%s: target and name are required for rename", where)
		}
	case OpDelete, OpOpen, OpClose:
		if step.Target == "" {
			return fmt.Errorf("%s: target is required for %s", where, step.Op)
		}
	case OpInsertText:
		if step.Target == "" || step.Text == "" {
			return fmt.Errorf("%s: target and text are required for insert_text", where)
		}
	case OpDeleteText:
		if step.Target == "" || step.Count <= 0 {
			return fmt.Errorf("%s: target and a positive count are required for delete_text", where)
		}
	case OpSeed:
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !known[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertConverged:
	case AssertSnapshot:
		if a.Tree == nil {
			return fmt.Errorf("assertions[%d]: tree is required for snapshot (use [] for empty)", index)
		}
	case AssertContentPresent, AssertContentAbsent:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for %s", index, a.Type)
		}
	case AssertViewState:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for view_state", index)
		}
	case AssertEventCount:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
