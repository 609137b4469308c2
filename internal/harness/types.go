package harness

import (
	"github.com/roach88/codesync/internal/model"
	"github.com/roach88/codesync/internal/viewstate"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Replica string `json:"replica,omitempty"`
	Op      string `json:"op"`
	Target  string `json:"target,omitempty"`
	// Detail is the name or text the step carried.
	Detail string `json:"detail,omitempty"`
	Result string `json:"result"`
}

// ReplicaState is the final state of one replica.
type ReplicaState struct {
	Tree     []model.Node      `json:"tree"`
	Contents map[string]string `json:"contents"`
	View     viewstate.State   `json:"view"`
	Events   int               `json:"events"`
	Pending  int               `json:"pending"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final maps replica name to its final state.
	Final map[string]ReplicaState `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  make(map[string]ReplicaState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
