package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/codesync/internal/model"
)

// Golden renders the deterministic part of a result as canonical JSON: the
// trace and each replica's final tree and contents.
func Golden(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"seq":    ev.Seq,
			"op":     ev.Op,
			"result": ev.Result,
		}
		if ev.Replica != "" {
			m["replica"] = ev.Replica
		}
		if ev.Target != "" {
			m["target"] = ev.Target
		}
		if ev.Detail != "" {
			m["detail"] = ev.Detail
		}
		trace[i] = m
	}

	names := make([]string, 0, len(result.Final))
	for name := range result.Final {
		names = append(names, name)
	}
	sort.Strings(names)
	final := make(map[string]any, len(names))
	for _, name := range names {
		st := result.Final[name]
		contents := st.Contents
		if contents == nil {
			contents = map[string]string{}
		}
		final[name] = map[string]any{
			"tree":     model.ToValue(st.Tree),
			"contents": contents,
		}
	}

	return model.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"final":         final,
	})
}

// RunWithGolden executes a scenario and compares its output against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Golden(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
