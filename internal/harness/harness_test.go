package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllScenariosPass(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			for name, st := range result.Final {
				assert.Zero(t, st.Pending, "replica %s has parked ops", name)
			}
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/text_merge.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Golden(s.Name, first)
	require.NoError(t, err)
	b, err := Golden(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsDivergence(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: undelivered
description: "b never hears about the second file"
flow:
  - {replica: a, op: create, name: late.txt}
assertions:
  - type: converged
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
}

func TestRun_StepExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expectations
description: "Mismatched step expectations are reported"
flow:
  - {replica: a, op: delete, target: ghost, expect: {ok: true}}
  - {replica: a, op: create, parent: ghost, name: x.txt, expect: {ok: false}}
  - {replica: a, op: insert_text, target: ghost, pos: 0, text: hi}
assertions:
  - type: converged
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "flow[0]: delete: expected ok=true, got false")
	assert.Contains(t, result.Errors[1], "flow[2]: insert_text failed")

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "error", last.Result)
	assert.Equal(t, "ghost", last.Target)
}

func TestRun_AliasesResolve(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: aliases
description: "Aliases resolve in steps and assertions"
setup:
  - {replica: a, op: create, name: src, folder: true, as: src}
flow:
  - {replica: b, op: create, parent: src, name: main.go, as: main}
  - {sync: true}
assertions:
  - type: snapshot
    tree:
      - id: src
        name: src
        folder: true
        children:
          - {id: main, name: main.go}
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "b1", result.Trace[2].Result)
}
