package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func copyScenario(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandAllPass(t *testing.T) {
	out, err := runTestCommand(t, "text", scenariosDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ delete_folder_during_edit")
	assert.Contains(t, out, "✓ text_merge")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", scenariosDir, "--filter", "tabs_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "tabs_follow_delete", resp.Data.Scenarios[0].Name)
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandBadFilter(t *testing.T) {
	_, err := runTestCommand(t, "text", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	copyScenario(t, dir, "concurrent_rename")

	out, err := runTestCommand(t, "text", dir, "--update")
	require.NoError(t, err, out)

	goldenPath := filepath.Join(root, "golden", "concurrent_rename.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"concurrent_rename"`)

	_, err = runTestCommand(t, "text", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"stale"}`), 0o644))
	out, err = runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ concurrent_rename")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandSharedGolden(t *testing.T) {
	// The committed harness golden is read from the sibling golden dir.
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	copyScenario(t, dir, "delete_folder_during_edit")

	data, err := os.ReadFile("../harness/testdata/golden/delete_folder_during_edit.golden")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "golden", "delete_folder_during_edit.golden"), data, 0o644))

	out, err := runTestCommand(t, "text", dir)
	require.NoError(t, err, out)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_content
flow:
  - replica: a
    op: create
    name: main.go
    as: file
  - sync: true
assertions:
  - type: content_present
    replica: b
    target: file
    text: "not the boilerplate"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_content.yaml"), []byte(scenario), 0o644))

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
}
