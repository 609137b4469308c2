package config

import (
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFS(t *testing.T) afero.Fs {
	t.Helper()
	orig := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = orig })
	return fs
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	memFS(t)

	cfg, err := Load("/home/ada/.codesync.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	m := memFS(t)
	require.NoError(t, afero.WriteFile(m, "/cfg.yaml", []byte("workspace: team\nheartbeat: 5s\nseed: false\n"), 0o644))

	cfg, err := Load("/cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, "team", cfg.Workspace)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
	assert.False(t, cfg.Seed)
	assert.Equal(t, DefaultRelay, cfg.Relay)
	assert.Equal(t, 30*time.Second, cfg.PresenceTTL)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	m := memFS(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "workspace: [\n"},
		{"empty workspace", "workspace: \"\"\n"},
		{"http relay", "relay: http://localhost:1234\n"},
		{"ttl below heartbeat", "heartbeat: 40s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, afero.WriteFile(m, "/bad.yaml", []byte(tt.body), 0o644))
			_, err := Load("/bad.yaml")
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	m := memFS(t)

	cfg := Default()
	cfg.Name = "GraceHopper"
	cfg.Color = "#ee6352"
	cfg.Token = "tok"
	require.NoError(t, Save("/nested/dir/cfg.yaml", cfg))

	info, err := m.Stat("/nested/dir/cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	raw, err := afero.ReadFile(m, "/nested/dir/cfg.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "heartbeat: 15s")

	got, err := Load("/nested/dir/cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestExpand_Home(t *testing.T) {
	t.Setenv("HOME", "/home/ada")
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	p, err := Expand("")
	require.NoError(t, err)
	assert.Equal(t, "/home/ada/.codesync.yaml", p)

	p, err = Expand("/abs/path.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path.yaml", p)
}
