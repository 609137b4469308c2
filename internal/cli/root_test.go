package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "codesync", cmd.Use)
	assert.Contains(t, cmd.Long, "relay")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "join", "snapshot", "export", "test", "login"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "~/.codesync.yaml", configFlag.DefValue)
}

func TestWorkspaceFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"join", "snapshot", "export"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			ws := sub.Flags().Lookup("workspace")
			require.NotNil(t, ws)
			assert.Equal(t, "w", ws.Shorthand)
			assert.NotNil(t, sub.Flags().Lookup("relay"))
			assert.NotNil(t, sub.Flags().Lookup("timeout"))
		})
	}

	join, _, err := cmd.Find([]string{"join"})
	require.NoError(t, err)
	assert.Nil(t, join.Flags().Lookup("db"), "join always connects")
	assert.NotNil(t, join.Flags().Lookup("no-seed"))

	snap, _, err := cmd.Find([]string{"snapshot"})
	require.NoError(t, err)
	assert.NotNil(t, snap.Flags().Lookup("db"))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	addr := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, addr)
	assert.Equal(t, ":1234", addr.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("db"))
	assert.NotNil(t, serveCmd.Flags().Lookup("secret"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"test", t.TempDir(), "--format", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("json"))
	assert.True(t, isValidFormat("text"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
