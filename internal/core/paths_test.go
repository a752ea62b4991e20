package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths_HomeOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("CODEX_BRIDGE_HOME", dir)
	ResetPaths()
	t.Cleanup(ResetPaths)

	assert.Equal(t, dir, DataDir())
	assert.Equal(t, filepath.Join(dir, "codex-bridge.log"), LogFile())
	assert.Equal(t, filepath.Join(dir, "sessions.db"), SessionDBFile())
	assert.Equal(t, filepath.Join(dir, "codex.yaml"), UserSettingsFile())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPaths_DefaultUnderHome(t *testing.T) {
	t.Setenv("CODEX_BRIDGE_HOME", "")
	ResetPaths()
	t.Cleanup(ResetPaths)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, home, HomeDir())
	assert.Equal(t, filepath.Join(home, ".codex-bridge"), DataDir())
}

func TestProjectSettingsFile(t *testing.T) {
	assert.Equal(t, filepath.Join("/work/app", ".codex", "codex.yaml"), ProjectSettingsFile("/work/app"))
}
