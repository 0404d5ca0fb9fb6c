package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortableHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MULTIWORLD_HOME", home)

	assert.Equal(t, filepath.Join(home, "config"), ConfigDir())
	assert.Equal(t, filepath.Join(home, "data"), DataDir())
	assert.Equal(t, filepath.Join(home, "state"), StateDir())
	assert.Equal(t, filepath.Join(home, "run", "multiworld.sock"), SocketPath())
	assert.Equal(t, filepath.Join(home, "state", "multiworld.pid"), PidFilePath())
	assert.Equal(t, filepath.Join(home, "state", "session.log"), SessionLogPath())

	require.NoError(t, EnsureDirs())
	assert.DirExists(t, filepath.Join(home, "run"))
}

func TestXDGOverrides(t *testing.T) {
	t.Setenv("MULTIWORLD_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	assert.Equal(t, "/xdg/config/multiworld", ConfigDir())
	assert.Equal(t, "/xdg/data/multiworld", DataDir())
	assert.Equal(t, "/run/user/1000/multiworld/multiworld.sock", SocketPath())
}
