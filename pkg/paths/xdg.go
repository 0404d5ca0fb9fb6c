// Package paths provides XDG-compliant path resolution for multiworld.
//
// Resolution order:
// 1. MULTIWORLD_HOME (portable root) → $MULTIWORLD_HOME/{config,data,state}
// 2. XDG env vars → $XDG_*_HOME/multiworld
// 3. Platform defaults → ~/.config/multiworld, ~/.local/share/multiworld, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "multiworld"

// homeEnv is the portable root override.
const homeEnv = "MULTIWORLD_HOME"

func baseDir(portable, xdgEnv string, fallback ...string) string {
	if home := os.Getenv(homeEnv); home != "" {
		return filepath.Join(home, portable)
	}
	if dir := os.Getenv(xdgEnv); dir != "" {
		return filepath.Join(dir, appName)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		parts := append([]string{homeDir}, fallback...)
		return filepath.Join(append(parts, appName)...)
	}
	return ""
}

// ConfigDir returns the configuration directory.
// Used for multiworld.yml and multiworld.toml.
func ConfigDir() string {
	return baseDir("config", "XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory.
// Used for session working roots and the whitelist.
func DataDir() string {
	return baseDir("data", "XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the state directory.
// Used for the pid file, daemon logs and the session log.
func StateDir() string {
	return baseDir("state", "XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the runtime directory for the daemon socket.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv(homeEnv); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the path to the daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "multiworld.sock")
}

// PidFilePath returns the path to the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "multiworld.pid")
}

// LogDir returns the directory for component log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// SessionLogPath returns the default path of the session event log.
func SessionLogPath() string {
	return filepath.Join(StateDir(), "session.log")
}

// EnsureDirs creates all multiworld directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		DataDir(),
		StateDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
