package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/pkg/daemon"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir    string
	config string
	socket string
	pid    string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "mw")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv("MULTIWORLD_HOME", dir)

	tc := testutil.NewToolchain(t, []string{"Host", "P2"}, "(Team #1) Host sent Sword to P2 (Hyrule)")
	e := &env{
		dir:    dir,
		config: filepath.Join(dir, "multiworld.yml"),
		socket: filepath.Join(dir, "d.sock"),
		pid:    filepath.Join(dir, "d.pid"),
	}

	yml := fmt.Sprintf(`toolchain:
  generator: %s
  server: %s
  generation_timeout: 10s
server:
  host: 127.0.0.1
  public_address: games.example.org
  startup_grace: 100ms
  shutdown_timeout: 2s
paths:
  data_dir: %s
  session_log: %s
daemon:
  socket: %s
  pid_file: %s
  snapshot_interval: 100ms
access:
  owners: [host-1]
`, tc.Generator, tc.Server, filepath.Join(dir, "data"), filepath.Join(dir, "session.log"), e.socket, e.pid)
	require.NoError(t, os.WriteFile(e.config, []byte(yml), 0644))
	return e
}

// run executes the command tree with --config preset.
func (e *env) run(args ...string) (string, error) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (e *env) startDaemon(t *testing.T) {
	t.Helper()

	root := NewRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--config", e.config}))
	cfg, path, err := cli.LoadConfig(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, cfg, path) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("daemon did not shut down")
		}
		_, err := os.Stat(e.pid)
		assert.True(t, os.IsNotExist(err), "pid file should be released")
	})

	require.Eventually(t, func() bool { return daemon.Reachable(e.socket) }, 5*time.Second, 20*time.Millisecond)
}

func TestCommandsWithoutDaemon(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("session", "status")
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonNotRunning))

	out, err := e.run("daemon", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is not running")

	out, err = e.run("logs")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFullSessionThroughCLI(t *testing.T) {
	e := newEnv(t)
	e.startDaemon(t)

	host := []string{"--user", "host-1", "--name", "Host"}
	as := func(id []string, args ...string) string {
		t.Helper()
		out, err := e.run(append(id, args...)...)
		require.NoError(t, err, out)
		return out
	}

	out := as(host, "session", "create")
	assert.Contains(t, out, "❌ Host")

	out = as(host, "session", "add", "p2-id", "Bob", "--slot", "P2")
	assert.Contains(t, out, "❌ P2 (Bob)")

	_, err := e.run("--user", "p2-id", "session", "add", "x", "Mallory")
	assert.True(t, errors.Is(err, errors.ErrCodeNotHost))

	_, err = e.run(append(host, "session", "start")...)
	assert.True(t, errors.Is(err, errors.ErrCodeNotReady))

	for _, slot := range []string{"Host", "P2"} {
		file := filepath.Join(e.dir, slot+".yaml")
		require.NoError(t, os.WriteFile(file, []byte("name: "+slot+"\ngame: Clique\n"), 0644))
		out = as([]string{"--user", "p2-id"}, "session", "upload", file)
		assert.Contains(t, out, "Received YAML for "+slot+".")
	}
	assert.Contains(t, out, "All players ready!")

	out = as(host, "session", "start", "--wait", "--password", "pw", "--timeout", "20s")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "games.example.org:38281")
	assert.Contains(t, out, "✅ P2 (Bob)")

	out = as(host, "patches", "list")
	assert.Contains(t, out, "AP_12345_P1_Host.apz5")
	assert.Contains(t, out, "AP_12345_P2_P2.apz5")

	outDir := filepath.Join(e.dir, "downloads")
	as(host, "patches", "download", "-o", outDir)
	data, err := os.ReadFile(filepath.Join(outDir, "AP_12345_P2_P2.apz5"))
	require.NoError(t, err)
	assert.Equal(t, "P2", string(data))

	out = as(host, "daemon", "status", "--json")
	assert.Contains(t, out, `"state": "running"`)

	require.Eventually(t, func() bool {
		out, err := e.run("logs", "--raw")
		return err == nil && bytes.Contains([]byte(out), []byte("[transfer] 🎁 @Host sent **Sword** to @Bob!"))
	}, 5*time.Second, 50*time.Millisecond)

	out = as(host, "logs", "--raw", "-n", "1")
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("\n")))

	out = as(host, "session", "cancel")
	assert.Contains(t, out, "The session has been cancelled.")

	out = as(host, "session", "status")
	assert.Contains(t, out, "No session is active.")
}

func TestConfigCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("config", "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✅ Schema")
	assert.Contains(t, out, "✅ Semantic rules")

	bad := filepath.Join(e.dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("bogus: 1\n"), 0644))
	out, err = e.run("config", "validate", bad)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation))
	assert.Contains(t, out, "❌ Schema")

	out, err = e.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# Source: "+e.config)
	assert.Contains(t, out, "games.example.org")

	out, err = e.run("config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "Multiworld Configuration")

	out, err = e.run("paths")
	require.NoError(t, err)
	assert.Contains(t, out, e.socket)
}

func TestFormatUpdate(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := &models.Event{Seq: 4, Kind: models.EventStatus, Time: ts, Message: "hello"}
	assert.Equal(t, "#4 2024-05-01T10:00:00Z [status] hello", formatUpdate(models.StreamUpdate{UpdateType: "event", Event: ev}))

	s := &models.Session{State: models.StatePreparing, Participants: []models.Participant{{Slot: "A", Ready: true}, {Slot: "B"}}}
	assert.Equal(t, "session preparing (1/2 ready)", formatUpdate(models.StreamUpdate{UpdateType: "session", Session: s}))
	assert.Equal(t, "session inactive", formatUpdate(models.StreamUpdate{UpdateType: "initial", Session: &models.Session{State: models.StateInactive}}))
	assert.Equal(t, "whitelist 3 users", formatUpdate(models.StreamUpdate{UpdateType: "whitelist", Whitelist: 3}))
}

func TestRenderSession(t *testing.T) {
	var buf bytes.Buffer
	renderSession(&buf, &models.Session{State: models.StateInactive, LastError: "The server process exited."})
	assert.Contains(t, buf.String(), "No session is active.")
	assert.Contains(t, buf.String(), "The server process exited.")

	buf.Reset()
	renderSession(&buf, &models.Session{
		State:        models.StatePreparing,
		HostName:     "Host",
		Participants: []models.Participant{{Slot: "Host", DisplayName: "Host", Ready: true}, {Slot: "P2", DisplayName: "Bob", Ready: true}},
	})
	assert.Contains(t, buf.String(), "✅ Host\n")
	assert.Contains(t, buf.String(), "✅ P2 (Bob)")
	assert.Contains(t, buf.String(), "All players ready!")
}
