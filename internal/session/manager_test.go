package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/internal/orchestrator"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/pkg/process"
	"github.com/grovetools/multiworld/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	host  = Actor{ID: "u-host", Name: "Host"}
	guest = Actor{ID: "u-guest", Name: "P2"}
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Deliver(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) find(kind models.EventKind) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig(t *testing.T, generator, server string) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	root := t.TempDir()
	cfg.Toolchain.Path = ""
	cfg.Toolchain.Generator = generator
	cfg.Toolchain.Server = server
	cfg.Toolchain.GenerationTimeout = config.Duration(10 * time.Second)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.PublicAddress = "games.example.org"
	cfg.Server.StartupGrace = config.Duration(100 * time.Millisecond)
	cfg.Server.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.Paths.Uploads = filepath.Join(root, "upload")
	cfg.Paths.Games = filepath.Join(root, "games")
	cfg.Paths.Patches = filepath.Join(root, "patches")
	return cfg
}

func newManager(t *testing.T, cfg *config.Config, runner Runner) (*Manager, *recorder) {
	t.Helper()
	if runner == nil {
		runner = orchestrator.New(orchestrator.Options{
			GeneratorPath:     cfg.Toolchain.GeneratorPath(),
			ServerPath:        cfg.Toolchain.ServerPath(),
			GenerationTimeout: cfg.Toolchain.GenerationTimeout.Std(),
		}, nil)
	}
	rec := &recorder{}
	m, err := NewManager(Options{Config: cfg, Runner: runner, Sink: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Reset(context.Background()) })
	return m, rec
}

func settings(slot string) []byte {
	return []byte(fmt.Sprintf("name: %s\ngame: Clique\n", slot))
}

func awaitResult(t *testing.T, ch <-chan StartResult) StartResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(15 * time.Second):
		t.Fatal("start task did not report a result")
		return StartResult{}
	}
}

func assertEmpty(t *testing.T, dirs ...string) {
	t.Helper()
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		require.NoError(t, err)
		assert.Empty(t, entries, "%s should be empty", dir)
	}
}

func TestCreateEnforcesSingleTenancy(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	m, rec := newManager(t, cfg, nil)

	require.NoError(t, os.MkdirAll(cfg.Paths.Uploads, 0755))
	stale := filepath.Join(cfg.Paths.Uploads, "old.yaml")
	require.NoError(t, os.WriteFile(stale, []byte("name: old"), 0644))

	snap, err := m.Create(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, models.StatePreparing, snap.State)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "u-host", snap.HostID)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "Host", snap.Participants[0].Slot)
	assert.NoFileExists(t, stale)

	_, err = m.Create(context.Background(), guest)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionActive))
	assert.Equal(t, snap.ID, m.Snapshot().ID)
	assert.NotEmpty(t, rec.find(models.EventStatus))
}

func TestCreateRejectsBadSlotName(t *testing.T) {
	m, _ := newManager(t, testConfig(t, "gen", "srv"), nil)

	_, err := m.Create(context.Background(), Actor{ID: "x", Name: "../etc"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, models.StateInactive, m.Snapshot().State)
}

func TestAddParticipant(t *testing.T) {
	m, _ := newManager(t, testConfig(t, "gen", "srv"), nil)
	ctx := context.Background()

	_, err := m.AddParticipant(ctx, host, guest, "")
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))

	_, err = m.Create(ctx, host)
	require.NoError(t, err)

	_, err = m.AddParticipant(ctx, guest, guest, "")
	assert.True(t, errors.Is(err, errors.ErrCodeNotHost))

	snap, err := m.AddParticipant(ctx, host, guest, "")
	require.NoError(t, err)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "P2", snap.Participants[1].Slot)
	assert.Equal(t, "u-guest", snap.Participants[1].ID)

	_, err = m.AddParticipant(ctx, host, Actor{ID: "u3", Name: "Other"}, "P2")
	assert.True(t, errors.Is(err, errors.ErrCodeSlotTaken))

	snap, err = m.AddParticipant(ctx, host, guest, "P2-second")
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 3)
}

func TestAcceptUploadErrors(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	m, _ := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))

	_, err = m.Create(ctx, host)
	require.NoError(t, err)

	tests := []struct {
		name     string
		filename string
		data     []byte
		code     errors.ErrorCode
	}{
		{"wrong extension", "Host.txt", settings("Host"), errors.ErrCodeInvalidInput},
		{"missing name", "Host.yaml", []byte("game: Clique\n"), errors.ErrCodeInvalidInput},
		{"unknown slot", "Nobody.yaml", settings("Nobody"), errors.ErrCodeUnknownSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AcceptUpload(ctx, host, tt.filename, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	assert.False(t, m.Snapshot().Participants[0].Ready)
	assertEmpty(t, cfg.Paths.Uploads)
}

func TestStartRequiresEveryoneReady(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host", "P2"}, "Host sent Sword to P2.", "Nobody sent Shield to Host.")
	cfg := testConfig(t, tc.Generator, tc.Server)
	m, rec := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AddParticipant(ctx, host, guest, "")
	require.NoError(t, err)

	resp, err := m.AcceptUpload(ctx, guest, "p2.yml", settings("P2"))
	require.NoError(t, err)
	assert.Equal(t, "P2", resp.Slot)
	assert.False(t, resp.AllReady)
	assert.FileExists(t, filepath.Join(cfg.Paths.Uploads, "P2.yaml"))

	snap := m.Snapshot()
	assert.True(t, snap.Participants[1].Ready)
	assert.False(t, snap.Participants[0].Ready)

	_, err = m.Start(ctx, host, models.StartOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotReady))
	assert.Contains(t, errors.UserMessage(err), "Not everyone has uploaded")
	assertEmpty(t, cfg.Paths.Games)
	assert.Equal(t, models.StatePreparing, m.Snapshot().State)

	resp, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	assert.True(t, resp.AllReady)

	_, err = m.Start(ctx, guest, models.StartOptions{})
	assert.True(t, errors.Is(err, errors.ErrCodeNotHost))

	_, err = m.Start(ctx, host, models.StartOptions{ReleaseMode: "sometimes"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	results, err := m.Start(ctx, host, models.StartOptions{Password: "hunter2", ReleaseMode: "enabled"})
	require.NoError(t, err)
	assert.Contains(t, []models.SessionState{models.StateGenerating, models.StateRunning}, m.Snapshot().State)

	res := awaitResult(t, results)
	require.NoError(t, res.Err)
	assert.Equal(t, models.StateRunning, res.State)
	assert.Contains(t, res.Message, "games.example.org:38281")
	assert.Contains(t, res.Message, "hunter2")

	snap = m.Snapshot()
	assert.Equal(t, models.StateRunning, snap.State)
	assert.True(t, snap.HasPassword)
	assert.NotZero(t, snap.ServerPID)
	assert.Equal(t, "games.example.org:38281", snap.ServerAddress)

	patches, err := m.Patches()
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "AP_12345_P1_Host.apz5", patches[0].Name)
	assert.Equal(t, int64(len("Host")), patches[0].Size)

	args := tc.ServerArgs(t)
	assert.Contains(t, args, "--password")
	assert.Contains(t, args, "hunter2")
	assert.Contains(t, args, "--release_mode")
	assert.Equal(t, filepath.Join(cfg.Paths.Games, "AP_12345.zip"), args[len(args)-1])

	require.Eventually(t, func() bool { return len(rec.find(models.EventTransfer)) == 2 }, 5*time.Second, 20*time.Millisecond)
	transfers := rec.find(models.EventTransfer)
	assert.Equal(t, "Host", transfers[0].Actor)
	assert.Equal(t, "Sword", transfers[0].Item)
	assert.Equal(t, "P2", transfers[0].Target)
	assert.Equal(t, "🎁 @Host sent **Sword** to @P2!", transfers[0].Message)

	announced := false
	for _, ev := range rec.find(models.EventStatus) {
		assert.NotContains(t, ev.Message, "hunter2")
		announced = announced || strings.Contains(ev.Message, "Password required")
	}
	assert.True(t, announced)
	assert.Equal(t, "Nobody", transfers[1].Actor)
	assert.Contains(t, transfers[1].Message, "**Nobody**")

	_, err = m.Create(ctx, guest)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionActive))
}

func TestCancelRunningSession(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host"})
	cfg := testConfig(t, tc.Generator, tc.Server)
	m, _ := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, awaitResult(t, results).State)

	pid := m.Snapshot().ServerPID
	require.True(t, process.PidAlive(pid))

	err = m.Cancel(ctx, guest)
	assert.True(t, errors.Is(err, errors.ErrCodeNotHost))

	require.NoError(t, m.Cancel(ctx, host))
	assert.Equal(t, models.StateInactive, m.Snapshot().State)
	assert.False(t, process.PidAlive(pid))
	assertEmpty(t, cfg.Paths.Uploads, cfg.Paths.Games, cfg.Paths.Patches)

	_, err = m.PatchPath("AP_12345_P1_Host.apz5")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = m.Cancel(ctx, host)
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))
}

func TestCancelPreparingSession(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	m, _ := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, host))
	assert.Equal(t, models.StateInactive, m.Snapshot().State)
	assertEmpty(t, cfg.Paths.Uploads)

	_, err = m.Create(ctx, guest)
	assert.NoError(t, err)
}

func TestGenerationFailureNeverHosts(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host"})
	gen := testutil.WriteScript(t, tc.Dir, "failing-generate", testutil.GeneratorFail("bad config", 1))
	cfg := testConfig(t, gen, tc.Server)
	m, rec := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)

	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)

	res := awaitResult(t, results)
	require.Error(t, res.Err)
	assert.Equal(t, models.StateInactive, res.State)
	assert.True(t, errors.Is(res.Err, errors.ErrCodeGenerationFailed))
	assert.Contains(t, res.Message, "bad config")

	snap := m.Snapshot()
	assert.Equal(t, models.StateInactive, snap.State)
	assert.Contains(t, snap.LastError, "bad config")
	assert.NoFileExists(t, tc.ArgsLog)
	assertEmpty(t, cfg.Paths.Uploads, cfg.Paths.Games, cfg.Paths.Patches)

	statuses := rec.find(models.EventStatus)
	require.NotEmpty(t, statuses)
	assert.Contains(t, statuses[len(statuses)-1].Message, "bad config")
}

func TestServerExitsDuringStartupGrace(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host"})
	srv := testutil.WriteScript(t, tc.Dir, "dying-server", "echo starting\nexit 3\n")
	cfg := testConfig(t, tc.Generator, srv)
	cfg.Server.StartupGrace = config.Duration(time.Second)
	m, _ := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)

	res := awaitResult(t, results)
	assert.True(t, errors.Is(res.Err, errors.ErrCodeServerExited))
	assert.Equal(t, models.StateInactive, m.Snapshot().State)
}

func TestServerExitWhileRunningEndsSession(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host"})
	srv := testutil.WriteScript(t, tc.Dir, "short-server", "sleep 1\nexit 0\n")
	cfg := testConfig(t, tc.Generator, srv)
	m, rec := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, awaitResult(t, results).State)

	require.Eventually(t, func() bool {
		statuses := rec.find(models.EventStatus)
		return m.Snapshot().State == models.StateInactive &&
			strings.Contains(statuses[len(statuses)-1].Message, "exited")
	}, 10*time.Second, 50*time.Millisecond)

	assert.NotEmpty(t, m.Snapshot().LastError)
	assertEmpty(t, cfg.Paths.Games, cfg.Paths.Patches)
}

func TestServerExitForwardsFinalOutput(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Host"})
	srv := testutil.WriteScript(t, tc.Dir, "chatty-server", `
sleep 0.5
i=0
while [ $i -lt 3000 ]; do
  echo "Host sent Item$i to Host."
  i=$((i+1))
done
exit 0
`)
	cfg := testConfig(t, tc.Generator, srv)
	m, rec := newManager(t, cfg, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, awaitResult(t, results).State)

	require.Eventually(t, func() bool {
		return m.Snapshot().State == models.StateInactive && m.Snapshot().LastError != ""
	}, 10*time.Second, 50*time.Millisecond)

	transfers := rec.find(models.EventTransfer)
	require.Len(t, transfers, 3000)
	assert.Equal(t, "Item2999", transfers[len(transfers)-1].Item)
}

// blockingRunner parks in Generate until its context is cancelled.
type blockingRunner struct {
	entered chan struct{}
	once    sync.Once
}

func (r *blockingRunner) Generate(ctx context.Context, uploadDir, outputDir string) (string, error) {
	r.once.Do(func() { close(r.entered) })
	<-ctx.Done()
	return "", ctx.Err()
}

func (r *blockingRunner) ValidateHostParams(orchestrator.HostParams) error { return nil }

func (r *blockingRunner) Host(context.Context, string, orchestrator.HostParams) (*process.Process, error) {
	return nil, fmt.Errorf("not reached")
}

func (r *blockingRunner) Terminate(time.Duration) error { return nil }

func TestGeneratingRejectsCancelButStops(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	runner := &blockingRunner{entered: make(chan struct{})}
	m, _ := newManager(t, cfg, runner)
	ctx := context.Background()

	_, err := m.Create(ctx, host)
	require.NoError(t, err)
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	require.NoError(t, err)
	results, err := m.Start(ctx, host, models.StartOptions{})
	require.NoError(t, err)

	select {
	case <-runner.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	assert.Equal(t, models.StateGenerating, m.Snapshot().State)

	err = m.Cancel(ctx, host)
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))
	_, err = m.AcceptUpload(ctx, host, "Host.yaml", settings("Host"))
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))
	_, err = m.Start(ctx, host, models.StartOptions{})
	assert.True(t, errors.Is(err, errors.ErrCodeWrongState))

	require.NoError(t, m.Stop(ctx))
	res := awaitResult(t, results)
	assert.Equal(t, models.StateInactive, res.State)
	assert.Error(t, res.Err)
	assert.Equal(t, models.StateInactive, m.Snapshot().State)
}

func TestResetInactiveIsNoop(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	m, rec := newManager(t, cfg, nil)
	ctx := context.Background()

	before := m.Snapshot()
	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, before, m.Snapshot())
	assert.Empty(t, rec.find(models.EventStatus))
	assert.DirExists(t, cfg.Paths.Uploads)
}

func TestPatchPathRejectsTraversal(t *testing.T) {
	cfg := testConfig(t, "gen", "srv")
	m, _ := newManager(t, cfg, nil)

	_, err := m.Create(context.Background(), host)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Patches, "a.apz5"), []byte("x"), 0644))

	path, err := m.PatchPath("a.apz5")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Paths.Patches, "a.apz5"), path)

	for _, name := range []string{"", ".", "..", "../a.apz5", "sub/a.apz5", "missing.apz5"} {
		_, err := m.PatchPath(name)
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound), "name %q", name)
	}
}
