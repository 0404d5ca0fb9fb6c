package command

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRealExecutorDirAndEnv(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := &RealExecutor{Dir: dir, Env: []string{"MW_TOOLCHAIN=stub"}}

	out, err := e.CommandContext(context.Background(), "sh", "-c", "pwd; echo $MW_TOOLCHAIN").Output()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 || lines[0] != dir || lines[1] != "stub" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRealExecutorCancelKillsGroup(t *testing.T) {
	e := &RealExecutor{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The background sleep inherits stdout; only a group kill closes it.
	start := time.Now()
	_, err := e.CommandContext(ctx, "sh", "-c", "sleep 30 & sleep 30").Output()
	if err == nil {
		t.Fatal("expected an error from the killed command")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

func TestRecordingExecutor(t *testing.T) {
	r := &RecordingExecutor{Next: &RealExecutor{}}
	r.Command("true")
	r.CommandContext(context.Background(), "echo", "a", "b")

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].Name != "echo" || strings.Join(calls[1].Args, ",") != "a,b" {
		t.Errorf("unexpected call %+v", calls[1])
	}
}
