package command

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killGrace bounds how long Wait keeps draining output after a cancelled
// command's process group was killed.
const killGrace = 5 * time.Second

// Executor creates the exec.Cmd for a toolchain invocation. Tests substitute
// it to point at stub binaries or to record calls.
type Executor interface {
	Command(name string, args ...string) *exec.Cmd
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor runs toolchain binaries from Dir with Env appended to the
// daemon's own environment. Zero values inherit both.
type RealExecutor struct {
	Dir string
	Env []string
}

// Command creates a command whose lifetime the caller manages.
func (e *RealExecutor) Command(name string, args ...string) *exec.Cmd {
	return e.prepare(exec.Command(name, args...))
}

// CommandContext creates a command in its own process group. Cancelling ctx
// kills the whole group, so helpers the toolchain spawned cannot keep the
// output pipes open.
func (e *RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace
	return e.prepare(cmd)
}

func (e *RealExecutor) prepare(cmd *exec.Cmd) *exec.Cmd {
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd
}

// Invocation is one recorded command.
type Invocation struct {
	Name string
	Args []string
}

// RecordingExecutor delegates to Next and remembers every invocation.
type RecordingExecutor struct {
	Next Executor

	mu    sync.Mutex
	calls []Invocation
}

func (r *RecordingExecutor) record(name string, args []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Invocation{Name: name, Args: append([]string(nil), args...)})
}

// Command records and delegates.
func (r *RecordingExecutor) Command(name string, args ...string) *exec.Cmd {
	r.record(name, args)
	return r.Next.Command(name, args...)
}

// CommandContext records and delegates.
func (r *RecordingExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.record(name, args)
	return r.Next.CommandContext(ctx, name, args...)
}

// Calls returns a copy of the recorded invocations.
func (r *RecordingExecutor) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.calls...)
}
