package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is a started child process whose stdout and stderr are exposed as
// pipe read ends. The read ends are owned by the Process, not by exec.Cmd, so
// reaping the child never closes a stream a reader is still draining.
type Process struct {
	cmd     *exec.Cmd
	stdout  *os.File
	stderr  *os.File
	started time.Time

	done      chan struct{}
	exitCode  int
	waitErr   error
	closeOnce sync.Once
}

// Start launches cmd in its own process group. cmd must not have Stdout or
// Stderr set.
func Start(cmd *exec.Cmd) (*Process, error) {
	if cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, errors.New("process: command output is already redirected")
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd.Stdout = outW
	cmd.Stderr = errW
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	p := &Process{
		cmd:      cmd,
		stdout:   outR,
		stderr:   errR,
		started:  time.Now(),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	close(p.done)
}

// Pid returns the operating system process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was launched.
func (p *Process) StartedAt() time.Time {
	return p.started
}

// Stdout returns the borrowed stdout read end.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Stderr returns the borrowed stderr read end.
func (p *Process) Stderr() io.ReadCloser {
	return p.stderr
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code, or -1 while running or when the process was
// killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Err returns the error reported by Wait, if the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Terminate sends SIGTERM to the process group, waits up to timeout, then
// sends SIGKILL. It returns once the process has been reaped or a second
// timeout has elapsed after the kill.
func (p *Process) Terminate(timeout time.Duration) error {
	if !p.Alive() {
		return nil
	}

	if err := p.signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGTERM to %d: %w", p.Pid(), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := p.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGKILL to %d: %w", p.Pid(), err)
	}

	timer.Reset(timeout)
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("process %d did not exit after SIGKILL", p.Pid())
	}
}

func (p *Process) signal(sig syscall.Signal) error {
	pid := p.Pid()
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// Close releases the stdout and stderr read ends. Readers blocked on them
// return an error.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.stdout.Close(), p.stderr.Close())
	})
	return err
}

// PidAlive reports whether a process with pid exists. EPERM counts as alive.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
