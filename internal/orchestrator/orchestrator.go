// Package orchestrator drives the two external executables: the generator,
// which turns participant uploads into a game bundle, and the server, which
// hosts that bundle.
package orchestrator

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/multiworld/command"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/pkg/process"
	"github.com/sirupsen/logrus"
)

// maxStderr bounds how much generator stderr is kept for the failure message.
const maxStderr = 4096

// Options configures an Orchestrator.
type Options struct {
	GeneratorPath     string
	ServerPath        string
	GenerationTimeout time.Duration
	Logger            *logrus.Entry
}

// HostParams are the hosting parameters. Empty optional values are omitted
// from the command line so the server applies its own defaults.
type HostParams struct {
	Host          string
	Port          int
	Password      string
	ReleaseMode   string
	CollectMode   string
	RemainingMode string
}

// Orchestrator runs at most one generation and hosts at most one server.
type Orchestrator struct {
	opts    Options
	builder *command.SafeBuilder
	logger  *logrus.Entry

	mu         sync.Mutex
	generating bool
	hosted     *process.Process
}

// New returns an Orchestrator creating commands through executor.
func New(opts Options, executor command.Executor) *Orchestrator {
	if executor == nil {
		executor = &command.RealExecutor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		opts:    opts,
		builder: command.NewSafeBuilderWithExecutor(executor),
		logger:  logger,
	}
}

// Generate runs the generator against uploadDir, writing into outputDir, and
// returns the path of the single archive it produced.
func (o *Orchestrator) Generate(ctx context.Context, uploadDir, outputDir string) (string, error) {
	o.mu.Lock()
	if o.generating {
		o.mu.Unlock()
		return "", errors.ProcessBusy("generation")
	}
	o.generating = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.generating = false
		o.mu.Unlock()
	}()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Could not prepare the output directory.")
	}

	cmd, err := o.builder.Build(ctx, o.opts.GeneratorPath, "--player_files", uploadDir, "--outputpath", outputDir)
	if err != nil {
		return "", errors.CommandFailed(o.opts.GeneratorPath, err)
	}
	if o.opts.GenerationTimeout > 0 {
		cmd = cmd.WithTimeout(o.opts.GenerationTimeout)
	}
	defer cmd.Release()

	var stderr bytes.Buffer
	stdout := o.logger.WithField("stream", "generator").WriterLevel(logrus.DebugLevel)
	defer stdout.Close()

	execCmd := cmd.Exec()
	execCmd.Stdout = stdout
	execCmd.Stderr = &stderr

	o.logger.WithFields(logrus.Fields{
		"generator": o.opts.GeneratorPath,
		"uploads":   uploadDir,
		"output":    outputDir,
	}).Info("Starting game generation")

	start := time.Now()
	runErr := execCmd.Run()
	if runErr != nil {
		return "", o.generationError(cmd, runErr, stderr.Bytes())
	}
	o.logger.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("Game generation finished")

	return FindBundle(outputDir)
}

func (o *Orchestrator) generationError(cmd *command.Command, runErr error, stderr []byte) error {
	if stderrors.Is(runErr, exec.ErrNotFound) || stderrors.Is(runErr, os.ErrNotExist) || stderrors.Is(runErr, os.ErrPermission) {
		return errors.CommandNotFound(o.opts.GeneratorPath, runErr)
	}
	if ctxErr := cmd.Context().Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, errors.ErrCodeCommandTimeout, "Game generation was cancelled.")
	}
	if cmd.TimedOut() {
		return errors.Wrap(runErr, errors.ErrCodeCommandTimeout,
			fmt.Sprintf("Game generation did not finish within %s.", cmd.Timeout()))
	}

	text := strings.TrimSpace(string(stderr))
	if len(text) > maxStderr {
		text = "…" + text[len(text)-maxStderr:]
	}
	if text == "" {
		text = runErr.Error()
	}
	return errors.GenerationFailed(text, runErr)
}

// FindBundle returns the single *.zip in dir.
func FindBundle(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Could not search for the generated game.")
	}
	switch len(matches) {
	case 0:
		return "", errors.BundleNotFound(dir)
	case 1:
		return matches[0], nil
	default:
		return "", errors.BundleAmbiguous(dir, matches)
	}
}

// ValidateHostParams checks the binding and every set mode.
func (o *Orchestrator) ValidateHostParams(p HostParams) error {
	if p.Port < 1 || p.Port > 65535 {
		return errors.InvalidInput(fmt.Sprintf("Invalid port: %d.", p.Port))
	}
	if err := o.builder.Validate("host", p.Host); err != nil {
		return errors.InvalidInput(fmt.Sprintf("Invalid host: %s.", p.Host))
	}
	if p.Password != "" {
		if err := o.builder.Validate("password", p.Password); err != nil {
			return errors.InvalidInput("The password cannot contain line breaks.")
		}
	}

	modes := []struct {
		argType string
		label   string
		value   string
		allowed []string
	}{
		{"releaseMode", "release mode", p.ReleaseMode, command.ReleaseModes},
		{"collectMode", "collect mode", p.CollectMode, command.CollectModes},
		{"remainingMode", "remaining mode", p.RemainingMode, command.RemainingModes},
	}
	for _, m := range modes {
		if m.value == "" {
			continue
		}
		if err := o.builder.Validate(m.argType, m.value); err != nil {
			return errors.InvalidInput(fmt.Sprintf("Invalid %s: %s. Allowed values: %s.",
				m.label, m.value, strings.Join(m.allowed, ", ")))
		}
	}
	return nil
}

// HostArgs renders the server command line for bundle.
func HostArgs(bundle string, p HostParams) []string {
	args := []string{"--host", p.Host, "--port", strconv.Itoa(p.Port)}
	if p.Password != "" {
		args = append(args, "--password", p.Password)
	}
	if p.ReleaseMode != "" {
		args = append(args, "--release_mode", p.ReleaseMode)
	}
	if p.CollectMode != "" {
		args = append(args, "--collect_mode", p.CollectMode)
	}
	if p.RemainingMode != "" {
		args = append(args, "--remaining_mode", p.RemainingMode)
	}
	return append(args, bundle)
}

// Host launches the server against bundle. It returns once the process has
// been created; it does not wait for the server to become ready.
func (o *Orchestrator) Host(ctx context.Context, bundle string, p HostParams) (*process.Process, error) {
	if err := o.ValidateHostParams(p); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.hosted != nil && o.hosted.Alive() {
		return nil, errors.ProcessBusy("server")
	}

	cmd, err := o.builder.Build(ctx, o.opts.ServerPath, HostArgs(bundle, p)...)
	if err != nil {
		return nil, errors.CommandFailed(o.opts.ServerPath, err)
	}

	proc, err := process.Start(cmd.ExecDetached())
	if err != nil {
		if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, os.ErrNotExist) || stderrors.Is(err, os.ErrPermission) {
			return nil, errors.CommandNotFound(o.opts.ServerPath, err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeServerExited, "Server process failed to start or terminated immediately.")
	}

	o.hosted = proc
	o.logger.WithFields(logrus.Fields{
		"pid":    proc.Pid(),
		"host":   p.Host,
		"port":   p.Port,
		"bundle": bundle,
	}).Info("Server process launched")

	return proc, nil
}

// Hosted returns the current server process, or nil.
func (o *Orchestrator) Hosted() *process.Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hosted
}

// Generating reports whether a generation is in flight.
func (o *Orchestrator) Generating() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generating
}

// Terminate stops the hosted server, if any, and forgets it. It waits at most
// twice timeout: once for SIGTERM and once more after SIGKILL.
func (o *Orchestrator) Terminate(timeout time.Duration) error {
	o.mu.Lock()
	proc := o.hosted
	o.hosted = nil
	o.mu.Unlock()

	if proc == nil {
		return nil
	}

	o.logger.WithField("pid", proc.Pid()).Info("Terminating server process")
	err := proc.Terminate(timeout)
	if err != nil {
		o.logger.WithError(err).Warn("Server process did not terminate cleanly")
	}
	return err
}
