package command

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default command execution timeout
	DefaultTimeout = 2 * time.Minute

	// MaxTimeout is the maximum allowed timeout
	MaxTimeout = time.Hour
)

// Mode values accepted by the game server.
var (
	ReleaseModes   = []string{"auto", "enabled", "disabled", "goal", "auto-enabled"}
	CollectModes   = ReleaseModes
	RemainingModes = []string{"enabled", "disabled", "goal"}
)

var (
	hostPattern = regexp.MustCompile(`^[A-Za-z0-9.:\[\]-]+$`)
)

// SafeBuilder provides secure command execution with validation
type SafeBuilder struct {
	defaultTimeout time.Duration
	validators     map[string]func(string) error
	executor       Executor
}

// NewSafeBuilder creates a new SafeBuilder instance with a RealExecutor
func NewSafeBuilder() *SafeBuilder {
	return NewSafeBuilderWithExecutor(&RealExecutor{})
}

// NewSafeBuilderWithExecutor creates a new SafeBuilder with a custom Executor
func NewSafeBuilderWithExecutor(exec Executor) *SafeBuilder {
	return &SafeBuilder{
		defaultTimeout: DefaultTimeout,
		validators:     makeDefaultValidators(),
		executor:       exec,
	}
}

func makeDefaultValidators() map[string]func(string) error {
	return map[string]func(string) error{
		"slotName":      validateSlotName,
		"fileName":      validateFileName,
		"host":          validateHost,
		"password":      validatePassword,
		"releaseMode":   oneOf("release mode", ReleaseModes),
		"collectMode":   oneOf("collect mode", CollectModes),
		"remainingMode": oneOf("remaining mode", RemainingModes),
	}
}

// validateSlotName ensures a slot can be used as an upload file name.
func validateSlotName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("slot name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid slot name: %s", name)
	}
	if strings.ContainsAny(name, "\x00\n\r") {
		return fmt.Errorf("slot name contains control characters")
	}
	return nil
}

// validateFileName ensures file paths are safe
func validateFileName(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("file path cannot contain '..'")
	}

	if strings.ContainsAny(path, ";|&$`") {
		return fmt.Errorf("file path contains invalid characters")
	}

	return nil
}

func validateHost(host string) error {
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("invalid host: %q", host)
	}
	return nil
}

func validatePassword(password string) error {
	if strings.ContainsAny(password, "\x00\n\r") {
		return fmt.Errorf("password contains control characters")
	}
	return nil
}

func oneOf(kind string, allowed []string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("invalid %s %q (allowed: %s)", kind, value, strings.Join(allowed, ", "))
	}
}

// Command represents a safe command configuration
type Command struct {
	ctx      context.Context
	runCtx   context.Context
	cancel   context.CancelFunc
	name     string
	args     []string
	timeout  time.Duration
	executor Executor
}

// Build creates a new command with validation. The default timeout applies
// from the moment Exec is called.
func (sb *SafeBuilder) Build(ctx context.Context, name string, args ...string) (*Command, error) {
	if name == "" {
		return nil, fmt.Errorf("command name cannot be empty")
	}
	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return nil, fmt.Errorf("argument contains a NUL byte")
		}
	}

	return &Command{
		ctx:      ctx,
		name:     name,
		args:     args,
		timeout:  sb.defaultTimeout,
		executor: sb.executor,
	}, nil
}

// WithTimeout sets a custom timeout for the command
func (c *Command) WithTimeout(timeout time.Duration) *Command {
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	c.timeout = timeout
	return c
}

// Timeout returns the effective timeout.
func (c *Command) Timeout() time.Duration {
	return c.timeout
}

// Args returns the command arguments.
func (c *Command) Args() []string {
	return c.args
}

// Validate validates specific arguments
func (sb *SafeBuilder) Validate(argType string, value string) error {
	validator, exists := sb.validators[argType]
	if !exists {
		return fmt.Errorf("no validator for argument type: %s", argType)
	}

	return validator(value)
}

// Exec creates a context-bound exec.Cmd that is killed when the timeout
// elapses. Call Release once the command has finished.
func (c *Command) Exec() *exec.Cmd {
	c.runCtx = c.ctx
	if c.timeout > 0 {
		c.runCtx, c.cancel = context.WithTimeout(c.ctx, c.timeout)
	}
	return c.executor.CommandContext(c.runCtx, c.name, c.args...) //nolint:gosec // SafeBuilder provides validation
}

// ExecDetached creates an exec.Cmd whose lifetime is managed by the caller
// rather than by a context.
func (c *Command) ExecDetached() *exec.Cmd {
	return c.executor.Command(c.name, c.args...) //nolint:gosec // SafeBuilder provides validation
}

// Context returns the context the command was built with.
func (c *Command) Context() context.Context {
	return c.ctx
}

// TimedOut reports whether the timeout started by Exec has elapsed.
func (c *Command) TimedOut() bool {
	return c.runCtx != nil && c.ctx.Err() == nil && c.runCtx.Err() == context.DeadlineExceeded
}

// Release frees the timeout started by Exec.
func (c *Command) Release() {
	if c.cancel != nil {
		c.cancel()
	}
}
