package errors

import (
	"fmt"
	"os/exec"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *Error {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *Error {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// InvalidInput creates an input validation error.
func InvalidInput(message string) *Error {
	return New(ErrCodeInvalidInput, message)
}

// SessionActive is returned when a second session is requested.
func SessionActive() *Error {
	return New(ErrCodeSessionActive, "A session is already active or being prepared.")
}

// WrongState is returned when an operation is not valid in the current state.
func WrongState(operation, state string) *Error {
	var msg string
	switch operation {
	case "start":
		msg = "There is no session that could be started."
	case "cancel":
		msg = "There is no active session to cancel."
	case "upload":
		msg = "There is currently no session preparing."
	case "patches":
		msg = "There is no running session with patch files."
	default:
		msg = "No session is being prepared right now."
	}
	return New(ErrCodeWrongState, msg).
		WithDetail("operation", operation).
		WithDetail("state", state)
}

// NotHost is returned when a host-only operation is attempted by someone else.
func NotHost(operation string) *Error {
	return New(ErrCodeNotHost, fmt.Sprintf("Only the host can %s the session.", operation)).
		WithDetail("operation", operation)
}

// NotReady is returned when start is requested before every upload arrived.
func NotReady(missing []string) *Error {
	return New(ErrCodeNotReady, "Not everyone has uploaded their YAML yet.").
		WithDetail("missing", missing)
}

// SlotTaken is returned when a slot is already on the roster.
func SlotTaken(slot string) *Error {
	return New(ErrCodeSlotTaken, fmt.Sprintf("%s is already in the session.", slot)).
		WithDetail("slot", slot)
}

// UnknownSlot is returned when an upload names a slot that is not on the roster.
func UnknownSlot(slot string) *Error {
	return New(ErrCodeUnknownSlot, fmt.Sprintf("Your slot name %s in the YAML file is not part of the session.", slot)).
		WithDetail("slot", slot)
}

// PermissionDenied is returned for unauthorized actors.
func PermissionDenied() *Error {
	return New(ErrCodePermissionDenied, "You are not authorized to use this command.")
}

// NotFound creates a not found error for a named resource.
func NotFound(kind, name string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("Error: %s %s not found.", kind, name)).
		WithDetail("name", name)
}

// ProcessBusy is returned when the orchestrator already runs a process of that kind.
func ProcessBusy(kind string) *Error {
	return New(ErrCodeProcessBusy, fmt.Sprintf("A %s process is already running.", kind)).
		WithDetail("kind", kind)
}

// GenerationFailed reports a non-zero exit of the generator; stderr is
// carried in the message because it is the only useful diagnosis.
func GenerationFailed(stderr string, err error) *Error {
	e := Wrap(err, ErrCodeGenerationFailed, fmt.Sprintf("Game generation failed: %s", stderr)).
		WithDetail("stderr", stderr)
	if exitErr, ok := err.(*exec.ExitError); ok {
		e = e.WithDetail("exitCode", exitErr.ExitCode())
	}
	return e
}

// BundleNotFound is returned when the generator succeeded without producing an archive.
func BundleNotFound(dir string) *Error {
	return New(ErrCodeBundleNotFound, "Could not find generated game zip file.").
		WithDetail("dir", dir)
}

// BundleAmbiguous is returned when the output directory holds several archives.
func BundleAmbiguous(dir string, found []string) *Error {
	return New(ErrCodeBundleAmbiguous, fmt.Sprintf("Expected one generated game zip file, found %d.", len(found))).
		WithDetail("dir", dir).
		WithDetail("found", found)
}

// ServerExited is returned when the hosting process dies during or after launch.
func ServerExited(exitCode int) *Error {
	return New(ErrCodeServerExited, "Server process failed to start or terminated immediately.").
		WithDetail("exitCode", exitCode)
}

// ExtractionFailed wraps a patch extraction failure.
func ExtractionFailed(bundle string, err error) *Error {
	return Wrap(err, ErrCodeExtractionFailed, fmt.Sprintf("Could not extract patch files from %s.", bundle)).
		WithDetail("bundle", bundle)
}

// CommandFailed creates a command execution failure error
func CommandFailed(cmd string, err error) *Error {
	e := Wrap(err, ErrCodeCommandFailed, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)

	// Extract exit code if available
	if exitErr, ok := err.(*exec.ExitError); ok {
		e = e.WithDetail("exitCode", exitErr.ExitCode())
	}

	return e
}

// CommandNotFound is returned when an external executable cannot be started.
func CommandNotFound(cmd string, err error) *Error {
	return Wrap(err, ErrCodeCommandNotFound, fmt.Sprintf("Required executable not found: %s", cmd)).
		WithDetail("command", cmd)
}

// DaemonNotRunning is returned by clients when the daemon socket is unreachable.
func DaemonNotRunning(socket string) *Error {
	return New(ErrCodeDaemonNotRunning, "The multiworld daemon is not running. Start it with 'multiworld daemon start'.").
		WithDetail("socket", socket)
}

// DaemonRunning is returned when another daemon already owns the state directory.
func DaemonRunning(pid int) *Error {
	return New(ErrCodeDaemonRunning, fmt.Sprintf("The multiworld daemon is already running with PID %d.", pid)).
		WithDetail("pid", pid)
}
