package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/multiworld/errors"
)

// hints are printed under the error message for codes with an obvious next step.
var hints = map[errors.ErrorCode]string{
	errors.ErrCodeConfigNotFound:   "Create multiworld.yml or pass --config.",
	errors.ErrCodeConfigInvalid:    "Run 'multiworld config validate' for details.",
	errors.ErrCodeConfigValidation: "Run 'multiworld config validate' for details.",
	errors.ErrCodeDaemonRunning:    "Stop it first with 'multiworld daemon stop'.",
	errors.ErrCodeSessionActive:    "Check it with 'multiworld session status'.",
	errors.ErrCodeWrongState:       "Check the session with 'multiworld session status'.",
	errors.ErrCodeNotReady:         "Missing players upload their YAML with 'multiworld session upload'.",
	errors.ErrCodePermissionDenied: "Ask an owner to run 'multiworld whitelist add <user>'.",
	errors.ErrCodeCommandNotFound:  "Check toolchain.path in multiworld.yml.",
	errors.ErrCodeCommandTimeout:   "Raise toolchain.generation_timeout in multiworld.yml.",
	errors.ErrCodeGenerationFailed: "The generator output is in the daemon log.",
	errors.ErrCodeBundleNotFound:   "Check the generator output under paths.games.",
	errors.ErrCodeBundleAmbiguous:  "Check the generator output under paths.games.",
	errors.ErrCodeServerExited:     "The server output is in 'multiworld logs'.",
}

// ErrorHandler prints errors with their user message and a hint.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates an error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle prints err and returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}

	message := err.Error()
	if _, ok := errors.As(err); ok {
		message = errors.UserMessage(err)
	}
	fmt.Fprintf(h.Out, "❌ %s\n", message)
	if hint, ok := hints[errors.GetCode(err)]; ok {
		fmt.Fprintln(h.Out, hint)
	}

	if h.Verbose {
		if e, ok := errors.As(err); ok {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", e.ToJSON())
			if e.Cause != nil {
				fmt.Fprintf(h.Out, "Cause: %v\n", e.Cause)
			}
		}
	}
	return err
}
