package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Session precondition errors
	ErrCodeSessionActive ErrorCode = "SESSION_ACTIVE"
	ErrCodeWrongState    ErrorCode = "WRONG_STATE"
	ErrCodeNotHost       ErrorCode = "NOT_HOST"
	ErrCodeNotReady      ErrorCode = "NOT_READY"
	ErrCodeSlotTaken     ErrorCode = "SLOT_TAKEN"
	ErrCodeUnknownSlot   ErrorCode = "UNKNOWN_SLOT"
	ErrCodeProcessBusy   ErrorCode = "PROCESS_BUSY"

	// External process errors
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrCodeBundleNotFound   ErrorCode = "BUNDLE_NOT_FOUND"
	ErrCodeBundleAmbiguous  ErrorCode = "BUNDLE_AMBIGUOUS"
	ErrCodeServerExited     ErrorCode = "SERVER_EXITED"
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"

	// Command execution errors
	ErrCodeCommandTimeout  ErrorCode = "COMMAND_TIMEOUT"
	ErrCodeCommandNotFound ErrorCode = "COMMAND_NOT_FOUND"
	ErrCodeCommandFailed   ErrorCode = "COMMAND_FAILED"

	// Daemon errors
	ErrCodeDaemonRunning    ErrorCode = "DAEMON_RUNNING"
	ErrCodeDaemonNotRunning ErrorCode = "DAEMON_NOT_RUNNING"

	// General errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// Error represents a structured error with context. Message is always
// suitable for direct display to a user.
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *Error) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an Error
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if coded, ok := err.(*Error); ok {
			return coded, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// Is checks if an error is a specific Error code
func Is(err error, code ErrorCode) bool {
	coded, ok := As(err)
	return ok && coded.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if coded, ok := As(err); ok {
		return coded.Code
	}
	return ""
}

// UserMessage returns text that can be shown to a user as-is. Uncoded errors
// never leak their internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if coded, ok := As(err); ok {
		return coded.Message
	}
	return "An internal error occurred."
}
