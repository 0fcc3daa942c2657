// Package fleeterr defines the error taxonomy shared by the fleet controller,
// launcher and CLI.
package fleeterr

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// LauncherError represents an error with additional context for troubleshooting.
type LauncherError struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// stack holds the program counters of the code that built the error
	stack []uintptr

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Configuration errors (fatal, never retried)
	ErrorCodeInvalidConfiguration  ErrorCode = "INVALID_CONFIGURATION"
	ErrorCodeUnknownGroup          ErrorCode = "UNKNOWN_GROUP"
	ErrorCodeCommandsFolderMissing ErrorCode = "COMMANDS_FOLDER_MISSING"

	// Process lifecycle errors
	ErrorCodeDuplicateStart     ErrorCode = "DUPLICATE_START"
	ErrorCodeExecutableNotFound ErrorCode = "EXECUTABLE_NOT_FOUND"
	ErrorCodeProcessStartFailed ErrorCode = "PROCESS_START_FAILED"
	ErrorCodeProcessCrashed     ErrorCode = "PROCESS_CRASHED"
	ErrorCodeHealthCheckFailed  ErrorCode = "HEALTH_CHECK_FAILED"
	ErrorCodeForcedStop         ErrorCode = "FORCED_STOP"

	// Internal errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Fatal reports whether errors with this code must never be retried.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrorCodeInvalidConfiguration, ErrorCodeUnknownGroup, ErrorCodeCommandsFolderMissing, ErrorCodeExecutableNotFound:
		return true
	default:
		return false
	}
}

// Error implements the error interface
func (e *LauncherError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LauncherError with the given code and message
func NewError(code ErrorCode, message string) *LauncherError {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	return &LauncherError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
		stack:   pcs[:n],
	}
}

// StackTrace returns where the error was built, one frame per function
func (e *LauncherError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// WithContext adds context information to the error
func (e *LauncherError) WithContext(key string, value interface{}) *LauncherError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *LauncherError) WithCause(cause error) *LauncherError {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *LauncherError) WithSuggestion(suggestion string) *LauncherError {
	e.Suggestion = suggestion
	return e
}

// ErrInvalidConfiguration creates an error for configuration validation failures
func ErrInvalidConfiguration(field string, value interface{}, reason string) *LauncherError {
	return NewError(ErrorCodeInvalidConfiguration,
		fmt.Sprintf("Invalid configuration: %s", reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSuggestion("Review the server configuration file; timing values use Go duration syntax (200ms, 5s).")
}

// ErrUnknownGroup creates an error for a group id that is not in the configuration
func ErrUnknownGroup(groupID string, known []string) *LauncherError {
	return NewError(ErrorCodeUnknownGroup,
		fmt.Sprintf("Group '%s' is not configured", groupID)).
		WithContext("group_id", groupID).
		WithSuggestion(fmt.Sprintf(
			"Use one of the configured groups (%s) or PROXY for the reverse proxy",
			strings.Join(known, ", ")))
}

// ErrCommandsFolderMissing creates an error for a missing system commands folder
func ErrCommandsFolderMissing(folder string, cause error) *LauncherError {
	return NewError(ErrorCodeCommandsFolderMissing,
		"System commands folder does not exist").
		WithContext("folder", folder).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Workers and the launcher exchange marker files through this folder:\n"+
				"  mkdir -p %s", folder))
}

// ErrDuplicateStart creates an error for starting a process that is already tracked as live
func ErrDuplicateStart(processID string, pid int) *LauncherError {
	return NewError(ErrorCodeDuplicateStart,
		fmt.Sprintf("Process '%s' is already running", processID)).
		WithContext("process_id", processID).
		WithContext("pid", pid).
		WithSuggestion("Stop or restart the process instead of starting it twice")
}

// ErrExecutableNotFound creates an error for missing executables
func ErrExecutableNotFound(processID, execPath string, cause error) *LauncherError {
	return NewError(ErrorCodeExecutableNotFound,
		fmt.Sprintf("Executable for '%s' could not be launched", processID)).
		WithContext("process_id", processID).
		WithContext("executable_path", execPath).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Check that the executable exists and is runnable:\n"+
				"  ls -la %s", execPath))
}

// ErrProcessStartFailed creates an error for a process that kept exiting right after spawn
func ErrProcessStartFailed(processID string, attempts int, cause error) *LauncherError {
	return NewError(ErrorCodeProcessStartFailed,
		fmt.Sprintf("Process '%s' exited immediately after %d start attempts", processID, attempts)).
		WithContext("process_id", processID).
		WithContext("attempts", attempts).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Port already in use (another instance still running)\n" +
				"  2. Missing dependencies or bad arguments\n" +
				"  3. Insufficient permissions\n" +
				"Check the worker logs for more details")
}

// ErrProcessCrashed creates an error for a process that died while starting up
func ErrProcessCrashed(processID string, pid int) *LauncherError {
	return NewError(ErrorCodeProcessCrashed,
		fmt.Sprintf("Process '%s' died before becoming healthy", processID)).
		WithContext("process_id", processID).
		WithContext("pid", pid).
		WithSuggestion("Check the worker logs for crash details")
}

// ErrHealthCheckFailed creates an error for a process that never became healthy
func ErrHealthCheckFailed(processID string, attempts int) *LauncherError {
	return NewError(ErrorCodeHealthCheckFailed,
		fmt.Sprintf("Process '%s' did not pass health checks", processID)).
		WithContext("process_id", processID).
		WithContext("attempts", attempts).
		WithSuggestion(
			"The process stayed up but never answered its health endpoint.\n" +
				"Raise timing.slow_start_attempts or timing.slow_start_delay for slow workers")
}

// ErrForcedStop creates an error describing a stop that needed a forced kill
func ErrForcedStop(processID string, attempts int) *LauncherError {
	return NewError(ErrorCodeForcedStop,
		fmt.Sprintf("Process '%s' ignored %d stop requests and was killed", processID, attempts)).
		WithContext("process_id", processID).
		WithContext("attempts", attempts)
}

// ErrInternal creates an error for broken internal invariants
func ErrInternal(message string) *LauncherError {
	return NewError(ErrorCodeInternalError, message)
}

// IsErrorCode checks if an error (or anything it wraps) has the specified error code
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode returns the error code from an error, or empty string if not a LauncherError
func GetErrorCode(err error) ErrorCode {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code
	}
	return ""
}

// GetSuggestion returns the suggestion from an error, or empty string if not available
func GetSuggestion(err error) string {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Suggestion
	}
	return ""
}

// GetStackTrace returns where the first LauncherError in err's chain was
// built, or empty string
func GetStackTrace(err error) string {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.StackTrace()
	}
	return ""
}
