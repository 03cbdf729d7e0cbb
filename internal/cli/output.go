package cli

import (
	"errors"
	"fmt"

	"spiritcore/internal/core"
)

// Exit codes for spiritctl commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // operation rejected or declined
	ExitCommandError = 2 // bad flags, unreadable input, store unavailable
	ExitDenied       = 3 // the user lacks the required right
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error returned by a command to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var perr *core.PermissionError
	if errors.As(err, &perr) {
		return ExitDenied
	}
	var pe *core.PersistenceError
	if errors.As(err, &pe) {
		return ExitCommandError
	}
	return ExitFailure
}
