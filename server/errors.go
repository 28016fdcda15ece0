package server

import (
	"emperror.dev/errors"
	"fmt"
)

var ErrServerPathNotDirectory = errors.Sentinel("server: server path is not a directory")

// ExitError is returned once the server process has exited. It is returned for
// clean exits as well so that the caller can always propagate the exact code.
type ExitError struct {
	Code int

	// Err is set when the process could not be waited on for a reason other
	// than a non-zero exit.
	Err error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server: process exited abnormally: %v", e.Err)
	}
	return fmt.Sprintf("server: process exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// StepError wraps the failure of one of the startup steps that run before the
// server is supervised.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("server: %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsExitError returns the exit error wrapped in err, if any.
func IsExitError(err error) (*ExitError, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
