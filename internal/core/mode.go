// Package core is the orchestration layer.  It turns a validated
// configuration into the fixed sequence of collaborator calls of one
// installation mode.
//
// Architecture layers (bottom → top):
//
//	transport  →  uboot  →  session  →  netboot/nand/env/storage  →  core  →  cmd (CLI)
//
// The dispatch table in this package is the single place where a mode
// is mapped to its sequence.  Whatever a handler does, every resource
// it acquired is released before the run reports its Outcome.
package core

import (
	"errors"
	"fmt"

	"openfd/internal/abort"
	fderr "openfd/internal/errors"
)

// Outcome is the terminal classification of a run.
type Outcome int

const (
	Success Outcome = iota
	UserCancelled
	ValidationFailed
	Fatal
)

var outcomeNames = map[Outcome]string{
	Success:          "success",
	UserCancelled:    "cancelled",
	ValidationFailed: "invalid",
	Fatal:            "fatal",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ExitCode is the process status reported for o.  Cancellation is not
// a failure.
func (o Outcome) ExitCode() int {
	switch o {
	case Success, UserCancelled:
		return 0
	case ValidationFailed:
		return 2
	default:
		return 1
	}
}

// Classify maps the error a run ended with to its Outcome.
func Classify(err error, interrupted bool) Outcome {
	switch {
	case interrupted, errors.Is(err, abort.ErrInterrupted), fderr.IsCancelled(err):
		return UserCancelled
	case err == nil:
		return Success
	case fderr.IsValidation(err):
		return ValidationFailed
	default:
		return Fatal
	}
}

// RunError reports a run that did not succeed.  Cancelled runs are not
// RunErrors.
type RunError struct {
	Outcome Outcome
	Err     error
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

// ExitCode maps any error returned by the CLI to a process status.
// Errors that never reached the orchestrator are classified by type.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Outcome.ExitCode()
	}
	return Classify(err, false).ExitCode()
}
