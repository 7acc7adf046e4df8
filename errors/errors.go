// Package errors provides error handling for flowd.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured details attached to errors
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrAlreadyRunning) {
//	    // handle duplicate run
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	GetAllDetails  = crdb.GetAllDetails
	GetAllHints    = crdb.GetAllHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the job engine. Use these with errors.Is() for
// type-safe error checking, and errors.Wrap() to add context while
// preserving the type.
var (
	// ErrAlreadyRunning indicates a job already has a live running handle
	// and the new run was not a retry re-entry.
	ErrAlreadyRunning = New("job already running")

	// ErrSpawn indicates the subprocess for a job could not be started.
	ErrSpawn = New("process spawn failed")

	// ErrTimeout indicates a job exceeded its configured wall clock and
	// was force-terminated.
	ErrTimeout = New("execution timed out")

	// ErrAutoFixFailed indicates the remediation command itself exited
	// non-zero.
	ErrAutoFixFailed = New("auto-fix command failed")

	// ErrNotFound indicates the requested job, task, or record does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidConfig indicates a job or edge definition failed validation
	// at load time.
	ErrInvalidConfig = New("invalid configuration")
)

// IsAlreadyRunning checks if an error is or wraps ErrAlreadyRunning.
func IsAlreadyRunning(err error) bool {
	return err != nil && Is(err, ErrAlreadyRunning)
}

// IsTimeout checks if an error is or wraps ErrTimeout.
func IsTimeout(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
