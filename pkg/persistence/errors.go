// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrProcessNotFound indicates a process was not found by the given identifier.
	ErrProcessNotFound = errors.New("process not found")

	// ErrVersionConflict indicates a stored process is newer than the one being saved.
	ErrVersionConflict = errors.New("process version conflict")

	// ErrInvalidProcess indicates the process cannot be stored (nil, missing or unsafe id).
	ErrInvalidProcess = errors.New("invalid process")
)

// ProcessError wraps process-related errors with additional context.
type ProcessError struct {
	Op        string // Operation being performed (e.g., "ProcessByID", "Save", "Delete")
	ProcessID string
	Err       error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s operation failed for process %s: %v", e.Op, e.ProcessID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for process errors.
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProcessError creates a new process error with context.
func NewProcessError(op, processID string, err error) *ProcessError {
	return &ProcessError{
		Op:        op,
		ProcessID: processID,
		Err:       err,
	}
}

// IsProcessNotFound checks if an error indicates a process was not found.
func IsProcessNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound)
}

// IsVersionConflict checks if an error indicates a lost update.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
