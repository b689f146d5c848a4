package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fieldserv/onboarding/pkg/models"
)

// Error kinds returned by the engine. Every engine error matches one of these
// through errors.Is.
var (
	// ErrInvalidDefinition indicates a step definition is malformed (e.g. an empty id).
	ErrInvalidDefinition = errors.New("invalid step definition")

	// ErrCyclicDependency indicates the step dependencies contain a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnknownStepReference indicates a dependency names a step that does not exist.
	ErrUnknownStepReference = errors.New("unknown step reference")

	// ErrDuplicateStep indicates two steps share the same id.
	ErrDuplicateStep = errors.New("duplicate step")

	// ErrStepNotFound indicates a query or transition referenced a nonexistent step.
	ErrStepNotFound = errors.New("step not found")

	// ErrDependenciesNotMet indicates a step was started while a dependency is incomplete.
	ErrDependenciesNotMet = errors.New("dependencies not met")

	// ErrInvalidTransition indicates the requested transition is illegal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrProcessStopped indicates the process was stopped and accepts no further changes.
	ErrProcessStopped = errors.New("process stopped")

	// ErrProcessNotFound indicates no process exists for the given id.
	ErrProcessNotFound = errors.New("process not found")

	// ErrAttachmentNotFound indicates a step has no attachment with the given id.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrInvalidState indicates a persisted process violates the engine invariants.
	ErrInvalidState = errors.New("invalid process state")
)

// CyclicDependencyError names the steps forming the cycle, first step repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// UnknownStepReferenceError names the step holding a dangling dependency.
type UnknownStepReferenceError struct {
	StepID    string
	Reference string
}

func (e *UnknownStepReferenceError) Error() string {
	return fmt.Sprintf("%v: step %s depends on %s", ErrUnknownStepReference, e.StepID, e.Reference)
}

func (e *UnknownStepReferenceError) Is(target error) bool {
	return target == ErrUnknownStepReference
}

// DuplicateStepError names the repeated step id.
type DuplicateStepError struct {
	StepID string
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("%v: %q", ErrDuplicateStep, e.StepID)
}

func (e *DuplicateStepError) Is(target error) bool {
	return target == ErrDuplicateStep
}

// StepNotFoundError names the missing step.
type StepNotFoundError struct {
	ProcessID string
	StepID    string
}

func (e *StepNotFoundError) Error() string {
	if e.ProcessID == "" {
		return fmt.Sprintf("%v: %s", ErrStepNotFound, e.StepID)
	}

	return fmt.Sprintf("%v: %s in process %s", ErrStepNotFound, e.StepID, e.ProcessID)
}

func (e *StepNotFoundError) Is(target error) bool {
	return target == ErrStepNotFound
}

// DependenciesNotMetError lists the dependencies that are not yet completed.
type DependenciesNotMetError struct {
	StepID  string
	Pending []string
}

func (e *DependenciesNotMetError) Error() string {
	return fmt.Sprintf("%v: step %s waits on %s", ErrDependenciesNotMet, e.StepID, strings.Join(e.Pending, ", "))
}

func (e *DependenciesNotMetError) Is(target error) bool {
	return target == ErrDependenciesNotMet
}

// InvalidTransitionError names the current state and the requested action.
type InvalidTransitionError struct {
	StepID    string
	Current   models.StepState
	Requested models.Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%v: cannot %s step %s from state %s", ErrInvalidTransition, e.Requested, e.StepID, e.Current)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ProcessStoppedError names the stopped process.
type ProcessStoppedError struct {
	ProcessID string
}

func (e *ProcessStoppedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrProcessStopped, e.ProcessID)
}

func (e *ProcessStoppedError) Is(target error) bool {
	return target == ErrProcessStopped
}

// ProcessNotFoundError names the missing process.
type ProcessNotFoundError struct {
	ProcessID string
}

func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrProcessNotFound, e.ProcessID)
}

func (e *ProcessNotFoundError) Is(target error) bool {
	return target == ErrProcessNotFound
}

// AttachmentNotFoundError names the missing attachment.
type AttachmentNotFoundError struct {
	StepID       string
	AttachmentID string
}

func (e *AttachmentNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s on step %s", ErrAttachmentNotFound, e.AttachmentID, e.StepID)
}

func (e *AttachmentNotFoundError) Is(target error) bool {
	return target == ErrAttachmentNotFound
}

// InvalidStateError describes why a persisted process was rejected.
type InvalidStateError struct {
	ProcessID string
	Reason    string
	Err       error
}

func (e *InvalidStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %s: %s: %v", ErrInvalidState, e.ProcessID, e.Reason, e.Err)
	}

	return fmt.Sprintf("%v %s: %s", ErrInvalidState, e.ProcessID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error {
	return e.Err
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// IsConstructionError reports whether err rejected a process definition.
func IsConstructionError(err error) bool {
	return errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrUnknownStepReference) ||
		errors.Is(err, ErrDuplicateStep)
}

// IsTransitionConflict reports whether err rejected a change because of the current process state.
func IsTransitionConflict(err error) bool {
	return errors.Is(err, ErrDependenciesNotMet) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrProcessStopped)
}
