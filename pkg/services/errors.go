// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/templates"
	"github.com/fieldserv/onboarding/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidAction  = errors.New("invalid action")
	ErrInvalidStatus  = errors.New("invalid process status")

	// Not Found Errors (404 Not Found).
	ErrTemplateNotFound = templates.ErrTemplateNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrProcessExists = errors.New("process already exists")

	// Infrastructure Errors (5xx).
	ErrPersistenceNotConfigured = errors.New("persistence not configured")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrInvalidStatus) ||
		workflow.IsConstructionError(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, workflow.ErrProcessNotFound) ||
		errors.Is(err, workflow.ErrStepNotFound) ||
		errors.Is(err, workflow.ErrAttachmentNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return workflow.IsTransitionConflict(err) ||
		errors.Is(err, ErrProcessExists) ||
		errors.Is(err, persistence.ErrVersionConflict)
}
