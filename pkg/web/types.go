// Package web provides HTTP request and response types for the onboarding API.
package web

import "github.com/fieldserv/onboarding/pkg/models"

// CreateProcessRequest represents the request body for starting a process.
// Steps may be omitted when template_id is set.
type CreateProcessRequest struct {
	ID         string                  `json:"id,omitempty"          validate:"omitempty,max=128"`
	Name       string                  `json:"name,omitempty"        validate:"required_without=TemplateID"`
	TemplateID string                  `json:"template_id,omitempty"`
	Steps      []models.StepDefinition `json:"steps,omitempty"       validate:"required_without=TemplateID,dive"`
}

// TransitionRequest represents the request body for acting on a step.
type TransitionRequest struct {
	Action models.Action `json:"action" validate:"required,oneof=start complete block unblock"`
}

// StopRequest represents the optional request body for stopping a process.
type StopRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=512"`
}

// ListProcessesResponse wraps the list endpoint result.
type ListProcessesResponse struct {
	Processes  []models.Snapshot `json:"processes"`
	TotalCount int               `json:"total_count"`
}

// AttachmentResponse is returned after an upload.
type AttachmentResponse struct {
	Attachment models.Attachment `json:"attachment"`
	Process    models.Snapshot   `json:"process"`
}
