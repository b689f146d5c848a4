// Package models defines the domain models for dependency-gated onboarding processes.
package models

import "time"

// ProcessStatus is the aggregate status derived from a process' step states.
type ProcessStatus string

const (
	ProcessStatusNotStarted ProcessStatus = "not_started"
	ProcessStatusInProgress ProcessStatus = "in_progress"
	ProcessStatusBlocked    ProcessStatus = "blocked" // Cannot advance without administrative intervention
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusStopped    ProcessStatus = "stopped"
)

// Process is the persisted state of one onboarding workflow instance.
// It is mutated only by the workflow engine.
type Process struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TemplateID string     `json:"template_id,omitempty"`
	Steps      []*Step    `json:"steps"`
	Stopped    bool       `json:"stopped"`
	StopReason string     `json:"stop_reason,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Version    int64      `json:"version"` // Incremented on every accepted change
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the process.
func (p *Process) Clone() *Process {
	if p == nil {
		return nil
	}

	c := *p
	c.StoppedAt = cloneTime(p.StoppedAt)

	c.Steps = make([]*Step, len(p.Steps))
	for i, step := range p.Steps {
		c.Steps[i] = step.Clone()
	}

	return &c
}

// StepStates returns the states of all steps, in step order.
func (p *Process) StepStates() []StepState {
	states := make([]StepState, len(p.Steps))
	for i, step := range p.Steps {
		states[i] = step.State
	}

	return states
}
