package models

import "time"

// StepState is the lifecycle state of a single onboarding step.
type StepState string

const (
	StepStatePending    StepState = "pending"     // Dependencies met, not started
	StepStateBlocked    StepState = "blocked"     // Unmet dependencies or administrative hold
	StepStateInProgress StepState = "in_progress" // Started by its owner
	StepStateCompleted  StepState = "completed"   // Done, terminal
)

// Valid reports whether s is one of the known step states.
func (s StepState) Valid() bool {
	switch s {
	case StepStatePending, StepStateBlocked, StepStateInProgress, StepStateCompleted:
		return true
	default:
		return false
	}
}

// Action is a caller-requested step transition.
type Action string

const (
	ActionStart    Action = "start"    // Pending -> InProgress
	ActionComplete Action = "complete" // InProgress -> Completed
	ActionBlock    Action = "block"    // any -> Blocked (administrative override)
	ActionUnblock  Action = "unblock"  // Blocked -> Pending, once dependencies are met
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionComplete, ActionBlock, ActionUnblock:
		return true
	default:
		return false
	}
}

// Target returns the state an accepted action moves a step into.
func (a Action) Target() StepState {
	switch a {
	case ActionStart:
		return StepStateInProgress
	case ActionComplete:
		return StepStateCompleted
	case ActionBlock:
		return StepStateBlocked
	case ActionUnblock:
		return StepStatePending
	default:
		return ""
	}
}

// StepDefinition describes a step when a process is constructed.
type StepDefinition struct {
	ID        string         `json:"id"                   validate:"required"`
	Name      string         `json:"name"                 validate:"required,min=1"`
	Owner     string         `json:"owner,omitempty"`
	Area      string         `json:"area,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" validate:"dive,required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Step is a unit of work within a process. Owner, Area and Metadata are opaque
// to the engine and passed through unchanged.
type Step struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Owner       string         `json:"owner,omitempty"`
	Area        string         `json:"area,omitempty"`
	DependsOn   []string       `json:"depends_on"`
	State       StepState      `json:"state"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the step. Metadata values are copied one level deep.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}

	c := *s
	c.DependsOn = append([]string{}, s.DependsOn...)
	c.Attachments = append([]Attachment{}, s.Attachments...)
	c.Metadata = cloneMap(s.Metadata)
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)

	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

// ProcessDefinition is the input for constructing a process.
type ProcessDefinition struct {
	ID         string           `json:"id"                    validate:"required"`
	Name       string           `json:"name"                  validate:"required"`
	TemplateID string           `json:"template_id,omitempty"`
	Steps      []StepDefinition `json:"steps"                 validate:"dive"`
}
