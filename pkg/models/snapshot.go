package models

import "time"

// Snapshot is a read-only view of a process at one version.
type Snapshot struct {
	ProcessID  string        `json:"process_id"`
	Name       string        `json:"name"`
	TemplateID string        `json:"template_id,omitempty"`
	Status     ProcessStatus `json:"status"`
	Stopped    bool          `json:"stopped"`
	StopReason string        `json:"stop_reason,omitempty"`
	Version    int64         `json:"version"`
	Steps      []*Step       `json:"steps"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewSnapshot copies p into a snapshot carrying the given aggregate status.
func NewSnapshot(p *Process, status ProcessStatus) Snapshot {
	c := p.Clone()

	return Snapshot{
		ProcessID:  c.ID,
		Name:       c.Name,
		TemplateID: c.TemplateID,
		Status:     status,
		Stopped:    c.Stopped,
		StopReason: c.StopReason,
		Version:    c.Version,
		Steps:      c.Steps,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// Clone returns a deep copy so callers cannot mutate a shared snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s

	c.Steps = make([]*Step, len(s.Steps))
	for i, step := range s.Steps {
		c.Steps[i] = step.Clone()
	}

	return c
}

// Step returns the step with the given id, if present.
func (s Snapshot) Step(id string) (*Step, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}
