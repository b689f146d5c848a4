package workflow

import (
	"slices"
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
)

// StepChange records one step moving between states.
type StepChange struct {
	StepID string           `json:"step_id"`
	From   models.StepState `json:"from"`
	To     models.StepState `json:"to"`
}

// Transition describes an accepted action: the requested step change plus the
// dependent steps it moved as a consequence.
type Transition struct {
	StepChange

	Action  models.Action `json:"action"`
	Cascade []StepChange  `json:"cascade,omitempty"`
	Version int64         `json:"version"`
	At      time.Time     `json:"at"`
}

// Process is a running onboarding workflow. It is not safe for concurrent use;
// callers serialize access per process.
type Process struct {
	state *models.Process
	graph *Graph
	steps map[string]*models.Step
}

// New constructs a process from step definitions. Steps without dependencies
// start pending, all others blocked. Construction errors return no process.
func New(id, name string, defs []models.StepDefinition, now time.Time) (*Process, error) {
	return Construct(models.ProcessDefinition{ID: id, Name: name, Steps: defs}, now)
}

// Construct is New for a full process definition, template reference included.
func Construct(definition models.ProcessDefinition, now time.Time) (*Process, error) {
	graph, err := NewGraph(definition.Steps)
	if err != nil {
		return nil, err
	}

	state := &models.Process{
		ID:         definition.ID,
		Name:       definition.Name,
		TemplateID: definition.TemplateID,
		Steps:      make([]*models.Step, 0, len(definition.Steps)),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, def := range definition.Steps {
		deps := graph.deps[def.ID]

		initial := models.StepStatePending
		if len(deps) > 0 {
			initial = models.StepStateBlocked
		}

		state.Steps = append(state.Steps, &models.Step{
			ID:          def.ID,
			Name:        def.Name,
			Owner:       def.Owner,
			Area:        def.Area,
			DependsOn:   slices.Clone(deps),
			State:       initial,
			Metadata:    def.Metadata,
			Attachments: []models.Attachment{},
			UpdatedAt:   now,
		})
	}

	return newProcess(state, graph), nil
}

// Restore rebuilds a process from persisted state, re-validating the graph and
// the rule that started or completed steps have all dependencies completed.
func Restore(state *models.Process) (*Process, error) {
	if state == nil {
		return nil, &InvalidStateError{Reason: "nil process"}
	}

	state = state.Clone()

	defs := make([]models.StepDefinition, len(state.Steps))
	for i, step := range state.Steps {
		defs[i] = models.StepDefinition{ID: step.ID, Name: step.Name, DependsOn: step.DependsOn}
	}

	graph, err := NewGraph(defs)
	if err != nil {
		return nil, &InvalidStateError{ProcessID: state.ID, Reason: "malformed step graph", Err: err}
	}

	p := newProcess(state, graph)

	for _, step := range state.Steps {
		if !step.State.Valid() {
			return nil, &InvalidStateError{ProcessID: state.ID, Reason: "step " + step.ID + " has unknown state " + string(step.State)}
		}

		if step.State != models.StepStateBlocked && len(p.unmetDependencies(step.ID)) > 0 {
			return nil, &InvalidStateError{ProcessID: state.ID, Reason: "step " + step.ID + " is " + string(step.State) + " with incomplete dependencies"}
		}

		step.DependsOn = slices.Clone(graph.deps[step.ID])
		if step.Attachments == nil {
			step.Attachments = []models.Attachment{}
		}
	}

	return p, nil
}

func newProcess(state *models.Process, graph *Graph) *Process {
	steps := make(map[string]*models.Step, len(state.Steps))
	for _, step := range state.Steps {
		steps[step.ID] = step
	}

	return &Process{state: state, graph: graph, steps: steps}
}

func (p *Process) ID() string {
	return p.state.ID
}

func (p *Process) Version() int64 {
	return p.state.Version
}

func (p *Process) Stopped() bool {
	return p.state.Stopped
}

// Graph returns the immutable dependency graph.
func (p *Process) Graph() *Graph {
	return p.graph
}

// State returns a copy of the persistable process state.
func (p *Process) State() *models.Process {
	return p.state.Clone()
}

// Status recomputes the aggregate status from the current step states.
func (p *Process) Status() models.ProcessStatus {
	return AggregateStatus(p.state.Stopped, p.state.StepStates())
}

// Snapshot returns a deep-copied view of the current state.
func (p *Process) Snapshot() models.Snapshot {
	return models.NewSnapshot(p.state, p.Status())
}

// Step returns a copy of the step with the given id.
func (p *Process) Step(id string) (*models.Step, error) {
	step, ok := p.steps[id]
	if !ok {
		return nil, &StepNotFoundError{ProcessID: p.state.ID, StepID: id}
	}

	return step.Clone(), nil
}

// Apply performs a caller-requested transition on one step. Every check runs
// before the first mutation, so a rejected action leaves the process untouched.
func (p *Process) Apply(stepID string, action models.Action, now time.Time) (*Transition, error) {
	if p.state.Stopped {
		return nil, &ProcessStoppedError{ProcessID: p.state.ID}
	}

	step, ok := p.steps[stepID]
	if !ok {
		return nil, &StepNotFoundError{ProcessID: p.state.ID, StepID: stepID}
	}

	if err := p.check(step, action); err != nil {
		return nil, err
	}

	transition := &Transition{
		StepChange: StepChange{StepID: stepID, From: step.State, To: action.Target()},
		Action:     action,
		At:         now,
	}

	p.setState(step, action.Target(), now)

	switch action {
	case models.ActionComplete:
		transition.Cascade = p.releaseDependents(stepID, now)
	case models.ActionBlock:
		transition.Cascade = p.blockDownstream(stepID, now)
	}

	p.touch(now)
	transition.Version = p.state.Version

	return transition, nil
}

func (p *Process) check(step *models.Step, action models.Action) error {
	invalid := &InvalidTransitionError{StepID: step.ID, Current: step.State, Requested: action}

	switch action {
	case models.ActionStart:
		if step.State != models.StepStatePending && step.State != models.StepStateBlocked {
			return invalid
		}

		// Pending already implies met dependencies; checked again regardless.
		if unmet := p.unmetDependencies(step.ID); len(unmet) > 0 {
			return &DependenciesNotMetError{StepID: step.ID, Pending: unmet}
		}

		// Blocked with every dependency completed is an administrative hold.
		if step.State == models.StepStateBlocked {
			return invalid
		}
	case models.ActionComplete:
		if step.State != models.StepStateInProgress {
			return invalid
		}
	case models.ActionBlock:
		if step.State == models.StepStateBlocked {
			return invalid
		}
	case models.ActionUnblock:
		if step.State != models.StepStateBlocked {
			return invalid
		}

		if unmet := p.unmetDependencies(step.ID); len(unmet) > 0 {
			return &DependenciesNotMetError{StepID: step.ID, Pending: unmet}
		}
	default:
		return invalid
	}

	return nil
}

// releaseDependents moves every blocked direct dependent of a newly completed
// step to pending once all its dependencies are completed. It does not recurse.
func (p *Process) releaseDependents(stepID string, now time.Time) []StepChange {
	var changes []StepChange

	for _, id := range p.graph.dependents[stepID] {
		dependent := p.steps[id]
		if dependent.State != models.StepStateBlocked || len(p.unmetDependencies(id)) > 0 {
			continue
		}

		changes = append(changes, StepChange{StepID: id, From: dependent.State, To: models.StepStatePending})
		p.setState(dependent, models.StepStatePending, now)
	}

	return changes
}

// blockDownstream blocks every transitive dependent of a blocked step so no
// started or completed step is left with an incomplete dependency.
func (p *Process) blockDownstream(stepID string, now time.Time) []StepChange {
	var changes []StepChange

	for _, id := range p.graph.downstream(stepID) {
		dependent := p.steps[id]
		if dependent.State == models.StepStateBlocked {
			continue
		}

		changes = append(changes, StepChange{StepID: id, From: dependent.State, To: models.StepStateBlocked})
		p.setState(dependent, models.StepStateBlocked, now)
	}

	return changes
}

func (p *Process) setState(step *models.Step, state models.StepState, now time.Time) {
	switch state {
	case models.StepStateInProgress:
		step.StartedAt = &now
	case models.StepStateCompleted:
		step.CompletedAt = &now
	case models.StepStateBlocked, models.StepStatePending:
		step.StartedAt = nil
		step.CompletedAt = nil
	}

	step.State = state
	step.UpdatedAt = now
}

func (p *Process) unmetDependencies(stepID string) []string {
	var unmet []string

	for _, dep := range p.graph.deps[stepID] {
		if p.steps[dep].State != models.StepStateCompleted {
			unmet = append(unmet, dep)
		}
	}

	return unmet
}

// Stop freezes the process. Step states are kept as they are and no further
// change is accepted.
func (p *Process) Stop(reason string, now time.Time) error {
	if p.state.Stopped {
		return &ProcessStoppedError{ProcessID: p.state.ID}
	}

	p.state.Stopped = true
	p.state.StopReason = reason
	p.state.StoppedAt = &now
	p.touch(now)

	return nil
}

// Attach records a reference to an uploaded file on a step.
func (p *Process) Attach(stepID string, attachment models.Attachment, now time.Time) error {
	if p.state.Stopped {
		return &ProcessStoppedError{ProcessID: p.state.ID}
	}

	step, ok := p.steps[stepID]
	if !ok {
		return &StepNotFoundError{ProcessID: p.state.ID, StepID: stepID}
	}

	step.Attachments = append(step.Attachments, attachment)
	step.UpdatedAt = now
	p.touch(now)

	return nil
}

// Detach removes an attachment reference from a step and returns it so the
// caller can delete the stored file.
func (p *Process) Detach(stepID, attachmentID string, now time.Time) (models.Attachment, error) {
	if p.state.Stopped {
		return models.Attachment{}, &ProcessStoppedError{ProcessID: p.state.ID}
	}

	step, ok := p.steps[stepID]
	if !ok {
		return models.Attachment{}, &StepNotFoundError{ProcessID: p.state.ID, StepID: stepID}
	}

	idx := slices.IndexFunc(step.Attachments, func(a models.Attachment) bool {
		return a.ID == attachmentID
	})
	if idx < 0 {
		return models.Attachment{}, &AttachmentNotFoundError{StepID: stepID, AttachmentID: attachmentID}
	}

	removed := step.Attachments[idx]
	step.Attachments = slices.Delete(step.Attachments, idx, idx+1)
	step.UpdatedAt = now
	p.touch(now)

	return removed, nil
}

func (p *Process) touch(now time.Time) {
	p.state.Version++
	p.state.UpdatedAt = now
}
