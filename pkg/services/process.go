package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/otelhelper"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// validProcessID restricts process ids to characters that are safe as file
// names and URL path segments.
var validProcessID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ChangeKind names the kind of accepted change.
type ChangeKind string

const (
	ChangeCreated           ChangeKind = "created"
	ChangeTransitioned      ChangeKind = "transitioned"
	ChangeStopped           ChangeKind = "stopped"
	ChangeAttachmentAdded   ChangeKind = "attachment_added"
	ChangeAttachmentRemoved ChangeKind = "attachment_removed"
)

// Change describes one accepted mutation together with the snapshot taken
// right after it.
type Change struct {
	Kind       ChangeKind
	Snapshot   models.Snapshot
	Transition *workflow.Transition // Set for ChangeTransitioned
	StepID     string               // Set for attachment changes
	Attachment *models.Attachment   // Set for attachment changes
	Reason     string               // Set for ChangeStopped
}

// Callback receives the snapshot after each accepted change of one process.
type Callback func(snapshot models.Snapshot)

// Observer receives every accepted change of every process.
type Observer func(ctx context.Context, change Change)

// Templates resolves template ids for process creation.
type Templates interface {
	Get(id string) (*models.Template, error)
}

// Options configures a Processes service. Only the zero value of each field
// is optional.
type Options struct {
	Persistence persistence.Persistence // nil keeps processes in memory only
	Templates   Templates
	Tracer      trace.Tracer
	Logger      *slog.Logger
	Clock       func() time.Time

	// SaveOnChange writes each process after every accepted change, outside
	// the process lock. Failed writes stay dirty for the next Flush.
	SaveOnChange bool
}

// Processes owns the running onboarding processes. Changes to one process are
// serialized by that process' lock; different processes proceed independently.
// Snapshot reads never take the lock.
type Processes struct {
	persistence  persistence.Persistence
	templates    Templates
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
	saveOnChange bool

	mu      sync.RWMutex
	entries map[string]*entry

	observersMu  sync.RWMutex
	observers    map[int]Observer
	nextObserver int

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

type entry struct {
	mu       sync.Mutex // Serializes changes to process
	process  *workflow.Process
	snapshot atomic.Pointer[models.Snapshot]

	subsMu  sync.Mutex
	subs    map[int]Callback
	nextSub int
}

func newEntry(process *workflow.Process) *entry {
	e := &entry{process: process, subs: make(map[int]Callback)}
	e.publish()

	return e
}

// publish stores the current snapshot. Callers hold e.mu or own e exclusively.
func (e *entry) publish() models.Snapshot {
	snapshot := e.process.Snapshot()
	e.snapshot.Store(&snapshot)

	return snapshot
}

func (e *entry) callbacks() []Callback {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	out := make([]Callback, len(ids))
	for i, id := range ids {
		out[i] = e.subs[id]
	}

	return out
}

// NewProcesses creates a new process service.
func NewProcesses(opts Options) *Processes {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Processes{
		persistence:  opts.Persistence,
		templates:    opts.Templates,
		tracer:       tracer,
		logger:       logger.With("module", "processes"),
		now:          clock,
		saveOnChange: opts.SaveOnChange,
		entries:      make(map[string]*entry),
		observers:    make(map[int]Observer),
		dirty:        make(map[string]struct{}),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Processes) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence disabled, processes are kept in memory", true
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateProcessRequest contains the input for starting a process. Steps may be
// omitted when TemplateID names a known template.
type CreateProcessRequest struct {
	ID         string                  `json:"id,omitempty"`
	Name       string                  `json:"name"                  validate:"required_without=TemplateID"`
	TemplateID string                  `json:"template_id,omitempty"`
	Steps      []models.StepDefinition `json:"steps,omitempty"       validate:"required_without=TemplateID,dive"`
}

// Create constructs a new process. Construction errors (cycles, unknown
// references, duplicate ids) abort creation and nothing is stored.
func (s *Processes) Create(ctx context.Context, req CreateProcessRequest) (models.Snapshot, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "processes.create",
		attribute.String("onboarding.template.id", req.TemplateID),
	)
	defer span.End()

	definition, err := s.definition(req)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Snapshot{}, err
	}

	span.SetAttributes(attribute.String(otelhelper.ProcessIDKey, definition.ID))

	process, err := workflow.Construct(definition, s.now())
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Snapshot{}, err
	}

	exists, err := s.exists(ctx, definition.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Snapshot{}, err
	}

	if exists {
		err = NewValidationError("Create", "process_exists", "process "+definition.ID+" already exists", ErrProcessExists)
		otelhelper.SetError(span, err)

		return models.Snapshot{}, err
	}

	e := newEntry(process)
	e.mu.Lock()

	s.mu.Lock()
	if _, taken := s.entries[definition.ID]; taken {
		s.mu.Unlock()
		e.mu.Unlock()

		return models.Snapshot{}, NewValidationError("Create", "process_exists", "process "+definition.ID+" already exists", ErrProcessExists)
	}

	s.entries[definition.ID] = e
	s.mu.Unlock()

	snapshot := *e.snapshot.Load()
	s.markDirty(definition.ID)
	s.notify(ctx, e, Change{Kind: ChangeCreated, Snapshot: snapshot})
	e.mu.Unlock()

	s.logger.InfoContext(ctx, "Process created", "process_id", definition.ID, "steps", len(definition.Steps), "template_id", definition.TemplateID)
	s.afterChange(ctx, definition.ID)

	return snapshot.Clone(), nil
}

func (s *Processes) definition(req CreateProcessRequest) (models.ProcessDefinition, error) {
	definition := models.ProcessDefinition{
		ID:         req.ID,
		Name:       req.Name,
		TemplateID: req.TemplateID,
		Steps:      req.Steps,
	}

	if req.TemplateID != "" {
		if s.templates == nil {
			return definition, NewValidationError("Create", "template_not_found", "templates are not configured", ErrTemplateNotFound)
		}

		template, err := s.templates.Get(req.TemplateID)
		if err != nil {
			return definition, err
		}

		if len(definition.Steps) == 0 {
			definition.Steps = template.Steps
		}

		if definition.Name == "" {
			definition.Name = template.Name
		}
	}

	if definition.ID == "" {
		definition.ID = uuid.NewString()
	}

	if !validProcessID.MatchString(definition.ID) {
		return definition, NewValidationError("Create", "invalid_id", "process id must be 1 to 128 letters, digits, '_' or '-'", ErrInvalidRequest)
	}

	if definition.Name == "" {
		return definition, NewValidationError("Create", "name_required", "process name is required", ErrInvalidRequest)
	}

	return definition, nil
}

func (s *Processes) exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	_, resident := s.entries[id]
	s.mu.RUnlock()

	if resident || s.persistence == nil {
		return resident, nil
	}

	_, err := s.persistence.ProcessByID(ctx, id)

	switch {
	case err == nil:
		return true, nil
	case persistence.IsProcessNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check process %s: %w", id, err)
	}
}

// entry returns the resident process, loading it from persistence on first use.
func (s *Processes) entry(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if ok {
		return e, nil
	}

	if s.persistence == nil || !validProcessID.MatchString(id) {
		return nil, &workflow.ProcessNotFoundError{ProcessID: id}
	}

	state, err := s.persistence.ProcessByID(ctx, id)
	if err != nil {
		if persistence.IsProcessNotFound(err) {
			return nil, &workflow.ProcessNotFoundError{ProcessID: id}
		}

		return nil, fmt.Errorf("failed to load process %s: %w", id, err)
	}

	process, err := workflow.Restore(state)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have loaded it meanwhile; keep the first one.
	if existing, ok := s.entries[id]; ok {
		return existing, nil
	}

	e = newEntry(process)
	s.entries[id] = e

	s.logger.DebugContext(ctx, "Process loaded", "process_id", id, "version", process.Version())

	return e, nil
}

// Snapshot returns the current view of a process. It never blocks on an
// in-flight change and always observes a complete pre- or post-change state.
func (s *Processes) Snapshot(ctx context.Context, id string) (models.Snapshot, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}

	return e.snapshot.Load().Clone(), nil
}

// RequestTransition applies an action to one step and returns the resulting snapshot.
func (s *Processes) RequestTransition(ctx context.Context, id, stepID string, action models.Action) (models.Snapshot, error) {
	if !action.Valid() {
		return models.Snapshot{}, NewValidationError("RequestTransition", "invalid_action", "unknown action "+string(action), ErrInvalidAction)
	}

	return s.mutate(ctx, id, "processes.transition", []attribute.KeyValue{
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.ActionKey, string(action)),
	}, func(p *workflow.Process, now time.Time) (Change, error) {
		transition, err := p.Apply(stepID, action, now)
		if err != nil {
			return Change{}, err
		}

		return Change{Kind: ChangeTransitioned, Transition: transition}, nil
	})
}

// Stop freezes a process. Completed steps stay completed.
func (s *Processes) Stop(ctx context.Context, id, reason string) (models.Snapshot, error) {
	return s.mutate(ctx, id, "processes.stop", nil, func(p *workflow.Process, now time.Time) (Change, error) {
		if err := p.Stop(reason, now); err != nil {
			return Change{}, err
		}

		return Change{Kind: ChangeStopped, Reason: reason}, nil
	})
}

// Attach records an already uploaded file on a step.
func (s *Processes) Attach(ctx context.Context, id, stepID string, attachment models.Attachment) (models.Snapshot, error) {
	return s.mutate(ctx, id, "processes.attach", []attribute.KeyValue{
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.AttachmentIDKey, attachment.ID),
	}, func(p *workflow.Process, now time.Time) (Change, error) {
		if err := p.Attach(stepID, attachment, now); err != nil {
			return Change{}, err
		}

		return Change{Kind: ChangeAttachmentAdded, StepID: stepID, Attachment: &attachment}, nil
	})
}

// Detach removes an attachment reference and returns it so the caller can
// delete the stored file.
func (s *Processes) Detach(ctx context.Context, id, stepID, attachmentID string) (models.Attachment, models.Snapshot, error) {
	var removed models.Attachment

	snapshot, err := s.mutate(ctx, id, "processes.detach", []attribute.KeyValue{
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.AttachmentIDKey, attachmentID),
	}, func(p *workflow.Process, now time.Time) (Change, error) {
		attachment, err := p.Detach(stepID, attachmentID, now)
		if err != nil {
			return Change{}, err
		}

		removed = attachment

		return Change{Kind: ChangeAttachmentRemoved, StepID: stepID, Attachment: &attachment}, nil
	})

	return removed, snapshot, err
}

// mutate runs apply under the process lock. A rejected change leaves the
// published snapshot untouched and notifies nobody.
func (s *Processes) mutate(
	ctx context.Context,
	id string,
	spanName string,
	attrs []attribute.KeyValue,
	apply func(p *workflow.Process, now time.Time) (Change, error),
) (models.Snapshot, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, spanName,
		append(attrs, attribute.String(otelhelper.ProcessIDKey, id))...,
	)
	defer span.End()

	e, err := s.entry(ctx, id)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Snapshot{}, err
	}

	e.mu.Lock()

	change, err := apply(e.process, s.now())
	if err != nil {
		e.mu.Unlock()
		otelhelper.SetError(span, err)

		s.logger.DebugContext(ctx, "Change rejected", "process_id", id, "operation", spanName, "error", err)

		return models.Snapshot{}, err
	}

	change.Snapshot = e.publish()
	s.markDirty(id)
	s.notify(ctx, e, change)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.String(otelhelper.ProcessStatusKey, string(change.Snapshot.Status)),
		attribute.Int64(otelhelper.ProcessVersionKey, change.Snapshot.Version),
	)

	s.logger.InfoContext(ctx, "Change accepted",
		"process_id", id,
		"operation", spanName,
		"kind", change.Kind,
		"version", change.Snapshot.Version,
		"status", change.Snapshot.Status,
	)

	s.afterChange(ctx, id)

	return change.Snapshot.Clone(), nil
}

// notify delivers a change to subscribers and observers in registration
// order. It runs under e.mu, so deliveries follow acceptance order.
func (s *Processes) notify(ctx context.Context, e *entry, change Change) {
	for _, callback := range e.callbacks() {
		callback(change.Snapshot.Clone())
	}

	for _, observer := range s.observerList() {
		c := change
		c.Snapshot = change.Snapshot.Clone()
		observer(ctx, c)
	}
}

func (s *Processes) afterChange(ctx context.Context, id string) {
	if !s.saveOnChange || s.persistence == nil {
		return
	}

	err := s.Save(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save process after change", "process_id", id, "error", err)
	}
}

// Subscribe registers a callback invoked once per accepted change of the
// process, in acceptance order. Callbacks run while the process is locked and
// must not change the same process; unsubscribing from a callback is allowed.
func (s *Processes) Subscribe(ctx context.Context, id string, callback Callback) (func(), error) {
	if callback == nil {
		return nil, NewValidationError("Subscribe", "callback_required", "callback is required", ErrInvalidRequest)
	}

	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.subsMu.Lock()
	subID := e.nextSub
	e.nextSub++
	e.subs[subID] = callback
	e.subsMu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, subID)
			e.subsMu.Unlock()
		})
	}, nil
}

// Observe registers an observer for changes of every process.
func (s *Processes) Observe(observer Observer) func() {
	s.observersMu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = observer
	s.observersMu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.observersMu.Lock()
			delete(s.observers, id)
			s.observersMu.Unlock()
		})
	}
}

func (s *Processes) observerList() []Observer {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()

	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = s.observers[id]
	}

	return out
}

// ListProcessesRequest filters List results. Empty fields match everything.
type ListProcessesRequest struct {
	Status     models.ProcessStatus `query:"status"      validate:"omitempty,oneof=not_started in_progress blocked completed stopped"`
	TemplateID string               `query:"template_id"`
}

// List returns snapshots of resident and persisted processes ordered by
// creation time. Persisted processes are not made resident.
func (s *Processes) List(ctx context.Context, req ListProcessesRequest) ([]models.Snapshot, error) {
	if req.Status != "" && !validStatus(req.Status) {
		return nil, NewValidationError("List", "invalid_status", "unknown status "+string(req.Status), ErrInvalidStatus)
	}

	s.mu.RLock()
	byID := make(map[string]models.Snapshot, len(s.entries))
	for id, e := range s.entries {
		byID[id] = e.snapshot.Load().Clone()
	}
	s.mu.RUnlock()

	if s.persistence != nil {
		stored, err := s.persistence.Processes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list processes: %w", err)
		}

		for _, state := range stored {
			if _, resident := byID[state.ID]; resident {
				continue
			}

			process, err := workflow.Restore(state)
			if err != nil {
				s.logger.WarnContext(ctx, "Skipping invalid stored process", "process_id", state.ID, "error", err)

				continue
			}

			byID[state.ID] = process.Snapshot()
		}
	}

	out := make([]models.Snapshot, 0, len(byID))

	for _, snapshot := range byID {
		if req.Status != "" && snapshot.Status != req.Status {
			continue
		}

		if req.TemplateID != "" && snapshot.TemplateID != req.TemplateID {
			continue
		}

		out = append(out, snapshot)
	}

	slices.SortFunc(out, func(a, b models.Snapshot) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ProcessID, b.ProcessID))
	})

	return out, nil
}

func validStatus(status models.ProcessStatus) bool {
	switch status {
	case models.ProcessStatusNotStarted, models.ProcessStatusInProgress, models.ProcessStatusBlocked,
		models.ProcessStatusCompleted, models.ProcessStatusStopped:
		return true
	default:
		return false
	}
}

func (s *Processes) markDirty(id string) {
	s.dirtyMu.Lock()
	s.dirty[id] = struct{}{}
	s.dirtyMu.Unlock()
}

func (s *Processes) clearDirty(id string) bool {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()

	_, was := s.dirty[id]
	delete(s.dirty, id)

	return was
}

// Dirty returns the ids of processes changed since their last save.
func (s *Processes) Dirty() []string {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()

	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Save writes the current state of one process. The write happens outside
// the process lock; a concurrent change marks the process dirty again.
func (s *Processes) Save(ctx context.Context, id string) error {
	if s.persistence == nil {
		return ErrPersistenceNotConfigured
	}

	e, err := s.entry(ctx, id)
	if err != nil {
		return err
	}

	s.clearDirty(id)

	e.mu.Lock()
	state := e.process.State()
	e.mu.Unlock()

	err = s.persistence.SaveProcess(ctx, state)
	if err != nil {
		s.markDirty(id)

		return fmt.Errorf("failed to save process %s: %w", id, err)
	}

	return nil
}

// Flush saves every dirty process and reports how many were written. It keeps
// going after a failure and returns the joined errors.
func (s *Processes) Flush(ctx context.Context) (int, error) {
	if s.persistence == nil {
		return 0, nil
	}

	var (
		saved int
		errs  []error
	)

	for _, id := range s.Dirty() {
		if err := s.Save(ctx, id); err != nil {
			errs = append(errs, err)

			continue
		}

		saved++
	}

	if saved > 0 || len(errs) > 0 {
		s.logger.InfoContext(ctx, "Flushed processes", "saved", saved, "failed", len(errs))
	}

	return saved, errors.Join(errs...)
}
