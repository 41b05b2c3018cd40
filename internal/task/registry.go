package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
)

// TaskStatus is the overall state of a registered task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status ends the task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// StudentRef names a student taking part in a task.
type StudentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registration describes a task at the moment it is accepted.
type Registration struct {
	Type       string
	ActivityID string
	ClassID    string
	Students   []StudentRef
	Labels     map[string]string
}

// StageProgress is the registry's view of one stage of one student.
type StageProgress struct {
	Status              domain.StageStatus    `json:"status"`
	Skipped             bool                  `json:"skipped,omitempty"`
	DocumentID          *uuid.UUID            `json:"document_id,omitempty"`
	NarrativeDocumentID *uuid.UUID            `json:"narrative_document_id,omitempty"`
	Error               *domain.ErrorEnvelope `json:"error,omitempty"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// StudentProgress holds every stage of one student plus derived summaries.
type StudentProgress struct {
	StudentID          string                         `json:"student_id"`
	Name               string                         `json:"name"`
	Stages             map[domain.Stage]StageProgress `json:"stages"`
	FailedStage        *domain.Stage                  `json:"failed_stage"`
	StagesNotAttempted []domain.Stage                 `json:"stages_not_attempted"`
	ErrorReportID      *uuid.UUID                     `json:"error_report_id,omitempty"`
}

// Snapshot is a point-in-time copy of a registered task. Callers own it.
type Snapshot struct {
	ID              uuid.UUID         `json:"id"`
	Type            string            `json:"type"`
	ActivityID      string            `json:"activity_id"`
	ClassID         string            `json:"class_id,omitempty"`
	Status          TaskStatus        `json:"status"`
	CancelRequested bool              `json:"cancel_requested"`
	CreatedAt       time.Time         `json:"created_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	Students        []StudentProgress `json:"students"`

	// ResultDocumentID and Error belong to tasks that produce one
	// activity-level document instead of per-student stages.
	ResultDocumentID *uuid.UUID            `json:"result_document_id,omitempty"`
	Error            *domain.ErrorEnvelope `json:"error,omitempty"`
}

type studentEntry struct {
	ref           StudentRef
	stages        map[domain.Stage]*StageProgress
	errorReportID *uuid.UUID
}

type entry struct {
	id              uuid.UUID
	reg             Registration
	status          TaskStatus
	cancelRequested bool
	createdAt       time.Time
	finishedAt      *time.Time
	students        []*studentEntry
	byID            map[string]*studentEntry
	resultID        *uuid.UUID
	envelope        *domain.ErrorEnvelope
}

// StageOption attaches data to a stage update.
type StageOption func(*stageUpdate)

type stageUpdate struct {
	documentID          *uuid.UUID
	narrativeDocumentID *uuid.UUID
	envelope            *domain.ErrorEnvelope
	skipped             bool
}

// WithDocument records the structured document produced by the stage.
func WithDocument(id uuid.UUID) StageOption {
	return func(u *stageUpdate) { u.documentID = &id }
}

// WithNarrative records the rendered narrative document of an analytical stage.
func WithNarrative(id uuid.UUID) StageOption {
	return func(u *stageUpdate) { u.narrativeDocumentID = &id }
}

// WithError records the envelope of a failed stage.
func WithError(env *domain.ErrorEnvelope) StageOption {
	return func(u *stageUpdate) { u.envelope = env.Clone() }
}

// WithSkipped marks a stage that reused an existing document.
func WithSkipped() StageOption {
	return func(u *stageUpdate) { u.skipped = true }
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces the registry's time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry is an in-memory progress table for pipeline tasks. It is safe
// for concurrent use; every update is a single locked write.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*entry
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tasks: make(map[uuid.UUID]*entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a running task with every stage of every student pending.
func (r *Registry) Register(reg Registration) uuid.UUID {
	now := r.now()
	e := &entry{
		id:        uuid.New(),
		reg:       reg,
		status:    TaskStatusRunning,
		createdAt: now,
		students:  make([]*studentEntry, 0, len(reg.Students)),
		byID:      make(map[string]*studentEntry, len(reg.Students)),
	}
	e.reg.Students = append([]StudentRef(nil), reg.Students...)
	e.reg.Labels = copyLabels(reg.Labels)

	for _, ref := range reg.Students {
		if _, dup := e.byID[ref.ID]; dup {
			continue
		}
		se := &studentEntry{ref: ref, stages: make(map[domain.Stage]*StageProgress)}
		for _, stage := range domain.Stages() {
			se.stages[stage] = &StageProgress{Status: domain.StageStatusPending, UpdatedAt: now}
		}
		e.students = append(e.students, se)
		e.byID[ref.ID] = se
	}

	r.mu.Lock()
	r.tasks[e.id] = e
	r.mu.Unlock()

	return e.id
}

// UpdateStage moves one stage of one student to status. Updates after the
// task completed are ignored.
func (r *Registry) UpdateStage(
	id uuid.UUID,
	studentID string,
	stage domain.Stage,
	status domain.StageStatus,
	opts ...StageOption,
) error {
	var u stageUpdate
	for _, opt := range opts {
		opt(&u)
	}

	if u.envelope != nil && status != domain.StageStatusFailed {
		return fmt.Errorf("%w: error envelope on %s stage %s", ErrInvalidTransition, status, stage)
	}
	if status == domain.StageStatusCompleted && u.documentID == nil {
		return fmt.Errorf("%w: completed stage %s has no document", ErrInvalidTransition, stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if e.finishedAt != nil {
		return nil
	}

	se, ok := e.byID[studentID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStudentNotFound, studentID)
	}
	sp, ok := se.stages[stage]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
	}
	if !sp.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s %s→%s", ErrInvalidTransition, stage, sp.Status, status)
	}

	sp.Status = status
	sp.UpdatedAt = r.now()
	if u.skipped {
		sp.Skipped = true
	}
	if u.documentID != nil {
		sp.DocumentID = u.documentID
	}
	if u.narrativeDocumentID != nil {
		sp.NarrativeDocumentID = u.narrativeDocumentID
	}
	if u.envelope != nil {
		sp.Error = u.envelope
	}
	return nil
}

// AttachErrorReport records the error report document of a halted student.
func (r *Registry) AttachErrorReport(id uuid.UUID, studentID string, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	se, ok := e.byID[studentID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStudentNotFound, studentID)
	}
	se.errorReportID = &documentID
	return nil
}

// AttachResult records the activity-level document a task produced.
func (r *Registry) AttachResult(id uuid.UUID, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	e.resultID = &documentID
	return nil
}

// AttachError records why a task without per-student stages failed.
func (r *Registry) AttachError(id uuid.UUID, env *domain.ErrorEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	e.envelope = env.Clone()
	return nil
}

// Complete sets the terminal status of a task. Only the first call wins.
func (r *Registry) Complete(id uuid.UUID, status TaskStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if e.finishedAt != nil {
		return nil
	}
	now := r.now()
	e.status = status
	e.finishedAt = &now
	return nil
}

// RequestCancel flags the task for cooperative cancellation. The flag never
// resets.
func (r *Registry) RequestCancel(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	e.cancelRequested = true
	return nil
}

// CancelRequested reports whether cancellation was requested. Unknown ids
// report false.
func (r *Registry) CancelRequested(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	return ok && e.cancelRequested
}

// Get returns a deep copy of the task.
func (r *Registry) Get(id uuid.UUID) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e.snapshot(), nil
}

// List returns snapshots of every task, newest first.
func (r *Registry) List() []*Snapshot {
	r.mu.RLock()
	out := make([]*Snapshot, 0, len(r.tasks))
	for _, e := range r.tasks {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Prune removes finished tasks that finished more than olderThan ago and
// returns how many were removed. Running tasks are never pruned.
func (r *Registry) Prune(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.tasks {
		if e.finishedAt != nil && e.finishedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

func (e *entry) snapshot() *Snapshot {
	s := &Snapshot{
		ID:              e.id,
		Type:            e.reg.Type,
		ActivityID:      e.reg.ActivityID,
		ClassID:         e.reg.ClassID,
		Status:          e.status,
		CancelRequested: e.cancelRequested,
		CreatedAt:       e.createdAt,
		Labels:          copyLabels(e.reg.Labels),
		Students:        make([]StudentProgress, 0, len(e.students)),
	}
	if e.finishedAt != nil {
		t := *e.finishedAt
		s.FinishedAt = &t
	}
	if e.resultID != nil {
		id := *e.resultID
		s.ResultDocumentID = &id
	}
	s.Error = e.envelope.Clone()
	for _, se := range e.students {
		s.Students = append(s.Students, se.progress(e.finishedAt != nil))
	}
	return s
}

func (se *studentEntry) progress(finished bool) StudentProgress {
	p := StudentProgress{
		StudentID:          se.ref.ID,
		Name:               se.ref.Name,
		Stages:             make(map[domain.Stage]StageProgress, len(se.stages)),
		StagesNotAttempted: []domain.Stage{},
	}
	if se.errorReportID != nil {
		id := *se.errorReportID
		p.ErrorReportID = &id
	}

	for _, stage := range domain.Stages() {
		sp := se.stages[stage]
		c := *sp
		if sp.DocumentID != nil {
			id := *sp.DocumentID
			c.DocumentID = &id
		}
		if sp.NarrativeDocumentID != nil {
			id := *sp.NarrativeDocumentID
			c.NarrativeDocumentID = &id
		}
		c.Error = sp.Error.Clone()
		p.Stages[stage] = c

		if sp.Status == domain.StageStatusFailed && p.FailedStage == nil {
			failed := stage
			p.FailedStage = &failed
			continue
		}
		if sp.Status == domain.StageStatusPending && (finished || p.FailedStage != nil) {
			p.StagesNotAttempted = append(p.StagesNotAttempted, stage)
		}
	}
	return p
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
