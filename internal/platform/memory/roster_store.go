package memory

import (
	"context"
	"sync"

	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/store"
)

// RosterStore holds activities and their students. Submission presence is
// read from the DocumentStore so the two stay consistent.
type RosterStore struct {
	mu         sync.RWMutex
	activities map[string]store.Activity
	students   map[string][]store.Student
	documents  store.DocumentStore
}

var _ store.RosterStore = (*RosterStore)(nil)

// NewRosterStore creates an empty roster. documents may be nil, in which case
// every student counts as having a submission.
func NewRosterStore(documents store.DocumentStore) *RosterStore {
	return &RosterStore{
		activities: make(map[string]store.Activity),
		students:   make(map[string][]store.Student),
		documents:  documents,
	}
}

// AddActivity registers an activity with its students, replacing any previous entry.
func (r *RosterStore) AddActivity(activity store.Activity, students ...store.Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[activity.ID] = activity
	r.students[activity.ID] = append([]store.Student(nil), students...)
}

// ActivityExists implements store.RosterStore.
func (r *RosterStore) ActivityExists(ctx context.Context, activityID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activities[activityID]
	return ok, nil
}

// GetActivity implements store.RosterStore.
func (r *RosterStore) GetActivity(ctx context.Context, activityID string) (*store.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[activityID]
	if !ok {
		return nil, store.ErrActivityNotFound
	}
	return &a, nil
}

// ListStudents implements store.RosterStore.
func (r *RosterStore) ListStudents(ctx context.Context, activityID string, withSubmission bool) ([]store.Student, error) {
	r.mu.RLock()
	_, ok := r.activities[activityID]
	all := append([]store.Student(nil), r.students[activityID]...)
	r.mu.RUnlock()

	if !ok {
		return nil, store.ErrActivityNotFound
	}
	if !withSubmission || r.documents == nil {
		return all, nil
	}

	out := make([]store.Student, 0, len(all))
	for _, s := range all {
		key := domain.KeyFor(domain.DocumentStudentSubmission, activityID, s.ID)
		_, err := r.documents.LatestDocument(ctx, key)
		if err == nil {
			out = append(out, s)
			continue
		}
		if !store.IsNotFoundError(err) {
			return nil, err
		}
	}
	return out, nil
}
