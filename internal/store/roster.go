package store

import "context"

// Activity is the graded exam an orchestrated run belongs to.
type Activity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ClassID string `json:"class_id,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Student is a roster entry of an activity's class.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RosterStore reads activities and students managed elsewhere.
type RosterStore interface {
	// ActivityExists reports whether the activity is known.
	ActivityExists(ctx context.Context, activityID string) (bool, error)

	// GetActivity returns ErrActivityNotFound for unknown ids.
	GetActivity(ctx context.Context, activityID string) (*Activity, error)

	// ListStudents returns the activity's students. With withSubmission set,
	// only students that have a submitted exam document are returned.
	ListStudents(ctx context.Context, activityID string, withSubmission bool) ([]Student, error)
}
