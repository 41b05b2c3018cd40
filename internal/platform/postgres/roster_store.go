package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/store"
)

// PostgresRosterStore implements store.RosterStore on the activities and
// activity_students tables.
type PostgresRosterStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.RosterStore = (*PostgresRosterStore)(nil)

// NewPostgresRosterStore creates a roster store. If logger is nil, a default
// logger will be used.
func NewPostgresRosterStore(db store.DBTX, logger *slog.Logger) *PostgresRosterStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRosterStore{
		db:     db,
		logger: logger.With(slog.String("component", "roster_store")),
	}
}

// ActivityExists implements store.RosterStore.
func (s *PostgresRosterStore) ActivityExists(ctx context.Context, activityID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE id = $1)`, activityID).Scan(&exists)
	if err != nil {
		return false, store.NewStoreError("activity", "exists", "could not check activity", MapError(err))
	}
	return exists, nil
}

// GetActivity implements store.RosterStore.
func (s *PostgresRosterStore) GetActivity(ctx context.Context, activityID string) (*store.Activity, error) {
	var a store.Activity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, class_id, subject FROM activities WHERE id = $1`, activityID,
	).Scan(&a.ID, &a.Name, &a.ClassID, &a.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrActivityNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("activity", "get", "could not read activity", MapError(err))
	}
	return &a, nil
}

// ListStudents implements store.RosterStore.
func (s *PostgresRosterStore) ListStudents(ctx context.Context, activityID string, withSubmission bool) ([]store.Student, error) {
	query := `SELECT s.student_id, s.name FROM activity_students s WHERE s.activity_id = $1`
	args := []any{activityID}
	if withSubmission {
		query += ` AND EXISTS (
			SELECT 1 FROM documents d
			WHERE d.activity_id = s.activity_id AND d.student_id = s.student_id AND d.type = $2)`
		args = append(args, domain.DocumentStudentSubmission)
	}
	query += ` ORDER BY s.name, s.student_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("student", "list", "could not list students", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	students := make([]store.Student, 0)
	for rows.Next() {
		var st store.Student
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, store.NewStoreError("student", "list", "could not read student row", err)
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("student", "list", "could not iterate students", err)
	}

	s.logger.DebugContext(ctx, "listed students",
		slog.String("activity_id", activityID),
		slog.Int("count", len(students)),
		slog.Bool("with_submission", withSubmission))
	return students, nil
}
