package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/store"
)

const documentColumns = `id, type, activity_id, student_id, stage, version, content_type, filename,
	provider, model, prompt_id, source_document_id, error, created_at`

// PostgresDocumentStore implements store.DocumentStore on PostgreSQL.
// Versions are assigned inside a transaction holding an advisory lock on the
// document's chain, so concurrent saves to one chain never share a version.
type PostgresDocumentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.DocumentStore = (*PostgresDocumentStore)(nil)

// NewPostgresDocumentStore creates a document store. If logger is nil, a
// default logger will be used.
func NewPostgresDocumentStore(db *sql.DB, logger *slog.Logger) *PostgresDocumentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDocumentStore{
		db:     db,
		logger: logger.With(slog.String("component", "document_store")),
	}
}

// SaveDocument implements store.DocumentStore.
func (s *PostgresDocumentStore) SaveDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", store.ErrInvalidEntity)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	saved := doc.Clone()
	key := saved.Key()

	var envelope []byte
	if saved.Error != nil {
		var err error
		if envelope, err = json.Marshal(saved.Error); err != nil {
			return nil, fmt.Errorf("encoding error envelope: %w", err)
		}
	}

	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, chainLockKey(key)); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM documents
			WHERE activity_id = $1 AND student_id = $2 AND type = $3`,
			key.ActivityID, key.StudentID, key.Type,
		).Scan(&saved.Version); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, type, activity_id, student_id, stage, version, content_type, filename,
				content, provider, model, prompt_id, source_document_id, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			saved.ID,
			saved.Type,
			saved.ActivityID,
			saved.StudentID,
			saved.Stage,
			saved.Version,
			saved.ContentType,
			saved.Filename,
			saved.Content,
			saved.Provenance.Provider,
			saved.Provenance.Model,
			saved.Provenance.PromptID,
			nullableUUID(saved.Provenance.SourceDocumentID),
			nullableJSON(envelope),
			saved.CreatedAt,
		)
		return err
	})
	if err != nil {
		mapped := MapError(err)
		log.Error("failed to save document",
			slog.String("document_id", saved.ID.String()),
			slog.String("type", string(saved.Type)),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("document", "save", "could not persist document", mapped)
	}

	log.Debug("document saved",
		slog.String("document_id", saved.ID.String()),
		slog.String("type", string(saved.Type)),
		slog.Int("version", saved.Version))
	return saved, nil
}

// GetDocument implements store.DocumentStore.
func (s *PostgresDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+`, content FROM documents WHERE id = $1`, id)
	return s.scanOne(ctx, row)
}

// LatestDocument implements store.DocumentStore.
func (s *PostgresDocumentStore) LatestDocument(ctx context.Context, key domain.DocumentKey) (*domain.Document, error) {
	key = domain.KeyFor(key.Type, key.ActivityID, key.StudentID)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`, content
		FROM documents
		WHERE activity_id = $1 AND student_id = $2 AND type = $3
		ORDER BY version DESC
		LIMIT 1`,
		key.ActivityID, key.StudentID, key.Type)
	return s.scanOne(ctx, row)
}

// ListDocuments implements store.DocumentStore.
func (s *PostgresDocumentStore) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]*domain.Document, error) {
	query, args := listQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("document", "list", "could not list documents", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, store.NewStoreError("document", "list", "could not read document row", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("document", "list", "could not iterate documents", err)
	}
	return docs, nil
}

func (s *PostgresDocumentStore) scanOne(ctx context.Context, row *sql.Row) (*domain.Document, error) {
	doc, err := scanDocument(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to read document",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("document", "get", "could not read document", MapError(err))
	}
	return doc, nil
}

func listQuery(f store.DocumentFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ActivityID != "" {
		add("activity_id = $%d", f.ActivityID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.StudentID != "" {
		if f.IncludeActivityLevel {
			add("(student_id = $%d OR student_id = '')", f.StudentID)
		} else {
			add("student_id = $%d", f.StudentID)
		}
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY type, student_id, version`
	return query, args
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, withContent bool) (*domain.Document, error) {
	var (
		doc      domain.Document
		sourceID uuid.NullUUID
		envelope []byte
	)
	dest := []any{
		&doc.ID,
		&doc.Type,
		&doc.ActivityID,
		&doc.StudentID,
		&doc.Stage,
		&doc.Version,
		&doc.ContentType,
		&doc.Filename,
		&doc.Provenance.Provider,
		&doc.Provenance.Model,
		&doc.Provenance.PromptID,
		&sourceID,
		&envelope,
		&doc.CreatedAt,
	}
	if withContent {
		dest = append(dest, &doc.Content)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if sourceID.Valid {
		id := sourceID.UUID
		doc.Provenance.SourceDocumentID = &id
	}
	if len(envelope) > 0 {
		var env domain.ErrorEnvelope
		if err := json.Unmarshal(envelope, &env); err != nil {
			return nil, fmt.Errorf("decoding error envelope: %w", err)
		}
		doc.Error = &env
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return &doc, nil
}

func chainLockKey(key domain.DocumentKey) string {
	return key.ActivityID + "/" + key.StudentID + "/" + string(key.Type)
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
