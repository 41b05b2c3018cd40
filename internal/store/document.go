package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
)

// DocumentFilter narrows ListDocuments. Zero fields match everything.
type DocumentFilter struct {
	ActivityID string

	// StudentID restricts results to one student's documents. Activity-level
	// documents are included when IncludeActivityLevel is set.
	StudentID            string
	IncludeActivityLevel bool
	Type                 domain.DocumentType
}

// DocumentStore persists immutable, versioned documents.
type DocumentStore interface {
	// SaveDocument assigns the next version for the document's key, stores it,
	// and returns the stored copy. Callers must not reuse a saved document's ID.
	SaveDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error)

	// GetDocument returns one document by id, content included.
	// Returns ErrDocumentNotFound if it does not exist.
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)

	// LatestDocument returns the highest version for key.
	// Returns ErrDocumentNotFound when the chain is empty.
	LatestDocument(ctx context.Context, key domain.DocumentKey) (*domain.Document, error)

	// ListDocuments returns matching documents ordered by type then version.
	// Content is omitted.
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*domain.Document, error)
}
