package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/platform/memory"
	"github.com/phrazzld/gradeflow/internal/store"
)

// MockDocumentStore implements store.DocumentStore for testing. Methods
// without a function field delegate to an in-memory store, so tests only
// override the calls they care about.
type MockDocumentStore struct {
	// Function fields for customizable behavior
	SaveDocumentFn   func(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetDocumentFn    func(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	LatestDocumentFn func(ctx context.Context, key domain.DocumentKey) (*domain.Document, error)
	ListDocumentsFn  func(ctx context.Context, filter store.DocumentFilter) ([]*domain.Document, error)

	// Backing is the default implementation
	Backing *memory.DocumentStore

	mu    sync.Mutex
	saves []domain.DocumentKey
}

var _ store.DocumentStore = (*MockDocumentStore)(nil)

// NewMockDocumentStore creates a mock backed by an empty in-memory store
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{Backing: memory.NewDocumentStore()}
}

// SaveDocument implements the DocumentStore interface
func (m *MockDocumentStore) SaveDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	m.mu.Lock()
	m.saves = append(m.saves, doc.Key())
	m.mu.Unlock()

	if m.SaveDocumentFn != nil {
		return m.SaveDocumentFn(ctx, doc)
	}
	return m.Backing.SaveDocument(ctx, doc)
}

// GetDocument implements the DocumentStore interface
func (m *MockDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if m.GetDocumentFn != nil {
		return m.GetDocumentFn(ctx, id)
	}
	return m.Backing.GetDocument(ctx, id)
}

// LatestDocument implements the DocumentStore interface
func (m *MockDocumentStore) LatestDocument(ctx context.Context, key domain.DocumentKey) (*domain.Document, error) {
	if m.LatestDocumentFn != nil {
		return m.LatestDocumentFn(ctx, key)
	}
	return m.Backing.LatestDocument(ctx, key)
}

// ListDocuments implements the DocumentStore interface
func (m *MockDocumentStore) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]*domain.Document, error) {
	if m.ListDocumentsFn != nil {
		return m.ListDocumentsFn(ctx, filter)
	}
	return m.Backing.ListDocuments(ctx, filter)
}

// Saves returns the keys of every SaveDocument call, in call order
func (m *MockDocumentStore) Saves() []domain.DocumentKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DocumentKey(nil), m.saves...)
}

// FailSavesOf makes SaveDocument return err for one document type and
// delegate every other save.
func (m *MockDocumentStore) FailSavesOf(docType domain.DocumentType, err error) {
	m.SaveDocumentFn = func(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
		if doc.Type == docType {
			return nil, err
		}
		return m.Backing.SaveDocument(ctx, doc)
	}
}
