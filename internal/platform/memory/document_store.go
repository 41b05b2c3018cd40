package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/store"
)

// DocumentStore keeps versioned documents in maps guarded by a mutex.
// Saved documents are copied in and out so callers can never mutate stored state.
type DocumentStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*domain.Document
	chains map[domain.DocumentKey][]uuid.UUID
}

var _ store.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		byID:   make(map[uuid.UUID]*domain.Document),
		chains: make(map[domain.DocumentKey][]uuid.UUID),
	}
}

// SaveDocument implements store.DocumentStore.
func (s *DocumentStore) SaveDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", store.ErrInvalidEntity)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[doc.ID]; exists {
		return nil, fmt.Errorf("%w: document %s", store.ErrDuplicate, doc.ID)
	}

	stored := doc.Clone()
	key := stored.Key()
	stored.Version = len(s.chains[key]) + 1
	s.byID[stored.ID] = stored
	s.chains[key] = append(s.chains[key], stored.ID)

	return stored.Clone(), nil
}

// GetDocument implements store.DocumentStore.
func (s *DocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.byID[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

// LatestDocument implements store.DocumentStore.
func (s *DocumentStore) LatestDocument(ctx context.Context, key domain.DocumentKey) (*domain.Document, error) {
	key = domain.KeyFor(key.Type, key.ActivityID, key.StudentID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[key]
	if len(chain) == 0 {
		return nil, store.ErrDocumentNotFound
	}
	return s.byID[chain[len(chain)-1]].Clone(), nil
}

// ListDocuments implements store.DocumentStore.
func (s *DocumentStore) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]*domain.Document, error) {
	s.mu.RLock()
	out := make([]*domain.Document, 0)
	for _, doc := range s.byID {
		if !matches(doc, filter) {
			continue
		}
		c := doc.Clone()
		c.Content = nil
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func matches(doc *domain.Document, f store.DocumentFilter) bool {
	if f.ActivityID != "" && doc.ActivityID != f.ActivityID {
		return false
	}
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.StudentID != "" && doc.StudentID != f.StudentID {
		return f.IncludeActivityLevel && doc.StudentID == ""
	}
	return true
}
