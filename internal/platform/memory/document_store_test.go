package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(t *testing.T, docType domain.DocumentType, studentID string, content string) *domain.Document {
	t.Helper()
	doc, err := domain.NewDocument(docType, "act-1", studentID, domain.ContentTypeJSON, []byte(content))
	require.NoError(t, err)
	return doc
}

func TestDocumentStore_VersionsPerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	first, err := s.SaveDocument(ctx, newDoc(t, domain.DocumentGrading, "stu-1", `{"v":1}`))
	require.NoError(t, err)
	second, err := s.SaveDocument(ctx, newDoc(t, domain.DocumentGrading, "stu-1", `{"v":2}`))
	require.NoError(t, err)
	other, err := s.SaveDocument(ctx, newDoc(t, domain.DocumentGrading, "stu-2", `{"v":1}`))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 1, other.Version)

	latest, err := s.LatestDocument(ctx, domain.KeyFor(domain.DocumentGrading, "act-1", "stu-1"))
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, `{"v":2}`, string(latest.Content))
}

func TestDocumentStore_ActivityLevelSharedAcrossStudents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	saved, err := s.SaveDocument(ctx, newDoc(t, domain.DocumentQuestions, "stu-1", `{"questions":[]}`))
	require.NoError(t, err)
	assert.Empty(t, saved.StudentID)

	latest, err := s.LatestDocument(ctx, domain.KeyFor(domain.DocumentQuestions, "act-1", "stu-9"))
	require.NoError(t, err)
	assert.Equal(t, saved.ID, latest.ID)
}

func TestDocumentStore_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	_, err := s.GetDocument(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	_, err = s.LatestDocument(ctx, domain.KeyFor(domain.DocumentGrading, "act-1", "stu-1"))
	assert.True(t, store.IsNotFoundError(err))
}

func TestDocumentStore_RejectsInvalidAndDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	_, err := s.SaveDocument(ctx, &domain.Document{Type: domain.DocumentGrading, ActivityID: "act-1"})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	doc := newDoc(t, domain.DocumentGrading, "stu-1", `{}`)
	_, err = s.SaveDocument(ctx, doc)
	require.NoError(t, err)
	_, err = s.SaveDocument(ctx, doc)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestDocumentStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	saved, err := s.SaveDocument(ctx, newDoc(t, domain.DocumentGrading, "stu-1", `{"a":1}`))
	require.NoError(t, err)
	saved.Content[0] = 'X'

	got, err := s.GetDocument(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got.Content))
}

func TestDocumentStore_ListDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	for _, d := range []*domain.Document{
		newDoc(t, domain.DocumentQuestions, "", `{}`),
		newDoc(t, domain.DocumentGrading, "stu-1", `{}`),
		newDoc(t, domain.DocumentGrading, "stu-1", `{}`),
		newDoc(t, domain.DocumentGrading, "stu-2", `{}`),
	} {
		_, err := s.SaveDocument(ctx, d)
		require.NoError(t, err)
	}

	docs, err := s.ListDocuments(ctx, store.DocumentFilter{ActivityID: "act-1", StudentID: "stu-1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Version)
	assert.Equal(t, 2, docs[1].Version)
	assert.Nil(t, docs[0].Content)

	docs, err = s.ListDocuments(ctx, store.DocumentFilter{
		ActivityID:           "act-1",
		StudentID:            "stu-1",
		IncludeActivityLevel: true,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = s.ListDocuments(ctx, store.DocumentFilter{Type: domain.DocumentQuestions})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocumentStore_ConcurrentSavesKeepVersionsUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDocumentStore()

	const n = 20
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := domain.NewDocument(domain.DocumentGrading, "act-1", "stu-1", domain.ContentTypeJSON, []byte(`{}`))
			if err != nil {
				return
			}
			saved, err := s.SaveDocument(ctx, doc)
			if err == nil {
				versions <- saved.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}
