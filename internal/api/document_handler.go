package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/gradeflow/internal/api/shared"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/store"
)

// DocumentHandler serves stored document versions and their content.
type DocumentHandler struct {
	documents store.DocumentStore
	roster    store.RosterStore
	logger    *slog.Logger
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents store.DocumentStore, roster store.RosterStore, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		documents: documents,
		roster:    roster,
		logger:    logger.With("component", "document_handler"),
	}
}

// ListActivityDocuments handles GET /api/activities/{id}/documents. The
// optional student_id query parameter narrows the listing to one student
// plus the activity-level documents; type narrows it to one document type.
func (h *DocumentHandler) ListActivityDocuments(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	activityID := chi.URLParam(r, "id")
	if activityID == "" {
		HandleAPIError(w, r, fmt.Errorf("%w: id is required", ErrInvalidPathParam), "")
		return
	}

	filter := store.DocumentFilter{
		ActivityID:           activityID,
		StudentID:            r.URL.Query().Get("student_id"),
		IncludeActivityLevel: true,
	}
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = domain.DocumentType(t)
		if !filter.Type.Valid() {
			HandleAPIError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidDocumentType, t), "")
			return
		}
	}

	exists, err := h.roster.ActivityExists(r.Context(), activityID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list documents")
		return
	}
	if !exists {
		HandleAPIError(w, r, store.ErrActivityNotFound, "")
		return
	}

	docs, err := h.documents.ListDocuments(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list documents")
		return
	}

	log.Debug("listed documents",
		slog.String("activity_id", activityID),
		slog.String("student_id", filter.StudentID),
		slog.Int("count", len(docs)))

	shared.RespondWithJSON(w, r, http.StatusOK, DocumentListResponse{
		ActivityID: activityID,
		StudentID:  filter.StudentID,
		Groups:     groupDocuments(docs),
	})
}

// GetDocumentContent handles GET /api/documents/{id}/content.
func (h *DocumentHandler) GetDocumentContent(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithBytes(w, r, doc.ContentType, doc.Filename, doc.Content)
}

// groupDocuments buckets docs by type, types sorted by name and versions
// ascending. Student rows of the same type share a bucket.
func groupDocuments(docs []*domain.Document) []DocumentGroup {
	byType := make(map[domain.DocumentType][]*domain.Document)
	for _, d := range docs {
		byType[d.Type] = append(byType[d.Type], d)
	}

	groups := make([]DocumentGroup, 0, len(byType))
	for t, versions := range byType {
		sort.SliceStable(versions, func(i, j int) bool {
			if versions[i].StudentID != versions[j].StudentID {
				return versions[i].StudentID < versions[j].StudentID
			}
			return versions[i].Version < versions[j].Version
		})
		groups = append(groups, DocumentGroup{Type: t, Versions: versions})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Type < groups[j].Type })
	return groups
}
