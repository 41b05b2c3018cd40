package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStageEvent(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	event := NewStageEvent(taskID, "stu-1", domain.StageGrade, domain.StageStatusRunning)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, KindStageProgress, event.Kind)
	assert.Equal(t, taskID, event.TaskID)
	assert.Equal(t, "stu-1", event.StudentID)
	assert.Equal(t, domain.StageGrade, event.Stage)
	assert.Equal(t, domain.StageStatusRunning, event.Status)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
}

func TestProgressEvent_JSON(t *testing.T) {
	t.Parallel()

	docID := uuid.New()
	event := NewStageEvent(uuid.New(), "stu-1", domain.StageGrade, domain.StageStatusFailed)
	event.DocumentID = &docID
	event.Error = domain.NewEnvelope(domain.KindProviderError, domain.SeverityHigh, domain.StageGrade, "503")

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "stage_progress", decoded["kind"])
	assert.Equal(t, "grade", decoded["stage"])
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, docID.String(), decoded["document_id"])
	assert.NotContains(t, decoded, "task_status")

	envelope, ok := decoded["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "provider-error", envelope["kind"])
}

func TestProgressEvent_Subject(t *testing.T) {
	t.Parallel()

	taskID := uuid.MustParse("7b0e1c64-3f68-4a8e-9a53-1f1f1f1f1f1f")
	event := NewTaskFinishedEvent(taskID, "completed")

	assert.Equal(t, KindTaskFinished, event.Kind)
	assert.Equal(t, "gradeflow.tasks.7b0e1c64-3f68-4a8e-9a53-1f1f1f1f1f1f.progress", event.Subject("gradeflow"))
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *ProgressEvent

	// Error to return from HandleEvent
	HandlerError error

	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *ProgressEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestHandlerFunc(t *testing.T) {
	t.Parallel()

	var got *ProgressEvent
	handler := HandlerFunc(func(_ context.Context, e *ProgressEvent) error {
		got = e
		return errors.New("boom")
	})

	event := NewTaskFinishedEvent(uuid.New(), "failed")
	err := handler.HandleEvent(context.Background(), event)

	assert.EqualError(t, err, "boom")
	assert.Same(t, event, got)
}
