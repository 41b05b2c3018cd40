package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/pipeline"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubmitter keeps submitted tasks instead of running them.
type fakeSubmitter struct {
	mu    sync.Mutex
	tasks []task.Task
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, t task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func newService(t *testing.T, h *harness, sub pipeline.Submitter) *pipeline.Service {
	t.Helper()

	svc, err := pipeline.NewService(h.orch, h.registry, h.roster, sub, discardLogger())
	require.NoError(t, err)
	return svc
}

func TestService_StartRunExplicitStudents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana, bruno}, ana.ID, bruno.ID)
	sub := &fakeSubmitter{}
	svc := newService(t, h, sub)

	id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{
		ActivityID: activityID,
		StudentIDs: []string{bruno.ID, bruno.ID},
		Labels:     map[string]string{"requested_by": "coordinator"},
	})
	require.NoError(t, err)

	snap, err := svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskTypePipeline, snap.Type)
	assert.Equal(t, task.TaskStatusRunning, snap.Status)
	assert.Equal(t, "coordinator", snap.Labels["requested_by"])
	require.Len(t, snap.Students, 1)
	assert.Equal(t, "Bruno", snap.Students[0].Name)
	assert.Equal(t, 0, h.provider.Calls(), "nothing runs before the worker picks the task up")

	require.Len(t, sub.tasks, 1)
	submitted := sub.tasks[0]
	assert.Equal(t, id, submitted.ID())
	assert.Equal(t, task.TaskTypePipeline, submitted.Type())

	require.NoError(t, submitted.Execute(context.Background()))
	snap, err = svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskStatusCompleted, snap.Status)
}

func TestService_StartRunAllStudents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana, bruno, carla}, ana.ID, carla.ID)
	sub := &fakeSubmitter{}
	svc := newService(t, h, sub)

	id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
	require.NoError(t, err)

	snap, err := svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskTypePipelineAllStudents, snap.Type)

	ids := make([]string, 0, len(snap.Students))
	for _, sp := range snap.Students {
		ids = append(ids, sp.StudentID)
	}
	assert.Equal(t, []string{ana.ID, carla.ID}, ids, "only students with a submission")
	assert.Equal(t, task.TaskTypePipelineAllStudents, sub.tasks[0].Type())
}

func TestService_StartRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seed    func(h *harness)
		req     pipeline.StartRunRequest
		wantErr error
	}{
		{
			name:    "empty activity",
			req:     pipeline.StartRunRequest{},
			wantErr: pipeline.ErrEmptyActivityID,
		},
		{
			name:    "unknown activity",
			req:     pipeline.StartRunRequest{ActivityID: "nope"},
			wantErr: store.ErrActivityNotFound,
		},
		{
			name:    "unknown stage",
			seed:    func(h *harness) { h.seed(true, []store.Student{ana}, ana.ID) },
			req:     pipeline.StartRunRequest{ActivityID: activityID, Stages: []domain.Stage{"publish"}},
			wantErr: domain.ErrUnknownStage,
		},
		{
			name:    "unknown override stage",
			seed:    func(h *harness) { h.seed(true, []store.Student{ana}, ana.ID) },
			req:     pipeline.StartRunRequest{ActivityID: activityID, ModelOverrides: map[domain.Stage]string{"publish": "m"}},
			wantErr: domain.ErrUnknownStage,
		},
		{
			name:    "student off roster",
			seed:    func(h *harness) { h.seed(true, []store.Student{ana}, ana.ID) },
			req:     pipeline.StartRunRequest{ActivityID: activityID, StudentIDs: []string{"ghost"}},
			wantErr: pipeline.ErrUnknownStudent,
		},
		{
			name:    "no submissions",
			seed:    func(h *harness) { h.seed(true, []store.Student{ana}) },
			req:     pipeline.StartRunRequest{ActivityID: activityID},
			wantErr: pipeline.ErrNoStudents,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, scripted(nil))
			if tc.seed != nil {
				tc.seed(h)
			}
			sub := &fakeSubmitter{}
			svc := newService(t, h, sub)

			id, err := svc.StartRun(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, uuid.Nil, id)
			assert.Empty(t, sub.tasks)
			assert.Empty(t, svc.Tasks())
		})
	}
}

func TestService_SubmitFailureFailsTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana}, ana.ID)
	svc := newService(t, h, &fakeSubmitter{err: task.ErrQueueFull})

	_, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
	assert.ErrorIs(t, err, task.ErrQueueFull)

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, task.TaskStatusFailed, tasks[0].Status)
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana}, ana.ID)
	sub := &fakeSubmitter{}
	svc := newService(t, h, sub)

	id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), id))
	assert.ErrorIs(t, svc.Cancel(context.Background(), uuid.New()), task.ErrTaskNotFound)

	require.NoError(t, sub.tasks[0].Execute(context.Background()))
	snap, err := svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskStatusCancelled, snap.Status)
	assert.True(t, snap.CancelRequested)
}

func TestService_RunsOnTaskRunner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana}, ana.ID)

	runner := task.NewTaskRunner(task.TaskRunnerConfig{WorkerCount: 1, QueueSize: 2}, discardLogger())
	runner.Start()
	defer runner.Stop()

	svc := newService(t, h, runner)
	id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, err := svc.Task(id)
		return err == nil && snap.Status == task.TaskStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_FailTask(t *testing.T) {
	t.Parallel()

	t.Run("marks an unfinished task failed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		h.seed(true, []store.Student{ana}, ana.ID)
		sub := &fakeSubmitter{}
		svc := newService(t, h, sub)

		id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
		require.NoError(t, err)

		svc.FailTask(sub.tasks[0], errors.New("task panicked: kaput"))

		snap, err := svc.Task(id)
		require.NoError(t, err)
		assert.Equal(t, task.TaskStatusFailed, snap.Status)
		assert.NotNil(t, snap.FinishedAt)
	})

	t.Run("keeps a terminal status", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		h.seed(true, []store.Student{ana}, ana.ID)
		sub := &fakeSubmitter{}
		svc := newService(t, h, sub)

		id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
		require.NoError(t, err)
		require.NoError(t, sub.tasks[0].Execute(context.Background()))

		svc.FailTask(sub.tasks[0], errors.New("late"))

		snap, err := svc.Task(id)
		require.NoError(t, err)
		assert.Equal(t, task.TaskStatusCompleted, snap.Status)
	})

	t.Run("unknown task is ignored", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		svc := newService(t, h, &fakeSubmitter{})

		assert.NotPanics(t, func() {
			svc.FailTask(task.NewFuncTask(task.TaskTypePipeline), errors.New("boom"))
		})
	})
}

func TestService_PanickingTaskFailsInRegistry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	svc := newService(t, h, &fakeSubmitter{})

	runner := task.NewTaskRunner(task.TaskRunnerConfig{WorkerCount: 1, QueueSize: 2}, discardLogger())
	runner.SetErrorHandler(svc.FailTask)
	runner.Start()
	defer runner.Stop()

	id := h.registry.Register(task.Registration{Type: task.TaskTypePipeline, ActivityID: activityID})
	panicking := &task.FuncTask{
		TaskID:    id,
		TaskType:  task.TaskTypePipeline,
		ExecuteFn: func(ctx context.Context) error { panic("kaput") },
	}
	require.NoError(t, runner.Submit(context.Background(), panicking))

	assert.Eventually(t, func() bool {
		snap, err := svc.Task(id)
		return err == nil && snap.Status == task.TaskStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_QueuedTaskDroppedAtStopFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana}, ana.ID)

	// never started, so the run stays queued until Stop
	runner := task.NewTaskRunner(task.TaskRunnerConfig{WorkerCount: 1, QueueSize: 2}, discardLogger())
	svc := newService(t, h, runner)
	runner.SetDropHandler(func(dropped task.Task) {
		svc.FailTask(dropped, task.ErrQueueClosed)
	})

	id, err := svc.StartRun(context.Background(), pipeline.StartRunRequest{ActivityID: activityID})
	require.NoError(t, err)

	runner.Stop()

	snap, err := svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskStatusFailed, snap.Status)
}

func TestService_StartClassReport(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	h.seed(true, []store.Student{ana, bruno}, ana.ID, bruno.ID)
	h.run(h.start(ana, bruno))

	sub := &fakeSubmitter{}
	svc := newService(t, h, sub)

	id, err := svc.StartClassReport(context.Background(), pipeline.StartClassReportRequest{
		ActivityID: activityID,
		Labels:     map[string]string{"requested_by": "coordinator"},
	})
	require.NoError(t, err)
	require.Len(t, sub.tasks, 1)
	assert.Equal(t, id, sub.tasks[0].ID())
	assert.Equal(t, task.TaskTypeClassReport, sub.tasks[0].Type())

	snap, err := svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskTypeClassReport, snap.Type)
	assert.Equal(t, "coordinator", snap.Labels["requested_by"])
	assert.Empty(t, snap.Students)

	require.NoError(t, sub.tasks[0].Execute(context.Background()))
	snap, err = svc.Task(id)
	require.NoError(t, err)
	assert.Equal(t, task.TaskStatusCompleted, snap.Status)
	assert.NotNil(t, snap.ResultDocumentID)
}

func TestService_StartClassReportErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty activity", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		svc := newService(t, h, &fakeSubmitter{})

		_, err := svc.StartClassReport(context.Background(), pipeline.StartClassReportRequest{})
		assert.ErrorIs(t, err, pipeline.ErrEmptyActivityID)
	})

	t.Run("unknown activity", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		sub := &fakeSubmitter{}
		svc := newService(t, h, sub)

		_, err := svc.StartClassReport(context.Background(), pipeline.StartClassReportRequest{ActivityID: "missing"})
		assert.ErrorIs(t, err, store.ErrActivityNotFound)
		assert.Empty(t, sub.tasks)
		assert.Empty(t, svc.Tasks())
	})

	t.Run("submit failure fails the task", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, scripted(nil))
		h.seed(true, []store.Student{ana}, ana.ID)
		svc := newService(t, h, &fakeSubmitter{err: task.ErrQueueFull})

		_, err := svc.StartClassReport(context.Background(), pipeline.StartClassReportRequest{ActivityID: activityID})
		assert.ErrorIs(t, err, task.ErrQueueFull)

		tasks := svc.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, task.TaskStatusFailed, tasks[0].Status)
	})
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted(nil))
	sub := &fakeSubmitter{}

	_, err := pipeline.NewService(nil, h.registry, h.roster, sub, nil)
	assert.ErrorIs(t, err, pipeline.ErrNilOrchestrator)
	_, err = pipeline.NewService(h.orch, nil, h.roster, sub, nil)
	assert.ErrorIs(t, err, pipeline.ErrNilRegistry)
	_, err = pipeline.NewService(h.orch, h.registry, nil, sub, nil)
	assert.ErrorIs(t, err, pipeline.ErrNilRosterStore)
	_, err = pipeline.NewService(h.orch, h.registry, h.roster, nil, nil)
	assert.ErrorIs(t, err, pipeline.ErrNilSubmitter)
}
