package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessesTasks(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(10, setupTestLogger())
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 3}, setupTestLogger())

	var done sync.WaitGroup
	var executed atomic.Int32
	for i := 0; i < 5; i++ {
		done.Add(1)
		task := NewFuncTask(TaskTypePipeline)
		task.ExecuteFn = func(ctx context.Context) error {
			defer done.Done()
			executed.Add(1)
			return nil
		}
		require.NoError(t, q.Enqueue(task))
	}

	pool.Start()
	done.Wait()
	pool.Stop()

	assert.Equal(t, int32(5), executed.Load())
}

func TestWorkerPool_ErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		execute func(ctx context.Context) error
		wantMsg string
	}{
		{
			name:    "returned error",
			execute: func(ctx context.Context) error { return errors.New("boom") },
			wantMsg: "boom",
		},
		{
			name:    "panic",
			execute: func(ctx context.Context) error { panic("kaput") },
			wantMsg: "task panicked: kaput",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := NewTaskQueue(1, setupTestLogger())
			pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())

			failed := make(chan error, 1)
			pool.SetErrorHandler(func(task Task, err error) { failed <- err })

			task := NewFuncTask(TaskTypePipeline)
			task.ExecuteFn = tc.execute
			require.NoError(t, q.Enqueue(task))

			pool.Start()
			defer pool.Stop()

			select {
			case err := <-failed:
				assert.EqualError(t, err, tc.wantMsg)
			case <-time.After(2 * time.Second):
				t.Fatal("error handler was not called")
			}
		})
	}
}

func TestWorkerPool_StopCancelsRunningTask(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1, setupTestLogger())
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 0}, setupTestLogger())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	task := NewFuncTask(TaskTypePipeline)
	task.ExecuteFn = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}
	require.NoError(t, q.Enqueue(task))

	pool.Start()
	<-started
	pool.Stop()

	assert.True(t, sawCancel.Load())
}

func TestTaskRunner_SubmitAndStop(t *testing.T) {
	t.Parallel()

	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 2, QueueSize: 4}, setupTestLogger())
	runner.Start()

	ran := make(chan struct{})
	task := NewFuncTask(TaskTypePipeline)
	task.ExecuteFn = func(ctx context.Context) error {
		close(ran)
		return nil
	}

	require.NoError(t, runner.Submit(context.Background(), task))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	runner.Stop()

	err := runner.Submit(context.Background(), NewFuncTask(TaskTypePipeline))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTaskRunner_QueueFull(t *testing.T) {
	t.Parallel()

	// not started, so nothing drains the queue
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 1, QueueSize: 1}, setupTestLogger())

	require.NoError(t, runner.Submit(context.Background(), NewFuncTask(TaskTypePipeline)))
	err := runner.Submit(context.Background(), NewFuncTask(TaskTypePipeline))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTaskRunner_StopHandsQueuedTasksToDropHandler(t *testing.T) {
	t.Parallel()

	// not started, so every submitted task is still queued at Stop
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 1, QueueSize: 4}, setupTestLogger())

	var mu sync.Mutex
	var dropped []Task
	runner.SetDropHandler(func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, task)
	})

	first, second := NewFuncTask(TaskTypePipeline), NewFuncTask(TaskTypePipeline)
	require.NoError(t, runner.Submit(context.Background(), first))
	require.NoError(t, runner.Submit(context.Background(), second))

	runner.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dropped, 2)
	assert.Equal(t, first.ID(), dropped[0].ID())
	assert.Equal(t, second.ID(), dropped[1].ID())
}
