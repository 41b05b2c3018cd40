package task

import (
	"context"
	"fmt"
	"log/slog"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// TaskRunner manages background task processing
type TaskRunner struct {
	queue  *TaskQueue
	pool   *WorkerPool
	logger *slog.Logger

	// dropHandler is called for each queued task Stop discards
	dropHandler func(task Task)
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_runner")

	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	pool.SetErrorHandler(func(task Task, err error) {
		logger.Error("task execution failed",
			"task_id", task.ID(),
			"task_type", task.Type(),
			"error", err)
	})

	return &TaskRunner{
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
}

// SetErrorHandler allows setting a custom error handler function
func (r *TaskRunner) SetErrorHandler(handler func(task Task, err error)) {
	r.pool.SetErrorHandler(handler)
}

// SetDropHandler sets the function called for every task still queued when
// Stop runs.
func (r *TaskRunner) SetDropHandler(handler func(task Task)) {
	r.dropHandler = handler
}

// Submit adds a new task to the queue. It never blocks; a full queue is
// reported as ErrQueueFull.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	if err := r.queue.Enqueue(task); err != nil {
		return fmt.Errorf("failed to submit task %s: %w", task.ID(), err)
	}
	r.logger.DebugContext(ctx, "task submitted", "task_id", task.ID(), "task_type", task.Type())
	return nil
}

// Start begins processing tasks
func (r *TaskRunner) Start() {
	r.pool.Start()
}

// Stop gracefully shuts down the task runner. Queued tasks that have not
// started are dropped and handed to the drop handler.
func (r *TaskRunner) Stop() {
	r.queue.Close()
	r.pool.Stop()

	for task := range r.queue.Tasks() {
		r.logger.Warn("dropping queued task", "task_id", task.ID(), "task_type", task.Type())
		if r.dropHandler != nil {
			r.dropHandler(task)
		}
	}
}
