package task

import (
	"fmt"
	"log/slog"
	"sync"
)

// TaskQueue is a bounded FIFO of pending runs. Enqueue never blocks, so an
// HTTP request either gets its run accepted or a 503 right away.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
	logger *slog.Logger
}

var _ Source = (*TaskQueue)(nil)

// NewTaskQueue creates a queue holding at most size pending tasks.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		tasks:  make(chan Task, size),
		logger: logger.With("component", "task_queue"),
	}
}

// Enqueue adds t to the queue. It returns ErrQueueClosed after Close and
// ErrQueueFull when every slot is taken.
func (q *TaskQueue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- t:
		q.logger.Debug("task enqueued",
			"task_id", t.ID().String(),
			"task_type", t.Type(),
			"pending", len(q.tasks))
		return nil
	default:
		q.logger.Warn("task rejected, queue full",
			"task_id", t.ID().String(),
			"capacity", cap(q.tasks))
		return fmt.Errorf("%w: %d runs already pending", ErrQueueFull, cap(q.tasks))
	}
}

// Len reports how many tasks are waiting for a worker.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks. Tasks already queued are still delivered.
// Calling Close more than once is safe.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
	q.logger.Info("task queue closed", "pending", len(q.tasks))
}

// Tasks returns the channel workers consume from.
func (q *TaskQueue) Tasks() <-chan Task {
	return q.tasks
}
