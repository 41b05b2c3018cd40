package task

import (
	"context"

	"github.com/google/uuid"
)

// FuncTask adapts a function to the Task interface. Tests use it to drive
// the runner without a pipeline behind it.
type FuncTask struct {
	TaskID    uuid.UUID
	TaskType  string
	ExecuteFn func(ctx context.Context) error
}

// NewFuncTask returns a FuncTask with a fresh id and a body that succeeds.
func NewFuncTask(taskType string) *FuncTask {
	return &FuncTask{
		TaskID:   uuid.New(),
		TaskType: taskType,
	}
}

func (t *FuncTask) ID() uuid.UUID { return t.TaskID }

func (t *FuncTask) Type() string { return t.TaskType }

func (t *FuncTask) Execute(ctx context.Context) error {
	if t.ExecuteFn == nil {
		return nil
	}
	return t.ExecuteFn(ctx)
}
