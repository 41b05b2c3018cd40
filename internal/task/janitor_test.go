package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_Sweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	finished := registerTwoStudents(r)
	running := registerTwoStudents(r)
	require.NoError(t, r.Complete(finished, TaskStatusCompleted))

	j := NewJanitor(r, time.Hour, time.Minute, setupTestLogger())

	assert.Equal(t, 0, j.Sweep())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, j.Sweep())

	_, err := r.Get(finished)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = r.Get(running)
	assert.NoError(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := registerTwoStudents(r)
	require.NoError(t, r.Complete(id, TaskStatusCompleted))

	j := NewJanitor(r, time.Nanosecond, 10*time.Millisecond, setupTestLogger())
	j.Start()
	defer j.Stop()

	assert.Eventually(t, func() bool {
		_, err := r.Get(id)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewJanitor_DefaultInterval(t *testing.T) {
	t.Parallel()

	j := NewJanitor(NewRegistry(), time.Hour, 0, nil)
	assert.Equal(t, 6*time.Minute, j.interval)

	j = NewJanitor(NewRegistry(), time.Second, 0, nil)
	assert.Equal(t, time.Second, j.interval)
}
