package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/errors"
	"backtester/internal/logger"
)

func TestTaskQueueRunsAndDrains(t *testing.T) {
	q := NewTaskQueue(2, 10, logger.NewNop())
	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(&QueuedTask{ID: "t", Run: func(context.Context) { ran.Add(1) }}))
	}

	q.Start(context.Background())
	q.Stop()

	assert.Equal(t, int64(5), ran.Load())
	stats := q.GetStats()
	assert.Equal(t, int64(5), stats.Completed)
	assert.Equal(t, 0, stats.Pending)
}

func TestTaskQueueFull(t *testing.T) {
	q := NewTaskQueue(1, 1, logger.NewNop())
	require.NoError(t, q.Enqueue(&QueuedTask{ID: "a", Run: func(context.Context) {}}))

	err := q.Enqueue(&QueuedTask{ID: "b", Run: func(context.Context) {}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueFull))
	assert.Equal(t, int64(1), q.GetStats().Rejected)

	q.Stop()
	err = q.Enqueue(&QueuedTask{ID: "c", Run: func(context.Context) {}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueFull))
}

func TestTaskQueueRecoversPanic(t *testing.T) {
	q := NewTaskQueue(1, 4, logger.NewNop())
	var after atomic.Bool
	require.NoError(t, q.Enqueue(&QueuedTask{ID: "boom", Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, q.Enqueue(&QueuedTask{ID: "ok", Run: func(context.Context) { after.Store(true) }}))

	q.Start(context.Background())
	q.Stop()

	assert.True(t, after.Load())
	assert.Equal(t, int64(1), q.GetStats().Panicked)
}
