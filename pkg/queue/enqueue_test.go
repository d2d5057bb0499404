package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAPI_RejectsEmptyType(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)

	_, err := api.Enqueue(context.Background(), EnqueueRequest{})
	require.Error(t, err)
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, KindValidation, qerr.Kind)
}

func TestEnqueueAPI_RejectsPriorityOutOfRange(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	for _, priority := range []int{0, -1, 1001} {
		req := NewEnqueueRequest("noop", nil)
		req.Priority = priority
		_, err := api.Enqueue(ctx, req)
		require.Error(t, err, "priority %d must be rejected", priority)
		var qerr *Error
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, KindValidation, qerr.Kind)
	}
}

func TestEnqueueAPI_RejectsMaxAttemptsBelowOne(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	req := NewEnqueueRequest("noop", nil)
	req.MaxAttempts = 0
	_, err := api.Enqueue(ctx, req)
	require.Error(t, err, "max_attempts=0 would make a task permanently unclaimable")
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, KindValidation, qerr.Kind)
}

func TestEnqueueAPI_IdempotentEnqueueReturnsExistingTask(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	req := NewEnqueueRequest("noop", map[string]any{"n": 1})
	req.IdempotencyKey = "job-42"

	first, err := api.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	second, err := api.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.TaskID, second.TaskID)

	counts, err := store.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusQueued], "a duplicate idempotency key must not create a second row")
}

func TestEnqueueAPI_DifferentIdempotencyKeysCreateDistinctTasks(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	reqA := NewEnqueueRequest("noop", nil)
	reqA.IdempotencyKey = "a"
	reqB := NewEnqueueRequest("noop", nil)
	reqB.IdempotencyKey = "b"

	a, err := api.Enqueue(ctx, reqA)
	require.NoError(t, err)
	b, err := api.Enqueue(ctx, reqB)
	require.NoError(t, err)
	assert.NotEqual(t, a.TaskID, b.TaskID)
}

func TestEnqueueAPI_Cancel(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))

	task, err := api.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "Cancelled by user", *task.ErrorMessage)
}

func TestEnqueueAPI_CancelIsNoOpOnTerminalTask(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	_, err := api.Cancel(ctx, taskID)
	require.NoError(t, err)

	task, err := api.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
}

func TestEnqueueAPI_Stats(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	mustEnqueue(t, api, NewEnqueueRequest("noop", nil))

	stats, err := api.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[StatusQueued])
	assert.GreaterOrEqual(t, stats.OldestQueuedAgeS, 0.0)
}

func TestEnqueueAPI_ListFiltersByStatusAndType(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	mustEnqueue(t, api, NewEnqueueRequest("echo", nil))
	noopID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	_, err := api.Cancel(ctx, noopID)
	require.NoError(t, err)

	queued, err := api.List(ctx, string(StatusQueued), "", 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "echo", queued[0].Type)

	failed, err := api.List(ctx, string(StatusFailed), "noop", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, noopID, failed[0].ID)
}

func TestEnqueueAPI_DefaultsFromNewEnqueueRequest(t *testing.T) {
	req := NewEnqueueRequest("noop", nil)
	assert.Equal(t, 100, req.Priority)
	assert.Equal(t, 3, req.MaxAttempts)
	assert.False(t, req.RunAfterUTC.IsZero())
}
