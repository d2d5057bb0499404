package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Complete(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	claimer, err := NewClaimer(store, StrategyFIFO)
	require.NoError(t, err)
	_, err = claimer.Claim(ctx, "worker-1", nil, 60)
	require.NoError(t, err)

	executor := NewExecutor(store, DefaultBackoffPolicy())
	changed, err := executor.Complete(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, changed)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Nil(t, task.LockedBy)
}

func TestExecutor_CompleteIsNoOpOnTerminalTask(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	executor := NewExecutor(store, DefaultBackoffPolicy())

	err := store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.UpdateTaskDeadLetter(ctx, taskID, "boom", time.Now().UTC())
		return err
	})
	require.NoError(t, err)

	changed, err := executor.Complete(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestExecutor_FailRetriesThenDeadLetters(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	req := NewEnqueueRequest("noop", nil)
	req.MaxAttempts = 2
	taskID := mustEnqueue(t, api, req)

	claimer, err := NewClaimer(store, StrategyFIFO)
	require.NoError(t, err)
	executor := NewExecutor(store, DefaultBackoffPolicy())

	// attempt 1: claim, fail with retry -> back to queued, run_after in the future
	_, err = claimer.Claim(ctx, "worker-1", nil, 60)
	require.NoError(t, err)
	changed, err := executor.Fail(ctx, taskID, "transient error", true)
	require.NoError(t, err)
	assert.True(t, changed)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, task.RunAfterUTC.After(time.Now().UTC().Add(-time.Second)))

	// Pull run_after_utc back so the task is claimable again without
	// sleeping past the backoff delay.
	_, err = store.db.ExecContext(ctx, `UPDATE tasks SET run_after_utc = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Second).Format(timeLayout), taskID)
	require.NoError(t, err)

	// attempt 2: claim again, fail with retry -> attempts (2) == max_attempts (2), dead-letters.
	_, err = claimer.Claim(ctx, "worker-1", nil, 60)
	require.NoError(t, err)
	changed, err = executor.Fail(ctx, taskID, "final error", true)
	require.NoError(t, err)
	assert.True(t, changed)

	task, err = store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, task.Status)
	assert.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "final error", *task.ErrorMessage)
}

func TestExecutor_RenewLease(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	claimer, err := NewClaimer(store, StrategyFIFO)
	require.NoError(t, err)
	_, err = claimer.Claim(ctx, "worker-1", nil, 5)
	require.NoError(t, err)

	before, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)

	executor := NewExecutor(store, DefaultBackoffPolicy())
	changed, err := executor.RenewLease(ctx, taskID, 300)
	require.NoError(t, err)
	assert.True(t, changed)

	after, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, after.LeaseUntilUTC)
	require.NotNil(t, before.LeaseUntilUTC)
	assert.True(t, after.LeaseUntilUTC.After(*before.LeaseUntilUTC))
}

func TestBackoffPolicy_Delay(t *testing.T) {
	p := DefaultBackoffPolicy()

	d1 := p.Delay(1, nil)
	d2 := p.Delay(2, nil)
	d3 := p.Delay(3, nil)

	assert.Equal(t, p.Initial, d1)
	assert.Equal(t, p.Initial*2, d2)
	assert.Equal(t, p.Initial*4, d3)
}

func TestBackoffPolicy_CapsAtMax(t *testing.T) {
	p := DefaultBackoffPolicy()
	d := p.Delay(20, nil)
	assert.Equal(t, p.Max, d)
}
