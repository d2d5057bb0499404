package queue

import (
	"context"
	"math/rand"
	"time"
)

// Executor is the post-claim lifecycle described in spec §4.5: complete,
// fail-with-retry-or-dead-letter, and lease renewal. All three
// operations are transactional and no-op (not an error) against an
// already-terminal task.
type Executor struct {
	store   Store
	backoff BackoffPolicy
	rng     *rand.Rand
}

// NewExecutor builds an Executor over store using the given backoff
// policy.
func NewExecutor(store Store, backoff BackoffPolicy) *Executor {
	return &Executor{
		store:   store,
		backoff: backoff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Complete marks a task completed. No-op against a task already in a
// terminal state.
func (e *Executor) Complete(ctx context.Context, taskID int64) (bool, error) {
	var changed bool
	err := e.store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateTaskComplete(ctx, taskID, time.Now().UTC())
		changed = ok
		return err
	})
	return changed, err
}

// Fail records a handler failure. When retry is true and the task has
// attempts remaining, it is returned to queued with run_after_utc pushed
// out by the backoff policy; otherwise it is dead-lettered. No-op
// against an already-terminal task.
func (e *Executor) Fail(ctx context.Context, taskID int64, errMsg string, retry bool) (bool, error) {
	var changed bool
	err := e.store.WithTx(ctx, func(tx Tx) error {
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			changed = false
			return nil
		}

		now := time.Now().UTC()
		if retry && task.Attempts < task.MaxAttempts {
			delay := e.backoff.Delay(task.Attempts, e.rng)
			runAfter := now.Add(delay)
			ok, err := tx.UpdateTaskRetry(ctx, taskID, runAfter, errMsg, now)
			changed = ok
			return err
		}

		ok, err := tx.UpdateTaskDeadLetter(ctx, taskID, errMsg, now)
		changed = ok
		return err
	})
	return changed, err
}

// RenewLease extends a task's lease without re-claiming it, for
// long-running handlers. No-op if the task is no longer leased.
func (e *Executor) RenewLease(ctx context.Context, taskID int64, seconds int) (bool, error) {
	var changed bool
	err := e.store.WithTx(ctx, func(tx Tx) error {
		now := time.Now().UTC()
		ok, err := tx.UpdateTaskRenewLease(ctx, taskID, now.Add(time.Duration(seconds)*time.Second), now)
		changed = ok
		return err
	})
	return changed, err
}
