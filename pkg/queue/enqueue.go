package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nomoos/prismq/pkg/metrics"
)

// EnqueueRequest is the caller-facing shape for Enqueue, mirroring spec
// §4.9's parameter list with its defaults applied by NewEnqueueRequest.
type EnqueueRequest struct {
	Type           string
	Payload        map[string]any
	Priority       int
	Compatibility  map[string]any
	MaxAttempts    int
	RunAfterUTC    time.Time
	IdempotencyKey string
}

// NewEnqueueRequest applies spec §4.9's defaults (priority=100,
// max_attempts=3, run_after_utc=now).
func NewEnqueueRequest(taskType string, payload map[string]any) EnqueueRequest {
	return EnqueueRequest{
		Type:        taskType,
		Payload:     payload,
		Priority:    100,
		MaxAttempts: 3,
		RunAfterUTC: time.Now().UTC(),
	}
}

// EnqueueResult is returned by Enqueue: either a freshly created task or
// the pre-existing one matched by idempotency key.
type EnqueueResult struct {
	TaskID       int64
	Status       Status
	CreatedAtUTC time.Time
	Deduplicated bool
}

// StatsResult mirrors spec §4.9's stats() contract.
type StatsResult struct {
	Total            int
	ByStatus         map[Status]int
	OldestQueuedAgeS float64
}

// EnqueueAPI is the client-facing surface over a Store: enqueue,
// status, cancel, stats, list. Grounded on the teacher's
// pkg/manager/manager.go wrapping pattern — a thin façade validating
// input and translating to Store calls, with no state of its own.
type EnqueueAPI struct {
	store Store
}

// NewEnqueueAPI builds an EnqueueAPI over store.
func NewEnqueueAPI(store Store) *EnqueueAPI {
	return &EnqueueAPI{store: store}
}

// Enqueue inserts a new task, or returns the existing task if
// idempotency_key was already used.
func (a *EnqueueAPI) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if req.Type == "" {
		return EnqueueResult{}, newErr(KindValidation, nil, "type must not be empty")
	}
	if req.Priority < 1 || req.Priority > 1000 {
		return EnqueueResult{}, newErr(KindValidation, nil, "priority must be between 1 and 1000, got %d", req.Priority)
	}
	if req.MaxAttempts < 1 {
		return EnqueueResult{}, newErr(KindValidation, nil, "max_attempts must be at least 1, got %d", req.MaxAttempts)
	}

	if req.IdempotencyKey != "" {
		existing, err := a.store.GetTaskByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return EnqueueResult{}, err
		}
		if existing != nil {
			return EnqueueResult{
				TaskID:       existing.ID,
				Status:       existing.Status,
				CreatedAtUTC: existing.CreatedAtUTC,
				Deduplicated: true,
			}, nil
		}
	}

	payloadJSON, err := marshalJSONObject(req.Payload)
	if err != nil {
		return EnqueueResult{}, newErr(KindValidation, err, "marshal payload")
	}
	compatJSON, err := marshalJSONObject(req.Compatibility)
	if err != nil {
		return EnqueueResult{}, newErr(KindValidation, err, "marshal compatibility")
	}

	now := time.Now().UTC()
	runAfter := req.RunAfterUTC
	if runAfter.IsZero() {
		runAfter = now
	}

	task := &Task{
		Type:          req.Type,
		Payload:       payloadJSON,
		Priority:      req.Priority,
		MaxAttempts:   req.MaxAttempts,
		Compatibility: compatJSON,
		CreatedAtUTC:  now,
		RunAfterUTC:   runAfter,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		task.IdempotencyKey = &key
	}

	id, err := a.store.CreateTask(ctx, task)
	if err != nil {
		return EnqueueResult{}, err
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(req.Type).Inc()
	return EnqueueResult{TaskID: id, Status: StatusQueued, CreatedAtUTC: now}, nil
}

// Status returns the task's current row, or a KindNotFound error.
func (a *EnqueueAPI) Status(ctx context.Context, taskID int64) (*Task, error) {
	return a.store.GetTask(ctx, taskID)
}

// Cancel transitions a non-terminal task to failed. No-op (not an
// error) for a task already terminal.
func (a *EnqueueAPI) Cancel(ctx context.Context, taskID int64) (*Task, error) {
	var task *Task
	err := a.store.WithTx(ctx, func(tx Tx) error {
		var err error
		task, err = tx.UpdateTaskCancel(ctx, taskID, time.Now().UTC())
		return err
	})
	return task, err
}

// Stats reports total/by-status counts and the oldest queued task's age,
// per spec §4.9.
func (a *EnqueueAPI) Stats(ctx context.Context) (StatsResult, error) {
	counts, err := a.store.CountTasksByStatus(ctx)
	if err != nil {
		return StatsResult{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	age, ok, err := a.store.OldestQueuedAge(ctx, time.Now().UTC())
	if err != nil {
		return StatsResult{}, err
	}
	ageSeconds := 0.0
	if ok {
		ageSeconds = age.Seconds()
	}

	return StatsResult{Total: total, ByStatus: counts, OldestQueuedAgeS: ageSeconds}, nil
}

// List returns up to limit tasks, optionally filtered by status and
// type. limit is capped at 1000 by the Store.
func (a *EnqueueAPI) List(ctx context.Context, status, taskType string, limit int) ([]*Task, error) {
	return a.store.ListTasks(ctx, status, taskType, limit)
}

func marshalJSONObject(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
