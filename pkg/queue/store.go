package queue

import (
	"context"
	"time"
)

// Store is the persistence contract the rest of the queue is built on.
// A single embedded relational file backs every method; see SQLiteStore
// for the concrete implementation. Mirrors the Store/transaction/
// connection contract in spec §4.1.
type Store interface {
	// WithTx runs fn inside a single transaction. All writes made through
	// tx commit atomically, or roll back entirely if fn returns an error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// CreateTask inserts a new task with status=queued, attempts=0 and
	// returns the assigned id. idempotency_key collisions are the
	// caller's (Enqueue API's) responsibility to check first.
	CreateTask(ctx context.Context, t *Task) (int64, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetTaskByIdempotencyKey(ctx context.Context, key string) (*Task, error)
	ListTasks(ctx context.Context, status, taskType string, limit int) ([]*Task, error)
	CountTasksByStatus(ctx context.Context) (map[Status]int, error)
	OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, bool, error)

	UpsertWorker(ctx context.Context, workerID, capabilities string, now time.Time) error
	GetWorker(ctx context.Context, workerID string) (*Worker, error)
	ListWorkers(ctx context.Context) ([]*Worker, error)
	DeleteWorker(ctx context.Context, workerID string) error

	AppendLog(ctx context.Context, l *TaskLog) (int64, error)
	ListLogs(ctx context.Context, taskID int64, afterLogID int64) ([]*TaskLog, error)

	DeleteTasksOlderThan(ctx context.Context, before time.Time) (int, error)

	Checkpoint(ctx context.Context, mode string) (CheckpointResult, error)
	Vacuum(ctx context.Context) error
	Analyze(ctx context.Context, table string) error
	IntegrityCheck(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (StoreStats, error)
	Backup(ctx context.Context, destPath string) error

	Close() error
}

// Tx is the subset of Store operations permitted inside a WithTx scope,
// plus the row-locking claim primitive strategies use. All methods here
// see and mutate the same in-flight transaction.
type Tx interface {
	GetTaskForUpdate(ctx context.Context, id int64) (*Task, error)
	ClaimTask(ctx context.Context, id int64, workerID string, leaseSeconds int, now time.Time) (bool, error)
	CandidateTasks(ctx context.Context, now time.Time, order ClaimOrder, limit int) ([]*Task, error)

	UpdateTaskComplete(ctx context.Context, id int64, now time.Time) (bool, error)
	UpdateTaskRetry(ctx context.Context, id int64, runAfter time.Time, errMsg string, now time.Time) (bool, error)
	UpdateTaskDeadLetter(ctx context.Context, id int64, errMsg string, now time.Time) (bool, error)
	UpdateTaskRenewLease(ctx context.Context, id int64, leaseUntil time.Time, now time.Time) (bool, error)
	UpdateTaskCancel(ctx context.Context, id int64, now time.Time) (*Task, error)
	ReclaimTask(ctx context.Context, id int64, now time.Time) error

	AppendLog(ctx context.Context, l *TaskLog) (int64, error)
}

// ClaimOrder selects the candidate ordering a Claimer strategy needs.
type ClaimOrder int

const (
	OrderFIFO ClaimOrder = iota
	OrderLIFO
	OrderPriority
)

// CheckpointResult mirrors SQLite's wal_checkpoint pragma output, per
// spec §4.8.
type CheckpointResult struct {
	Busy               bool
	LogPages           int
	CheckpointedPages  int
}

// StoreStats mirrors the get_stats() contract in spec §4.8.
type StoreStats struct {
	PageCount     int64
	PageSize      int64
	TotalMB       float64
	FreelistCount int64
	WALMode       string
	WALMB         float64
}
