package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore is the embedded relational store described in spec §4.1:
// WAL journaling, a busy timeout to absorb writer contention, foreign
// keys for the TaskLog cascade, and NORMAL synchronous durability.
// Modeled on the teacher's single shared *bolt.DB handle
// (pkg/storage/boltdb.go) — here a single *sql.DB connection pool plays
// the same role.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed Store at path and
// applies the pragmas spec §4.1 requires.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, newErr(KindStore, err, "open sqlite database")
	}
	// SQLite allows exactly one writer; keep the pool small so busy-timeout
	// contention, not pool starvation, is what the Store surfaces to callers.
	db.SetMaxOpenConns(8)

	for _, stmt := range pragmaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, newErr(KindStore, err, "apply pragma %q", stmt)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema in an idempotent fashion; safe to call on
// every process start.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return newErr(KindStore, err, "apply schema statement")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func classifyExecErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return newErr(KindBusy, err, "store busy")
	}
	return newErr(KindStore, err, "store operation failed")
}

// WithTx runs fn inside a single transaction, per spec §4.1's
// transaction()/scope contract: all writes commit atomically or roll
// back entirely on error.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyExecErr(err)
	}
	txn := &sqliteTx{tx: sqlTx}
	if err := fn(txn); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// CreateTask inserts a new queued task and returns its assigned id.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) (int64, error) {
	now := t.CreatedAtUTC
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (type, payload, priority, status, attempts, max_attempts,
			compatibility, idempotency_key, created_at_utc, run_after_utc, updated_at_utc)
		VALUES (?, ?, ?, 'queued', 0, ?, ?, ?, ?, ?, ?)`,
		t.Type, t.Payload, t.Priority, t.MaxAttempts, t.Compatibility,
		t.IdempotencyKey, now.Format(timeLayout), t.RunAfterUTC.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return 0, newErr(KindValidation, err, "idempotency_key already in use")
		}
		return 0, classifyExecErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classifyExecErr(err)
	}
	return id, nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

const taskColumns = `id, type, payload, priority, status, attempts, max_attempts, compatibility,
	idempotency_key, locked_by, error_message, created_at_utc, run_after_utc,
	reserved_at_utc, lease_until_utc, finished_at_utc, updated_at_utc`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var idem, locked, errMsg, reserved, leaseUntil, finished sql.NullString
	var created, runAfter, updated string
	err := row.Scan(&t.ID, &t.Type, &t.Payload, &t.Priority, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.Compatibility, &idem, &locked, &errMsg, &created, &runAfter, &reserved, &leaseUntil, &finished, &updated)
	if err != nil {
		return nil, err
	}
	t.IdempotencyKey = nullableString(idem)
	t.LockedBy = nullableString(locked)
	t.ErrorMessage = nullableString(errMsg)
	t.CreatedAtUTC = mustParseTime(created)
	t.RunAfterUTC = mustParseTime(runAfter)
	t.UpdatedAtUTC = mustParseTime(updated)
	t.ReservedAtUTC = nullableTime(reserved)
	t.LeaseUntilUTC = nullableTime(leaseUntil)
	t.FinishedAtUTC = nullableTime(finished)
	return &t, nil
}

func nullableString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullableTime(n sql.NullString) *time.Time {
	if !n.Valid || n.String == "" {
		return nil
	}
	t := mustParseTime(n.String)
	return &t
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newErr(KindNotFound, nil, "task %d not found", id)
	}
	if err != nil {
		return nil, classifyExecErr(err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTaskByIdempotencyKey(ctx context.Context, key string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE idempotency_key = ?`, key)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyExecErr(err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, status, taskType string, limit int) ([]*Task, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if taskType != "" {
		query += ` AND type = ?`
		args = append(args, taskType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classifyExecErr(err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) CountTasksByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, classifyExecErr(err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	var created sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at_utc FROM tasks WHERE status = 'queued' ORDER BY id ASC LIMIT 1`).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) || !created.Valid {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classifyExecErr(err)
	}
	return now.Sub(mustParseTime(created.String)), true, nil
}

func (s *SQLiteStore) UpsertWorker(ctx context.Context, workerID, capabilities string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, capabilities, heartbeat_utc) VALUES (?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET capabilities = excluded.capabilities, heartbeat_utc = excluded.heartbeat_utc`,
		workerID, capabilities, now.Format(timeLayout))
	return classifyExecErr(err)
}

func (s *SQLiteStore) GetWorker(ctx context.Context, workerID string) (*Worker, error) {
	var w Worker
	var heartbeat string
	err := s.db.QueryRowContext(ctx, `SELECT worker_id, capabilities, heartbeat_utc FROM workers WHERE worker_id = ?`, workerID).
		Scan(&w.WorkerID, &w.Capabilities, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newErr(KindNotFound, nil, "worker %s not found", workerID)
	}
	if err != nil {
		return nil, classifyExecErr(err)
	}
	w.HeartbeatUTC = mustParseTime(heartbeat)
	return &w, nil
}

func (s *SQLiteStore) ListWorkers(ctx context.Context) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker_id, capabilities, heartbeat_utc FROM workers`)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		var w Worker
		var heartbeat string
		if err := rows.Scan(&w.WorkerID, &w.Capabilities, &heartbeat); err != nil {
			return nil, classifyExecErr(err)
		}
		w.HeartbeatUTC = mustParseTime(heartbeat)
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}

func (s *SQLiteStore) DeleteWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = ?`, workerID)
	return classifyExecErr(err)
}

func (s *SQLiteStore) AppendLog(ctx context.Context, l *TaskLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, at_utc, level, message, details) VALUES (?, ?, ?, ?, ?)`,
		l.TaskID, l.AtUTC.Format(timeLayout), l.Level, l.Message, l.Details)
	if err != nil {
		return 0, classifyExecErr(err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListLogs(ctx context.Context, taskID int64, afterLogID int64) ([]*TaskLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT log_id, task_id, at_utc, level, message, details FROM task_logs
		 WHERE task_id = ? AND log_id > ? ORDER BY log_id ASC`, taskID, afterLogID)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	var logs []*TaskLog
	for rows.Next() {
		var l TaskLog
		var at string
		var details sql.NullString
		if err := rows.Scan(&l.LogID, &l.TaskID, &at, &l.Level, &l.Message, &details); err != nil {
			return nil, classifyExecErr(err)
		}
		l.AtUTC = mustParseTime(at)
		if details.Valid {
			v := details.String
			l.Details = &v
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) DeleteTasksOlderThan(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN ('completed', 'failed', 'dead_letter') AND finished_at_utc < ?`,
		before.Format(timeLayout))
	if err != nil {
		return 0, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), classifyExecErr(err)
}

func (s *SQLiteStore) Checkpoint(ctx context.Context, mode string) (CheckpointResult, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`PRAGMA wal_checkpoint(%s)`, mode))
	var busy, logPages, checkpointed int
	if err := row.Scan(&busy, &logPages, &checkpointed); err != nil {
		return CheckpointResult{}, classifyExecErr(err)
	}
	return CheckpointResult{Busy: busy != 0, LogPages: logPages, CheckpointedPages: checkpointed}, nil
}

func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return classifyExecErr(err)
}

func (s *SQLiteStore) Analyze(ctx context.Context, table string) error {
	stmt := `ANALYZE`
	if table != "" {
		stmt = fmt.Sprintf(`ANALYZE %s`, table)
	}
	_, err := s.db.ExecContext(ctx, stmt)
	return classifyExecErr(err)
}

func (s *SQLiteStore) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	var messages []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, classifyExecErr(err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&stats.PageCount); err != nil {
		return stats, classifyExecErr(err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&stats.PageSize); err != nil {
		return stats, classifyExecErr(err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&stats.FreelistCount); err != nil {
		return stats, classifyExecErr(err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&stats.WALMode); err != nil {
		return stats, classifyExecErr(err)
	}
	var walPages int64
	_ = s.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`).Scan(new(int), &walPages, new(int))
	stats.TotalMB = float64(stats.PageCount*stats.PageSize) / (1024 * 1024)
	stats.WALMB = float64(walPages*stats.PageSize) / (1024 * 1024)
	return stats, nil
}

// Backup uses VACUUM INTO as the portable online-backup primitive
// reachable through database/sql (the cgo driver's native backup API
// isn't exposed there), per spec §4.8.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath)
	return classifyExecErr(err)
}

// --- Tx implementation ---

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetTaskForUpdate(ctx context.Context, id int64) (*Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newErr(KindNotFound, nil, "task %d not found", id)
	}
	if err != nil {
		return nil, classifyExecErr(err)
	}
	return task, nil
}

// ClaimTask performs the atomic queued->leased transition from spec
// §4.4: a single UPDATE guarded by the full candidate predicate. Zero
// rows affected means the task was claimed by a concurrent transaction
// (or no longer matches) since the caller read it — not an error, just
// a lost race the Claimer retries against the next candidate.
func (t *sqliteTx) ClaimTask(ctx context.Context, id int64, workerID string, leaseSeconds int, now time.Time) (bool, error) {
	leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = 'leased',
			locked_by = ?,
			reserved_at_utc = ?,
			lease_until_utc = ?,
			attempts = attempts + 1,
			updated_at_utc = ?
		WHERE id = ? AND status = 'queued' AND run_after_utc <= ? AND attempts < max_attempts`,
		workerID, now.Format(timeLayout), leaseUntil.Format(timeLayout), now.Format(timeLayout),
		id, now.Format(timeLayout))
	if err != nil {
		return false, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classifyExecErr(err)
	}
	return n > 0, nil
}

// CandidateTasks returns the claimable set (spec §4.4) ordered per the
// strategy's primary/secondary order. Capability matching happens in Go
// after this fetch — see Claimer.
func (t *sqliteTx) CandidateTasks(ctx context.Context, now time.Time, order ClaimOrder, limit int) ([]*Task, error) {
	orderClause := "id ASC"
	switch order {
	case OrderLIFO:
		orderClause = "id DESC"
	case OrderPriority:
		orderClause = "priority ASC, id ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks
		WHERE status = 'queued' AND run_after_utc <= ? AND attempts < max_attempts
		ORDER BY %s LIMIT ?`, taskColumns, orderClause)

	rows, err := t.tx.QueryContext(ctx, query, now.Format(timeLayout), limit)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classifyExecErr(err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (t *sqliteTx) UpdateTaskComplete(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', finished_at_utc = ?, updated_at_utc = ?,
			locked_by = NULL, reserved_at_utc = NULL, lease_until_utc = NULL
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'dead_letter')`,
		now.Format(timeLayout), now.Format(timeLayout), id)
	if err != nil {
		return false, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classifyExecErr(err)
}

func (t *sqliteTx) UpdateTaskRetry(ctx context.Context, id int64, runAfter time.Time, errMsg string, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'queued', run_after_utc = ?, error_message = ?, updated_at_utc = ?,
			locked_by = NULL, reserved_at_utc = NULL, lease_until_utc = NULL
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'dead_letter')`,
		runAfter.Format(timeLayout), errMsg, now.Format(timeLayout), id)
	if err != nil {
		return false, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classifyExecErr(err)
}

func (t *sqliteTx) UpdateTaskDeadLetter(ctx context.Context, id int64, errMsg string, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'dead_letter', finished_at_utc = ?, error_message = ?, updated_at_utc = ?,
			locked_by = NULL, reserved_at_utc = NULL, lease_until_utc = NULL
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'dead_letter')`,
		now.Format(timeLayout), errMsg, now.Format(timeLayout), id)
	if err != nil {
		return false, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classifyExecErr(err)
}

func (t *sqliteTx) UpdateTaskRenewLease(ctx context.Context, id int64, leaseUntil time.Time, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET lease_until_utc = ?, updated_at_utc = ?
		WHERE id = ? AND status = 'leased'`,
		leaseUntil.Format(timeLayout), now.Format(timeLayout), id)
	if err != nil {
		return false, classifyExecErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classifyExecErr(err)
}

func (t *sqliteTx) UpdateTaskCancel(ctx context.Context, id int64, now time.Time) (*Task, error) {
	task, err := t.GetTaskForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return task, nil
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', finished_at_utc = ?, error_message = 'Cancelled by user', updated_at_utc = ?,
			locked_by = NULL, reserved_at_utc = NULL, lease_until_utc = NULL
		WHERE id = ?`, now.Format(timeLayout), now.Format(timeLayout), id)
	if err != nil {
		return nil, classifyExecErr(err)
	}
	return t.GetTaskForUpdate(ctx, id)
}

// ReclaimTask resets a leased task to queued without touching attempts,
// per spec §4.7's "leave attempts unchanged" invariant.
func (t *sqliteTx) ReclaimTask(ctx context.Context, id int64, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'queued', locked_by = NULL, reserved_at_utc = NULL,
			lease_until_utc = NULL, updated_at_utc = ?
		WHERE id = ? AND status = 'leased'`, now.Format(timeLayout), id)
	return classifyExecErr(err)
}

func (t *sqliteTx) AppendLog(ctx context.Context, l *TaskLog) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, at_utc, level, message, details) VALUES (?, ?, ?, ?, ?)`,
		l.TaskID, l.AtUTC.Format(timeLayout), l.Level, l.Message, l.Details)
	if err != nil {
		return 0, classifyExecErr(err)
	}
	return res.LastInsertId()
}
