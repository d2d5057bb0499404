package queue

// schemaStatements creates the tables and indexes described in spec §4.2.
// Every statement is idempotent so Migrate can run against an
// already-initialized store (e.g. on every process start).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		type            TEXT NOT NULL,
		payload         TEXT NOT NULL DEFAULT '{}',
		priority        INTEGER NOT NULL DEFAULT 100,
		status          TEXT NOT NULL DEFAULT 'queued',
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 3,
		compatibility   TEXT NOT NULL DEFAULT '{}',
		idempotency_key TEXT,
		locked_by       TEXT,
		error_message   TEXT,
		created_at_utc  TEXT NOT NULL,
		run_after_utc   TEXT NOT NULL,
		reserved_at_utc TEXT,
		lease_until_utc TEXT,
		finished_at_utc TEXT,
		updated_at_utc  TEXT NOT NULL,
		compat_empty    INTEGER GENERATED ALWAYS AS
			(CASE WHEN compatibility IS NULL OR compatibility = '{}' THEN 1 ELSE 0 END) STORED
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idempotency_key
		ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claim_priority
		ON tasks(status, priority, id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claim_fifo
		ON tasks(status, id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_lease_until
		ON tasks(lease_until_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_compat_empty
		ON tasks(status, compat_empty, priority, id)`,
	`CREATE TABLE IF NOT EXISTS workers (
		worker_id     TEXT PRIMARY KEY,
		capabilities  TEXT NOT NULL DEFAULT '{}',
		heartbeat_utc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workers_heartbeat
		ON workers(heartbeat_utc)`,
	`CREATE TABLE IF NOT EXISTS task_logs (
		log_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id  INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		at_utc   TEXT NOT NULL,
		level    TEXT NOT NULL,
		message  TEXT NOT NULL,
		details  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_task_id
		ON task_logs(task_id, log_id)`,
}

// pragmaStatements configure the connection-level behavior spec §4.1
// requires: WAL journaling, a busy timeout to absorb writer contention,
// foreign keys for the TaskLog cascade delete, and NORMAL synchronous mode
// as the durability/throughput tradeoff.
var pragmaStatements = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA busy_timeout = 5000`,
	`PRAGMA foreign_keys = ON`,
	`PRAGMA synchronous = NORMAL`,
}
