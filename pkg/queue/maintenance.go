package queue

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/nomoos/prismq/pkg/metrics"
)

// Maintenance wraps the Store's housekeeping primitives from spec §4.8
// with metrics timing, matching the teacher's pattern of wrapping a
// store operation with a Timer and a counter
// (pkg/reconciler/reconciler.go reconcile).
type Maintenance struct {
	store      Store
	heartbeats *HeartbeatMonitor
	backupDir  string
}

// NewMaintenance builds a Maintenance facade. backupDir is where
// CreateBackup writes dated snapshot files and ListBackups/CleanupOldBackups
// look for them.
func NewMaintenance(store Store, heartbeats *HeartbeatMonitor, backupDir string) *Maintenance {
	return &Maintenance{store: store, heartbeats: heartbeats, backupDir: backupDir}
}

func (m *Maintenance) timed(op string, fn func() error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MaintenanceDuration, op)
	return fn()
}

// Checkpoint runs PRAGMA wal_checkpoint(mode).
func (m *Maintenance) Checkpoint(ctx context.Context, mode string) (CheckpointResult, error) {
	var result CheckpointResult
	err := m.timed("checkpoint", func() error {
		var err error
		result, err = m.store.Checkpoint(ctx, mode)
		return err
	})
	return result, err
}

// Vacuum runs VACUUM, rewriting the database file and reclaiming
// freelist pages.
func (m *Maintenance) Vacuum(ctx context.Context) error {
	return m.timed("vacuum", func() error { return m.store.Vacuum(ctx) })
}

// Analyze runs ANALYZE, optionally scoped to a single table, to refresh
// the query planner's statistics.
func (m *Maintenance) Analyze(ctx context.Context, table string) error {
	return m.timed("analyze", func() error { return m.store.Analyze(ctx, table) })
}

// IntegrityCheck runs PRAGMA integrity_check and returns its findings;
// a single "ok" entry means the database is sound.
func (m *Maintenance) IntegrityCheck(ctx context.Context) ([]string, error) {
	var messages []string
	err := m.timed("integrity_check", func() error {
		var err error
		messages, err = m.store.IntegrityCheck(ctx)
		return err
	})
	return messages, err
}

// GetStats reports database size and WAL state.
func (m *Maintenance) GetStats(ctx context.Context) (StoreStats, error) {
	return m.store.Stats(ctx)
}

// CleanupStaleLeases resets to queued every leased task whose lease
// expired more than timeoutSeconds ago, per spec §4.8. This is the
// lease-expiry safety net and is independent of worker liveness —
// HeartbeatMonitor.ReclaimStaleTasks covers the stale-worker case.
func (m *Maintenance) CleanupStaleLeases(ctx context.Context, timeoutSeconds int) (int, error) {
	var n int
	err := m.timed("cleanup_stale_leases", func() error {
		now := time.Now().UTC()
		cutoff := now.Add(-time.Duration(timeoutSeconds) * time.Second)

		leased, err := m.store.ListTasks(ctx, string(StatusLeased), "", 0)
		if err != nil {
			return err
		}
		for _, task := range leased {
			if task.LeaseUntilUTC == nil || !task.LeaseUntilUTC.Before(cutoff) {
				continue
			}
			err := m.store.WithTx(ctx, func(tx Tx) error {
				return tx.ReclaimTask(ctx, task.ID, now)
			})
			if err != nil {
				return err
			}
			metrics.LeaseReclaimsTotal.WithLabelValues("expired_lease").Inc()
			n++
		}
		return nil
	})
	return n, err
}

// PurgeFinishedBefore deletes completed/failed/dead_letter tasks that
// finished before the cutoff, per the retention operation in spec §4.8.
func (m *Maintenance) PurgeFinishedBefore(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := m.timed("purge_finished", func() error {
		var err error
		n, err = m.store.DeleteTasksOlderThan(ctx, before)
		return err
	})
	return n, err
}

// Statistics is the point-in-time snapshot returned by the
// /system/maintenance/log-statistics operation.
type Statistics struct {
	AtUTC      time.Time      `json:"at_utc"`
	TasksTotal int            `json:"tasks_total"`
	ByStatus   map[Status]int `json:"by_status"`
	Goroutines int            `json:"goroutines"`
	StoreBytes int64          `json:"store_bytes"`
}

// LogStatistics gathers a point-in-time snapshot for logging/reporting,
// mirroring the original's log_statistics maintenance task.
func (m *Maintenance) LogStatistics(ctx context.Context) (Statistics, error) {
	counts, err := m.store.CountTasksByStatus(ctx)
	if err != nil {
		return Statistics{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		AtUTC:      time.Now().UTC(),
		TasksTotal: total,
		ByStatus:   counts,
		Goroutines: runtime.NumGoroutine(),
		StoreBytes: int64(stats.TotalMB * 1024 * 1024),
	}, nil
}

// CreateBackup writes an online backup via Store.Backup into backupDir,
// named queue_backup_<timestamp>[_name].db per spec §6.2 so ListBackups and
// CleanupOldBackups can order them by timestamp. name is optional; pass
// "" to omit the suffix.
func (m *Maintenance) CreateBackup(ctx context.Context, name string) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", newErr(KindStore, err, "create backup directory")
	}
	fileName := "queue_backup_" + time.Now().UTC().Format("20060102T150405Z")
	if name != "" {
		fileName += "_" + name
	}
	fileName += ".db"
	dest := filepath.Join(m.backupDir, fileName)

	err := m.timed("backup", func() error { return m.store.Backup(ctx, dest) })
	if err != nil {
		return "", err
	}
	return dest, nil
}

// VerifyBackup opens a backup file as its own SQLiteStore and runs
// IntegrityCheck against it, confirming the snapshot is restorable
// without touching the live database.
func (m *Maintenance) VerifyBackup(ctx context.Context, path string) ([]string, error) {
	backup, err := Open(ctx, path)
	if err != nil {
		return nil, newErr(KindStore, err, "open backup for verification")
	}
	defer backup.Close()
	return backup.IntegrityCheck(ctx)
}

// ListBackups returns backup file paths in backupDir, oldest first.
func (m *Maintenance) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newErr(KindStore, err, "list backup directory")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(m.backupDir, n)
	}
	return paths, nil
}

// RestoreBackup replaces the live database file at destPath with the
// given backup file. The caller must ensure no Store holds destPath
// open when calling this.
func (m *Maintenance) RestoreBackup(backupPath, destPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return newErr(KindStore, err, "read backup file")
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return newErr(KindStore, err, "write restored database")
	}
	return nil
}

// CleanupTempFiles recursively removes files under dir older than
// maxAge, per spec.md's /system/maintenance/cleanup-temp-files
// operation. A missing dir is not an error; it reports 0 removed.
func (m *Maintenance) CleanupTempFiles(dir string, maxAge time.Duration) (int, error) {
	var removed int
	cutoff := time.Now().Add(-maxAge)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, newErr(KindStore, err, "cleanup temp files in %q", dir)
	}
	return removed, nil
}

// CleanupOldBackups deletes all but the keep most-recent backups.
func (m *Maintenance) CleanupOldBackups(keep int) (int, error) {
	paths, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(paths) <= keep {
		return 0, nil
	}
	toRemove := paths[:len(paths)-keep]
	removed := 0
	for _, p := range toRemove {
		if err := os.Remove(p); err != nil {
			return removed, newErr(KindStore, err, "remove old backup %q", p)
		}
		removed++
	}
	return removed, nil
}
