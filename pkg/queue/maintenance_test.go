package queue

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenance_CleanupStaleLeases(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	expiredID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	freshID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))

	claimer, err := NewClaimer(store, StrategyFIFO)
	require.NoError(t, err)
	_, err = claimer.Claim(ctx, "worker-1", nil, 1)
	require.NoError(t, err)
	_, err = claimer.Claim(ctx, "worker-1", nil, 600)
	require.NoError(t, err)

	// Back-date the first task's lease so it reads as expired without sleeping.
	_, err = store.db.ExecContext(ctx, `UPDATE tasks SET lease_until_utc = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour).Format(timeLayout), expiredID)
	require.NoError(t, err)

	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())
	n, err := maint.CleanupStaleLeases(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := store.GetTask(ctx, expiredID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, expired.Status)

	fresh, err := store.GetTask(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, StatusLeased, fresh.Status, "a lease well within its TTL must not be reclaimed")
}

func TestMaintenance_PurgeFinishedBefore(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	taskID := mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	claimer, err := NewClaimer(store, StrategyFIFO)
	require.NoError(t, err)
	_, err = claimer.Claim(ctx, "worker-1", nil, 60)
	require.NoError(t, err)

	executor := NewExecutor(store, DefaultBackoffPolicy())
	_, err = executor.Complete(ctx, taskID)
	require.NoError(t, err)

	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())
	n, err := maint.PurgeFinishedBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetTask(ctx, taskID)
	require.Error(t, err)
}

func TestMaintenance_CleanupTempFiles(t *testing.T) {
	store := newTestStore(t)
	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.tmp")
	freshPath := filepath.Join(dir, "fresh.tmp")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(freshPath, []byte("x"), 0o644))

	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	removed, err := maint.CleanupTempFiles(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}

func TestMaintenance_CleanupTempFilesMissingDirIsNotError(t *testing.T) {
	store := newTestStore(t)
	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())

	removed, err := maint.CleanupTempFiles(filepath.Join(t.TempDir(), "does-not-exist"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestMaintenance_LogStatistics(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	mustEnqueue(t, api, NewEnqueueRequest("noop", nil))
	mustEnqueue(t, api, NewEnqueueRequest("echo", nil))

	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())
	stats, err := maint.LogStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TasksTotal)
	assert.Equal(t, 2, stats.ByStatus[StatusQueued])
	assert.Greater(t, stats.Goroutines, 0)
	assert.False(t, stats.AtUTC.IsZero())
}

func TestMaintenance_BackupCreateVerifyRestore(t *testing.T) {
	store := newTestStore(t)
	api := NewEnqueueAPI(store)
	ctx := context.Background()

	mustEnqueue(t, api, NewEnqueueRequest("noop", nil))

	backupDir := t.TempDir()
	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), backupDir)

	path, err := maint.CreateBackup(ctx, "")
	require.NoError(t, err)
	assert.FileExists(t, path)

	messages, err := maint.VerifyBackup(ctx, path)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "ok", messages[0])

	backups, err := maint.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestMaintenance_CreateBackupWithName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), t.TempDir())

	path, err := maint.CreateBackup(ctx, "pre-migration")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "pre-migration")
	assert.True(t, strings.HasPrefix(filepath.Base(path), "queue_backup_"))
}

func TestMaintenance_CleanupOldBackupsKeepsMostRecent(t *testing.T) {
	store := newTestStore(t)
	backupDir := t.TempDir()
	maint := NewMaintenance(store, NewHeartbeatMonitor(store, time.Minute), backupDir)

	for i := 0; i < 2; i++ {
		_, err := maint.CreateBackup(context.Background(), "")
		require.NoError(t, err)
		if i == 0 {
			time.Sleep(1100 * time.Millisecond) // CreateBackup names files by second-granularity timestamp
		}
	}

	removed, err := maint.CleanupOldBackups(1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := maint.ListBackups()
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
