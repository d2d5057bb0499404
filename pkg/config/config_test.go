package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	_, err := Load("")
	require.Error(t, err, "a missing worker_id must raise a validation error, not be filled in")
}

func TestLoad_DefaultsWithWorkerIDFromEnv(t *testing.T) {
	t.Setenv("PRISMQ_WORKER_ID", "env-only-id")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-only-id", cfg.WorkerID)
	assert.Equal(t, "fifo", cfg.SchedulingStrategy)
	assert.Equal(t, 60, cfg.LeaseDurationSeconds)
	assert.Equal(t, 1, cfg.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.NotNil(t, cfg.Capabilities)
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.json")
	body := `{"worker_id":"w1","scheduling_strategy":"priority","lease_duration_seconds":30}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "w1", cfg.WorkerID)
	assert.Equal(t, "priority", cfg.SchedulingStrategy)
	assert.Equal(t, 30, cfg.LeaseDurationSeconds)
	assert.Equal(t, 3, cfg.MaxRetries, "fields absent from the file keep their default")
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	body := "worker_id: w2\nscheduling_strategy: lifo\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "w2", cfg.WorkerID)
	assert.Equal(t, "lifo", cfg.SchedulingStrategy)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.toml")
	body := "worker_id = \"w3\"\nscheduling_strategy = \"weighted_random\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "w3", cfg.WorkerID)
	assert.Equal(t, "weighted_random", cfg.SchedulingStrategy)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.ini")
	require.NoError(t, os.WriteFile(path, []byte("worker_id=w"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidStrategyRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_id":"w4","scheduling_strategy":"round_robin"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingWorkerIDIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduling_strategy":"priority"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err, "a missing worker_id must raise a validation error")
}

func TestLoad_EnvOverridesTakePrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_id":"file-id","lease_duration_seconds":30}`), 0o644))

	t.Setenv("PRISMQ_WORKER_ID", "env-id")
	t.Setenv("PRISMQ_WORKER_LEASE_DURATION_SECONDS", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-id", cfg.WorkerID)
	assert.Equal(t, 120, cfg.LeaseDurationSeconds)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
