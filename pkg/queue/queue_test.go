package queue

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore opens a fresh SQLite-backed Store in a per-test temp
// directory, mirroring the teacher's pattern of a throwaway file-backed
// store per test rather than mocking the database layer.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(dir, "prismq.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustEnqueue(t *testing.T, api *EnqueueAPI, req EnqueueRequest) int64 {
	t.Helper()
	res, err := api.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return res.TaskID
}
