package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomoos/prismq/pkg/health"
	"github.com/nomoos/prismq/pkg/queue"
)

func newTestServer(t *testing.T) (http.Handler, *queue.SQLiteStore) {
	t.Helper()
	store, err := queue.Open(context.Background(), filepath.Join(t.TempDir(), "prismq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	enqueueAPI := queue.NewEnqueueAPI(store)
	beat := queue.NewHeartbeatMonitor(store, 0)
	maintenance := queue.NewMaintenance(store, beat, t.TempDir())
	resources := health.NewResourceChecker(t.TempDir(), health.DefaultResourceThresholds())

	srv := NewServer(enqueueAPI, maintenance, nil, resources)
	return srv.Router([]string{"*"}), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleEnqueue_Success(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{
		"type":    "noop",
		"payload": map[string]any{"n": 1},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		TaskID int64  `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotZero(t, body.TaskID)
	assert.Equal(t, "queued", body.Status)
}

func TestHandleEnqueue_RejectsMissingType(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{
		"payload": map[string]any{},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueue_RejectsPriorityOutOfRange(t *testing.T) {
	handler, _ := newTestServer(t)

	priority := 0
	rec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{
		"type":     "noop",
		"priority": priority,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueue_RejectsMaxAttemptsBelowOne(t *testing.T) {
	handler, _ := newTestServer(t)

	maxAttempts := 0
	rec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{
		"type":         "noop",
		"max_attempts": maxAttempts,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTask_NotFound(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/queue/tasks/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetTask_InvalidID(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/queue/tasks/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueueThenGetTask(t *testing.T) {
	handler, _ := newTestServer(t)

	createRec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{"type": "noop"})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	getRec := doJSON(t, handler, http.MethodGet, "/queue/tasks/"+itoa(created.TaskID), nil)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var task struct {
		TaskID int64  `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &task))
	assert.Equal(t, created.TaskID, task.TaskID)
	assert.Equal(t, "queued", task.Status)
}

func TestHandleCancelTask(t *testing.T) {
	handler, _ := newTestServer(t)

	createRec := doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{"type": "noop"})
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	cancelRec := doJSON(t, handler, http.MethodPost, "/queue/tasks/"+itoa(created.TaskID)+"/cancel", nil)
	assert.Equal(t, http.StatusOK, cancelRec.Code)

	var cancelled struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &cancelled))
	assert.Equal(t, "failed", cancelled.Status)
}

func TestHandleStats(t *testing.T) {
	handler, _ := newTestServer(t)

	doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{"type": "noop"})
	doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{"type": "noop"})

	rec := doJSON(t, handler, http.MethodGet, "/queue/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Total int `json:"Total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
}

func TestHandleListTasks(t *testing.T) {
	handler, _ := newTestServer(t)

	doJSON(t, handler, http.MethodPost, "/queue/enqueue", map[string]any{"type": "echo"})

	rec := doJSON(t, handler, http.MethodGet, "/queue/tasks?type=echo", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var tasks []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "echo", tasks[0]["type"])
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
