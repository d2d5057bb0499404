package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nomoos/prismq/pkg/queue"
)

// enqueueRequestBody is the wire shape for POST /queue/enqueue, per spec
// §6.1. validator tags enforce the non-defaultable fields; priority,
// max_attempts, and run_after_utc fall back to EnqueueRequest defaults
// when absent; an explicit out-of-range value (such as priority 0) is
// rejected with 400.
type enqueueRequestBody struct {
	Type           string         `json:"type" validate:"required"`
	Payload        map[string]any `json:"payload"`
	Priority       *int           `json:"priority" validate:"omitempty,min=1,max=1000"`
	Compatibility  map[string]any `json:"compatibility"`
	MaxAttempts    *int           `json:"max_attempts" validate:"omitempty,min=1"`
	RunAfterUTC    *time.Time     `json:"run_after_utc"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type enqueueResponseBody struct {
	TaskID       int64        `json:"task_id"`
	Status       queue.Status `json:"status"`
	CreatedAtUTC time.Time    `json:"created_at_utc"`
	Message      string       `json:"message,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, queue.KindValidation, "malformed request body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, queue.KindValidation, err.Error())
		return
	}

	req := queue.NewEnqueueRequest(body.Type, body.Payload)
	req.Compatibility = body.Compatibility
	req.IdempotencyKey = body.IdempotencyKey
	if body.Priority != nil {
		req.Priority = *body.Priority
	}
	if body.MaxAttempts != nil {
		req.MaxAttempts = *body.MaxAttempts
	}
	if body.RunAfterUTC != nil {
		req.RunAfterUTC = *body.RunAfterUTC
	}

	result, err := s.enqueue.Enqueue(r.Context(), req)
	if err != nil {
		writeQueueError(w, err)
		return
	}

	msg := ""
	if result.Deduplicated {
		msg = "already exists"
	}
	writeJSON(w, http.StatusCreated, enqueueResponseBody{
		TaskID:       result.TaskID,
		Status:       result.Status,
		CreatedAtUTC: result.CreatedAtUTC,
		Message:      msg,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, queue.KindValidation, err.Error())
		return
	}
	task, err := s.enqueue.Status(r.Context(), id)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskView(task))
}

type cancelResponseBody struct {
	TaskID  int64        `json:"task_id"`
	Status  queue.Status `json:"status"`
	Message string       `json:"message,omitempty"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, queue.KindValidation, err.Error())
		return
	}
	task, err := s.enqueue.Cancel(r.Context(), id)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	// UpdateTaskCancel is a no-op on an already-terminal task: a task
	// that ends up failed but not via this call's own "Cancelled by
	// user" message was already terminal before we got here.
	msg := ""
	if task.Status == queue.StatusCompleted || task.Status == queue.StatusDeadLetter {
		msg = "cannot cancel"
	} else if task.Status == queue.StatusFailed && (task.ErrorMessage == nil || *task.ErrorMessage != "Cancelled by user") {
		msg = "cannot cancel"
	}
	writeJSON(w, http.StatusOK, cancelResponseBody{TaskID: task.ID, Status: task.Status, Message: msg})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.enqueue.Stats(r.Context())
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	tasks, err := s.enqueue.List(r.Context(), q.Get("status"), q.Get("type"), limit)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	views := make([]taskViewBody, len(tasks))
	for i, t := range tasks {
		views[i] = taskView(t)
	}
	writeJSON(w, http.StatusOK, views)
}

type taskViewBody struct {
	TaskID         int64      `json:"task_id"`
	Type           string     `json:"type"`
	Status         queue.Status `json:"status"`
	Priority       int        `json:"priority"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAtUTC   time.Time  `json:"created_at_utc"`
	RunAfterUTC    time.Time  `json:"run_after_utc"`
	FinishedAtUTC  *time.Time `json:"finished_at_utc,omitempty"`
}

func taskView(t *queue.Task) taskViewBody {
	v := taskViewBody{
		TaskID:       t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Priority:     t.Priority,
		Attempts:     t.Attempts,
		MaxAttempts:  t.MaxAttempts,
		CreatedAtUTC: t.CreatedAtUTC,
		RunAfterUTC:  t.RunAfterUTC,
		FinishedAtUTC: t.FinishedAtUTC,
	}
	if t.ErrorMessage != nil {
		v.ErrorMessage = *t.ErrorMessage
	}
	return v
}

func parseTaskID(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, errors.New("id must be an integer")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind    queue.Kind `json:"kind"`
	Message string     `json:"message"`
}

func writeError(w http.ResponseWriter, kind queue.Kind, message string) {
	writeJSON(w, statusForKind(kind), errorBody{Kind: kind, Message: message})
}

func writeQueueError(w http.ResponseWriter, err error) {
	var qerr *queue.Error
	if errors.As(err, &qerr) {
		writeError(w, qerr.Kind, qerr.Error())
		return
	}
	writeError(w, queue.KindStore, err.Error())
}

func statusForKind(kind queue.Kind) int {
	switch kind {
	case queue.KindValidation:
		return http.StatusBadRequest
	case queue.KindNotFound:
		return http.StatusNotFound
	case queue.KindBusy:
		return http.StatusServiceUnavailable
	case queue.KindHandlerNotRegistered, queue.KindHandlerAlreadyRegistered:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
