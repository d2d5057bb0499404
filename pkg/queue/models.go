package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusLeased     Status = "leased"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether the status accepts no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// LogLevel is the severity of a TaskLog entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// Task is a single unit of work persisted in the queue.
type Task struct {
	ID             int64
	Type           string
	Payload        string
	Priority       int
	Status         Status
	Attempts       int
	MaxAttempts    int
	Compatibility  string
	IdempotencyKey *string
	LockedBy       *string
	ErrorMessage   *string
	CreatedAtUTC   time.Time
	RunAfterUTC    time.Time
	ReservedAtUTC  *time.Time
	LeaseUntilUTC  *time.Time
	FinishedAtUTC  *time.Time
	UpdatedAtUTC   time.Time
}

// PayloadMap parses the opaque JSON payload column into a typed view.
// Handlers call this rather than unmarshalling the raw text themselves.
func (t *Task) PayloadMap() (map[string]any, error) {
	return parseJSONObject(t.Payload)
}

// CompatibilityMap parses the task's required-capabilities column.
// An empty or missing object matches any worker.
func (t *Task) CompatibilityMap() (map[string]any, error) {
	return parseJSONObject(t.Compatibility)
}

// Claimable reports whether the invariant in spec §3 holds for this row,
// independent of the strategy-specific ordering used to find it.
func (t *Task) Claimable(now time.Time) bool {
	return t.Status == StatusQueued && !t.RunAfterUTC.After(now) && t.Attempts < t.MaxAttempts
}

// Worker is an execution agent that leases and runs tasks.
type Worker struct {
	WorkerID      string
	Capabilities  string
	HeartbeatUTC  time.Time
}

// CapabilitiesMap parses the worker's capabilities column.
func (w *Worker) CapabilitiesMap() (map[string]any, error) {
	return parseJSONObject(w.Capabilities)
}

// Active reports whether the worker has been seen within threshold of now.
func (w *Worker) Active(now time.Time, threshold time.Duration) bool {
	return now.Sub(w.HeartbeatUTC) <= threshold
}

// TaskLog is a single append-only structured log line for a task.
type TaskLog struct {
	LogID   int64
	TaskID  int64
	AtUTC   time.Time
	Level   LogLevel
	Message string
	Details *string
}

func parseJSONObject(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, newErr(KindStore, err, "malformed JSON column")
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// capabilityMatch is true when every key/value pair in compat has an equal
// entry in capabilities. An empty or missing compat object matches any
// worker, per the Claimer atomicity contract in spec §4.4.
func capabilityMatch(compat, capabilities map[string]any) bool {
	for k, v := range compat {
		cv, ok := capabilities[k]
		if !ok {
			return false
		}
		if !jsonEqual(v, cv) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
