package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStatsSource struct {
	counts  map[string]int
	workers []WorkerSnapshot
	age     time.Duration
	hasAge  bool
}

func (f *fakeStatsSource) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeStatsSource) ListWorkers(ctx context.Context) ([]WorkerSnapshot, error) {
	return f.workers, nil
}

func (f *fakeStatsSource) OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	return f.age, f.hasAge, nil
}

// TestCollector_CollectUpdatesGauges tests that a single collect() pass
// reflects the source's snapshot into the queue-depth, worker, and
// oldest-age gauges.
func TestCollector_CollectUpdatesGauges(t *testing.T) {
	source := &fakeStatsSource{
		counts: map[string]int{"queued": 3, "leased": 1},
		workers: []WorkerSnapshot{
			{WorkerID: "fresh", HeartbeatUTC: time.Now().UTC()},
			{WorkerID: "stale", HeartbeatUTC: time.Now().UTC().Add(-time.Hour)},
		},
		age:    90 * time.Second,
		hasAge: true,
	}

	c := NewCollector(source, time.Hour, 5*time.Minute)
	c.collect()

	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("queued")); got != 3 {
		t.Errorf("QueueDepth[queued] = %v, want 3", got)
	}
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("leased")); got != 1 {
		t.Errorf("QueueDepth[leased] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WorkersActive); got != 1 {
		t.Errorf("WorkersActive = %v, want 1 (only the fresh heartbeat is within threshold)", got)
	}
	if got := testutil.ToFloat64(OldestQueuedAge); got != 90 {
		t.Errorf("OldestQueuedAge = %v, want 90", got)
	}
}

// TestCollector_CollectWithNoQueuedTaskZeroesAge tests the !ok branch
// resets the gauge instead of leaving a stale reading in place.
func TestCollector_CollectWithNoQueuedTaskZeroesAge(t *testing.T) {
	source := &fakeStatsSource{
		counts: map[string]int{},
		hasAge: false,
	}

	c := NewCollector(source, time.Hour, time.Minute)
	c.collect()

	if got := testutil.ToFloat64(OldestQueuedAge); got != 0 {
		t.Errorf("OldestQueuedAge = %v, want 0 when no queued task exists", got)
	}
}

// TestCollector_StartAndStop tests that Start samples immediately and
// Stop halts the ticker loop without blocking.
func TestCollector_StartAndStop(t *testing.T) {
	source := &fakeStatsSource{counts: map[string]int{"queued": 5}, hasAge: false}
	c := NewCollector(source, 10*time.Millisecond, time.Minute)

	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("queued")); got != 5 {
		t.Errorf("QueueDepth[queued] = %v, want 5 after Start sampled at least once", got)
	}
}
