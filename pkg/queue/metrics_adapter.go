package queue

import (
	"context"
	"time"

	"github.com/nomoos/prismq/pkg/metrics"
)

// storeMetricsSource adapts a Store to metrics.StatsSource, translating
// the domain-typed Status and Worker values the collector doesn't need
// to know about.
type storeMetricsSource struct {
	store Store
}

// NewMetricsSource wraps store for use with metrics.NewCollector.
func NewMetricsSource(store Store) metrics.StatsSource {
	return &storeMetricsSource{store: store}
}

func (s *storeMetricsSource) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

func (s *storeMetricsSource) ListWorkers(ctx context.Context) ([]metrics.WorkerSnapshot, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]metrics.WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		out = append(out, metrics.WorkerSnapshot{WorkerID: w.WorkerID, HeartbeatUTC: w.HeartbeatUTC})
	}
	return out, nil
}

func (s *storeMetricsSource) OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	return s.store.OldestQueuedAge(ctx, now)
}
