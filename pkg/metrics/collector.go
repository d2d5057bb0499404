package metrics

import (
	"context"
	"time"
)

// StatsSource is the subset of queue.Store a Collector samples on each
// tick. Declared locally (rather than importing the queue package) so
// metrics stays a leaf package with no dependency back on the domain it
// instruments.
type StatsSource interface {
	CountTasksByStatus(ctx context.Context) (map[string]int, error)
	ListWorkers(ctx context.Context) ([]WorkerSnapshot, error)
	OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, bool, error)
}

// WorkerSnapshot is the minimal worker view the collector needs to judge
// staleness.
type WorkerSnapshot struct {
	WorkerID     string
	HeartbeatUTC time.Time
}

// Collector periodically samples the store and updates the queue-depth,
// worker-count, and oldest-age gauges.
type Collector struct {
	source         StatsSource
	staleThreshold time.Duration
	interval       time.Duration
	stopCh         chan struct{}
}

// NewCollector creates a collector sampling source every interval.
// Workers are considered active if they heartbeated within
// staleThreshold of the sample time.
func NewCollector(source StatsSource, interval, staleThreshold time.Duration) *Collector {
	return &Collector{
		source:         source,
		staleThreshold: staleThreshold,
		interval:       interval,
		stopCh:         make(chan struct{}),
	}
}

// Start begins sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx := context.Background()

	if counts, err := c.source.CountTasksByStatus(ctx); err == nil {
		for status, n := range counts {
			QueueDepth.WithLabelValues(status).Set(float64(n))
		}
	}

	if workers, err := c.source.ListWorkers(ctx); err == nil {
		now := time.Now().UTC()
		active := 0
		for _, w := range workers {
			if now.Sub(w.HeartbeatUTC) <= c.staleThreshold {
				active++
			}
		}
		WorkersActive.Set(float64(active))
	}

	if age, ok, err := c.source.OldestQueuedAge(ctx, time.Now().UTC()); err == nil && ok {
		OldestQueuedAge.Set(age.Seconds())
	} else if err == nil {
		OldestQueuedAge.Set(0)
	}
}
