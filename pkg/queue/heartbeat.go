package queue

import (
	"context"
	"time"

	"github.com/nomoos/prismq/pkg/metrics"
)

// HeartbeatMonitor tracks worker liveness and reclaims tasks held by
// workers that have gone silent, per spec §4.7. Expired leases are
// reclaimed separately by Maintenance.CleanupStaleLeases.
// Modeled on the teacher's reconciler staleness check
// (pkg/reconciler/reconciler.go reconcileNodes: now.Sub(lastHeartbeat) >
// threshold), adapted from marking a node down to reclaiming its tasks.
type HeartbeatMonitor struct {
	store          Store
	staleThreshold time.Duration
}

// NewHeartbeatMonitor builds a monitor considering a worker stale once
// it has not beaten within staleThreshold.
func NewHeartbeatMonitor(store Store, staleThreshold time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{store: store, staleThreshold: staleThreshold}
}

// Beat records a worker's heartbeat and capability set, upserting the
// worker row if it hasn't registered yet.
func (h *HeartbeatMonitor) Beat(ctx context.Context, workerID, capabilities string) error {
	return h.store.UpsertWorker(ctx, workerID, capabilities, time.Now().UTC())
}

// ActiveWorkers returns workers that have heartbeated within the stale
// threshold as of now.
func (h *HeartbeatMonitor) ActiveWorkers(ctx context.Context, now time.Time) ([]*Worker, error) {
	all, err := h.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	var active []*Worker
	for _, w := range all {
		if w.Active(now, h.staleThreshold) {
			active = append(active, w)
		}
	}
	return active, nil
}

// StaleWorkers returns workers that have not heartbeated within the
// stale threshold as of now.
func (h *HeartbeatMonitor) StaleWorkers(ctx context.Context, now time.Time) ([]*Worker, error) {
	all, err := h.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	var stale []*Worker
	for _, w := range all {
		if !w.Active(now, h.staleThreshold) {
			stale = append(stale, w)
		}
	}
	return stale, nil
}

// ReclaimStaleTasks resets to queued every leased task whose owning
// worker has gone stale, per spec §4.7. This is independent of lease
// expiry (Maintenance.CleanupStaleLeases covers that case) — a worker
// can go silent well before its task's lease technically expires.
// attempts is left untouched, matching the teacher's "mark down, let
// the scheduler reschedule" split between detection and remediation.
func (h *HeartbeatMonitor) ReclaimStaleTasks(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	leased, err := h.store.ListTasks(ctx, string(StatusLeased), "", 0)
	if err != nil {
		return 0, err
	}
	if len(leased) == 0 {
		return 0, nil
	}

	staleWorkers, err := h.StaleWorkers(ctx, now)
	if err != nil {
		return 0, err
	}
	staleByID := make(map[string]bool, len(staleWorkers))
	for _, w := range staleWorkers {
		staleByID[w.WorkerID] = true
	}

	reclaimed := 0
	for _, task := range leased {
		if task.LockedBy == nil || !staleByID[*task.LockedBy] {
			continue
		}

		err := h.store.WithTx(ctx, func(tx Tx) error {
			return tx.ReclaimTask(ctx, task.ID, now)
		})
		if err != nil {
			return reclaimed, err
		}
		metrics.LeaseReclaimsTotal.WithLabelValues("stale_worker").Inc()
		reclaimed++
	}
	return reclaimed, nil
}

// CleanupStaleWorkers deletes worker rows that have gone stale. Deletion
// only drops the worker's own bookkeeping row; any tasks it held are
// reclaimed separately by ReclaimStaleTasks. When force is false,
// workers whose tasks have not yet been reclaimed are skipped to avoid
// losing the stale-owner signal mid-cycle.
func (h *HeartbeatMonitor) CleanupStaleWorkers(ctx context.Context, force bool) (int, error) {
	now := time.Now().UTC()
	stale, err := h.StaleWorkers(ctx, now)
	if err != nil {
		return 0, err
	}

	leased, err := h.store.ListTasks(ctx, string(StatusLeased), "", 0)
	if err != nil {
		return 0, err
	}
	heldBy := make(map[string]bool, len(leased))
	for _, t := range leased {
		if t.LockedBy != nil {
			heldBy[*t.LockedBy] = true
		}
	}

	removed := 0
	for _, w := range stale {
		if !force && heldBy[w.WorkerID] {
			continue
		}
		if err := h.store.DeleteWorker(ctx, w.WorkerID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
