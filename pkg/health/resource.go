package health

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ResourceThresholds are the warning levels the
// /system/maintenance/health-check operation checks memory, disk, and
// goroutine counts against. Defaults mirror the original maintenance
// task's memory/disk warning points (80%/90%) and its asyncio task
// count ceiling, rendered here as a goroutine count since Go has no
// direct analogue to an asyncio task.
type ResourceThresholds struct {
	MemoryPercent float64
	DiskPercent   float64
	GoroutineMax  int
}

// DefaultResourceThresholds returns the pack's default thresholds.
func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{MemoryPercent: 80, DiskPercent: 90, GoroutineMax: 100}
}

// ResourceCheck is one named check's outcome, matching the
// {"status": ..., "value": ...} shape of the maintenance health-check
// response body.
type ResourceCheck struct {
	Status string  `json:"status"`
	Value  float64 `json:"value"`
}

// ResourceChecker checks process memory, disk usage of a path, and
// goroutine count against ResourceThresholds. It satisfies Checker and
// reports on the host process as a whole; it is the only Checker in this
// package.
//
// No pack dependency wraps gopsutil-style OS metrics, so this reads
// runtime.MemStats and syscall.Statfs directly rather than pulling in an
// unretrieved third-party library for it.
type ResourceChecker struct {
	diskPath   string
	thresholds ResourceThresholds
}

// NewResourceChecker builds a checker. diskPath is the filesystem the
// disk check statfs()s; pass "" to skip the disk check.
func NewResourceChecker(diskPath string, thresholds ResourceThresholds) *ResourceChecker {
	return &ResourceChecker{diskPath: diskPath, thresholds: thresholds}
}

func (c *ResourceChecker) Type() CheckType { return CheckTypeResource }

// Check implements Checker, folding the per-dimension Checks into one
// Result.
func (c *ResourceChecker) Check(ctx context.Context) Result {
	checks := c.Checks()
	var warnings []string
	for name, chk := range checks {
		if chk.Status != "ok" {
			warnings = append(warnings, name)
		}
	}
	if len(warnings) == 0 {
		return Result{Healthy: true, Message: "ok", CheckedAt: time.Now()}
	}
	sort.Strings(warnings)
	return Result{
		Healthy:   false,
		Message:   "warning: " + strings.Join(warnings, ","),
		CheckedAt: time.Now(),
	}
}

// Checks returns the full per-resource breakdown for the
// /system/maintenance/health-check endpoint.
func (c *ResourceChecker) Checks() map[string]ResourceCheck {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memPercent := 0.0
	if mem.Sys > 0 {
		memPercent = float64(mem.HeapAlloc) / float64(mem.Sys) * 100
	}

	diskPercent := 0.0
	if c.diskPath != "" {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(c.diskPath, &stat); err == nil && stat.Blocks > 0 {
			used := stat.Blocks - stat.Bfree
			diskPercent = float64(used) / float64(stat.Blocks) * 100
		}
	}

	goroutines := float64(runtime.NumGoroutine())

	statusFor := func(v, limit float64) string {
		if v >= limit {
			return "warning"
		}
		return "ok"
	}

	return map[string]ResourceCheck{
		"memory":     {Status: statusFor(memPercent, c.thresholds.MemoryPercent), Value: memPercent},
		"disk":       {Status: statusFor(diskPercent, c.thresholds.DiskPercent), Value: diskPercent},
		"goroutines": {Status: statusFor(goroutines, float64(c.thresholds.GoroutineMax)), Value: goroutines},
	}
}
