/*
Package health monitors the PrismQ process itself: memory, disk, and
goroutine usage, as exposed at POST /system/maintenance/health-check.

# Core Components

## Checker Interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

## ResourceChecker

ResourceChecker inspects process memory via runtime.MemStats, disk space
via syscall.Statfs on the directory it is given (serve passes its backup
directory), and goroutine count
as a proxy for runaway task concurrency — each against a configurable
warning threshold (see resource.go, ResourceThresholds).

# Usage

	import "github.com/nomoos/prismq/pkg/health"

	resources := health.NewResourceChecker(backupDir, health.DefaultResourceThresholds())
	result := resources.Check(ctx)
	if !result.Healthy {
		log.Printf("unhealthy: %s", result.Message)
	}

	checks := resources.Checks() // per-dimension breakdown for the HTTP handler

# Integration Points

  - pkg/httpapi: POST /system/maintenance/health-check returns resources.Checks()
  - cmd/prismq: registers the resource checker at serve startup

# See Also

  - pkg/metrics for the Prometheus-facing gauges
*/
package health
