/*
Package log provides structured logging for PrismQ using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all PrismQ packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithWorkerID: Add worker ID context
  - WithTaskID: Add task ID context

# Usage

Initializing the Logger:

	import "github.com/nomoos/prismq/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("worker engine starting")
	log.Debug("checking for claimable tasks")
	log.Warn("worker heartbeat delayed")
	log.Error("failed to append task log")
	log.Fatal("cannot open queue database") // Exits process

Component Loggers:

	engineLog := log.WithComponent("worker-engine")
	engineLog.Info().Msg("starting claim loop")

	workerLog := log.WithWorkerID("worker-7")
	workerLog.Info().Int64("task_id", 42).Msg("task claimed")

	taskLog := log.WithTaskID(42)
	taskLog.Info().Msg("dispatching to handler")

# Integration Points

This package integrates with:

  - pkg/queue: logs engine lifecycle, claims, retries, dead-letters
  - pkg/httpapi: holds a component logger; requests are not logged
  - cmd/prismq: root-level log initialization from CLI flags

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (worker ID, task ID)

Don't:
  - Log sensitive data (idempotency keys tied to external secrets, tokens)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
