package main

import (
	"github.com/nomoos/prismq/pkg/log"
	"github.com/nomoos/prismq/pkg/queue"
)

// registerDemoHandlers registers the sample task types used by
// `prismq enqueue`, mirroring the original's demo.py/demo_retry.py
// scripts (spec §4.12). Production deployments register their own
// handlers at process startup instead of calling this.
func registerDemoHandlers(registry *queue.HandlerRegistry) {
	logger := log.WithComponent("demo-handlers")

	_ = registry.Register("noop", func(task *queue.Task) error {
		logger.Info().Int64("task_id", task.ID).Msg("noop task executed")
		return nil
	}, "does nothing, always succeeds", "1.0.0", true)

	_ = registry.Register("echo", func(task *queue.Task) error {
		payload, err := task.PayloadMap()
		if err != nil {
			return err
		}
		logger.Info().Int64("task_id", task.ID).Interface("payload", payload).Msg("echo task executed")
		return nil
	}, "logs its payload and succeeds", "1.0.0", true)
}
