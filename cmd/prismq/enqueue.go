package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Enqueue a single task, for scripting and demos",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().String("payload", "{}", "JSON task payload")
	enqueueCmd.Flags().Int("priority", 100, "Task priority (lower claims first)")
	enqueueCmd.Flags().Int("max-attempts", 3, "Maximum attempts before dead-lettering")
	enqueueCmd.Flags().String("idempotency-key", "", "Deduplication key")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	taskType := args[0]

	payloadRaw, _ := cmd.Flags().GetString("payload")
	priority, _ := cmd.Flags().GetInt("priority")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
	idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
		return fmt.Errorf("parse --payload: %w", err)
	}

	store, err := queue.Open(ctx, dbPath(cmd))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	api := queue.NewEnqueueAPI(store)
	req := queue.NewEnqueueRequest(taskType, payload)
	req.Priority = priority
	req.MaxAttempts = maxAttempts
	req.IdempotencyKey = idempotencyKey

	result, err := api.Enqueue(ctx, req)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	if result.Deduplicated {
		fmt.Printf("task %d already exists (status=%s)\n", result.TaskID, result.Status)
	} else {
		fmt.Printf("enqueued task %d (status=%s)\n", result.TaskID, result.Status)
	}
	return nil
}
