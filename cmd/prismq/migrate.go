package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/queue"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the queue schema to the database file",
	Long: `Creates the tasks, workers, and task_logs tables and their
indexes if they don't already exist. Safe to run repeatedly.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := dbPath(cmd)

	store, err := queue.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	fmt.Printf("schema applied to %s\n", path)
	return nil
}
