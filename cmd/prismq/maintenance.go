package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/queue"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "On-demand queue maintenance operations",
}

func init() {
	maintenanceCmd.AddCommand(checkpointCmd)
	maintenanceCmd.AddCommand(vacuumCmd)
	maintenanceCmd.AddCommand(analyzeCmd)
	maintenanceCmd.AddCommand(cleanupLeasesCmd)
	maintenanceCmd.AddCommand(backupCmd)

	cleanupLeasesCmd.Flags().Int("timeout-seconds", 300, "Leases older than this are reclaimed")
	checkpointCmd.Flags().String("mode", "PASSIVE", "Checkpoint mode: PASSIVE, FULL, RESTART, TRUNCATE")
	backupCmd.Flags().String("dir", "./backups", "Directory to write the backup into")
	backupCmd.Flags().String("name", "", "Optional name suffix for the backup file")
}

func openMaintenance(cmd *cobra.Command) (*queue.SQLiteStore, *queue.Maintenance, error) {
	store, err := queue.Open(context.Background(), dbPath(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	beat := queue.NewHeartbeatMonitor(store, 2*time.Minute)
	return store, queue.NewMaintenance(store, beat, "./backups"), nil
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Run a WAL checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, m, err := openMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		mode, _ := cmd.Flags().GetString("mode")
		result, err := m.Checkpoint(context.Background(), mode)
		if err != nil {
			return err
		}
		fmt.Printf("checkpoint: busy=%v log_pages=%d checkpointed_pages=%d\n", result.Busy, result.LogPages, result.CheckpointedPages)
		return nil
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Rewrite the database file, reclaiming freelist pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, m, err := openMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := m.Vacuum(context.Background()); err != nil {
			return err
		}
		fmt.Println("vacuum complete")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Refresh the query planner's statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, m, err := openMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := m.Analyze(context.Background(), ""); err != nil {
			return err
		}
		fmt.Println("analyze complete")
		return nil
	},
}

var cleanupLeasesCmd = &cobra.Command{
	Use:   "cleanup-leases",
	Short: "Reclaim tasks whose lease expired more than --timeout-seconds ago",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, m, err := openMaintenance(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		timeoutSeconds, _ := cmd.Flags().GetInt("timeout-seconds")
		n, err := m.CleanupStaleLeases(context.Background(), timeoutSeconds)
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d task(s)\n", n)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an online backup of the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		name, _ := cmd.Flags().GetString("name")
		store, err := queue.Open(context.Background(), dbPath(cmd))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		beat := queue.NewHeartbeatMonitor(store, 2*time.Minute)
		m := queue.NewMaintenance(store, beat, dir)

		path, err := m.CreateBackup(context.Background(), name)
		if err != nil {
			return err
		}
		fmt.Printf("backup written to %s\n", path)
		return nil
	},
}
