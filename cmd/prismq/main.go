package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prismq",
	Short: "PrismQ - an embedded, single-writer task queue",
	Long: `PrismQ is a persistent task queue with atomic worker leasing
over an embedded SQLite store, delivered as a single binary with no
external broker dependency.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"prismq version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("db", "prismq.db", "Path to the queue's SQLite database file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(enqueueCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func dbPath(cmd *cobra.Command) string {
	if v := os.Getenv("PRISMQ_QUEUE_DB_PATH"); v != "" {
		return v
	}
	path, _ := cmd.Flags().GetString("db")
	return path
}
