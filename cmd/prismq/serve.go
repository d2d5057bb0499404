package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/config"
	"github.com/nomoos/prismq/pkg/health"
	"github.com/nomoos/prismq/pkg/httpapi"
	"github.com/nomoos/prismq/pkg/log"
	"github.com/nomoos/prismq/pkg/metrics"
	"github.com/nomoos/prismq/pkg/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP adapter and an in-process worker pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a worker config file (JSON/YAML/TOML)")
	serveCmd.Flags().Int("pool-size", 1, "Number of concurrent WorkerEngines to run")
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSlice("cors-origin", []string{"*"}, "Allowed CORS origins for the HTTP adapter")
	serveCmd.Flags().String("backup-dir", "./backups", "Directory for on-demand backups")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	poolSize, _ := cmd.Flags().GetInt("pool-size")
	addr, _ := cmd.Flags().GetString("addr")
	corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origin")
	backupDir, _ := cmd.Flags().GetString("backup-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := queue.Open(context.Background(), dbPath(cmd))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	registry := queue.Global()
	registerDemoHandlers(registry)

	broker := queue.NewLogBroker()
	broker.Start()
	defer broker.Stop()

	engines, beat, err := buildEngines(store, cfg, registry, broker, poolSize)
	if err != nil {
		return fmt.Errorf("build worker engines: %w", err)
	}
	maintenance := queue.NewMaintenance(store, beat, backupDir)
	enqueueAPI := queue.NewEnqueueAPI(store)
	resources := health.NewResourceChecker(backupDir, health.DefaultResourceThresholds())

	collector := metrics.NewCollector(queue.NewMetricsSource(store), 10*time.Second, time.Duration(cfg.LeaseDurationSeconds)*2*time.Second)
	collector.Start()
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, e := range engines {
		go e.Run(ctx)
	}

	httpSrv := httpapi.NewServer(enqueueAPI, maintenance, broker, resources)
	server := &http.Server{
		Addr: addr,
		// WriteTimeout is left at zero: the log-stream SSE endpoint is a
		// long-lived response and a fixed deadline would cut it off.
		Handler:     httpSrv.Router(corsOrigins),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	logger := log.WithComponent("serve-cmd")
	go func() {
		logger.Info().Str("addr", addr).Msg("http adapter listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	for _, e := range engines {
		e.Stop(false)
	}
	for _, e := range engines {
		<-e.Done()
	}
	return nil
}
