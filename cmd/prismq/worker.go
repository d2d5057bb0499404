package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomoos/prismq/pkg/config"
	"github.com/nomoos/prismq/pkg/log"
	"github.com/nomoos/prismq/pkg/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone worker pool with no HTTP adapter",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().String("config", "", "Path to a worker config file (JSON/YAML/TOML)")
	workerCmd.Flags().Int("pool-size", 1, "Number of concurrent WorkerEngines to run")
}

// buildEngines builds poolSize WorkerEngines from cfg, sharing one store
// and one handler registry, each with its own worker ID. The callers
// start them.
func buildEngines(store *queue.SQLiteStore, cfg config.WorkerConfig, registry *queue.HandlerRegistry, broker *queue.LogBroker, poolSize int) ([]*queue.WorkerEngine, *queue.HeartbeatMonitor, error) {
	strategy, err := queue.ParseStrategy(cfg.SchedulingStrategy)
	if err != nil {
		return nil, nil, err
	}
	claimer, err := queue.NewClaimer(store, strategy)
	if err != nil {
		return nil, nil, err
	}

	executor := queue.NewExecutor(store, queue.DefaultBackoffPolicy())
	beat := queue.NewHeartbeatMonitor(store, time.Duration(cfg.LeaseDurationSeconds)*2*time.Second)

	engines := make([]*queue.WorkerEngine, poolSize)
	for i := 0; i < poolSize; i++ {
		workerID := cfg.WorkerID
		if poolSize > 1 {
			workerID = fmt.Sprintf("%s-%d", cfg.WorkerID, i)
		}
		engineCfg := queue.EngineConfig{
			WorkerID:       workerID,
			Capabilities:   cfg.Capabilities,
			LeaseSeconds:   cfg.LeaseDurationSeconds,
			PollInterval:   time.Duration(cfg.PollIntervalSeconds) * time.Second,
			HeartbeatEvery: time.Duration(cfg.LeaseDurationSeconds) * time.Second / 2,
		}
		engines[i] = queue.NewEngine(engineCfg, store, claimer, registry, executor, beat, broker)
	}
	return engines, beat, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	poolSize, _ := cmd.Flags().GetInt("pool-size")

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, e := range engines {
		go e.Run(ctx)
	}

	staleLoop := time.NewTicker(time.Duration(cfg.LeaseDurationSeconds) * time.Second)
	defer staleLoop.Stop()
	go func() {
		for {
			select {
			case <-staleLoop.C:
				if _, err := beat.ReclaimStaleTasks(ctx); err != nil {
					log.WithComponent("worker-cmd").Error().Err(err).Msg("reclaim stale tasks failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.WithComponent("worker-cmd").Info().Msg("shutting down worker pool")
	for _, e := range engines {
		e.Stop(false)
	}
	for _, e := range engines {
		<-e.Done()
	}
	return nil
}
