package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loomfs/loomfs/internal/logger"
	"github.com/loomfs/loomfs/pkg/config"
	"github.com/loomfs/loomfs/pkg/metaserver/dentry"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/badgerstore"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/memstore"
	"github.com/loomfs/loomfs/pkg/metrics"
	prommetrics "github.com/loomfs/loomfs/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LoomFS metadata server",
	Long: `Start the LoomFS metadata server with the specified configuration.

The server opens the configured key-value store, initializes the dentry
storage engine for every configured partition, and serves Prometheus
metrics when enabled.

Examples:
  # Start with default config location
  loomfs start

  # Start with custom config file
  loomfs start --config /etc/loomfs/config.yaml

  # Start with environment variable overrides
  LOOMFS_LOGGING_LEVEL=DEBUG loomfs start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger.Info("LoomFS metadata server starting",
		"version", Version, "run_id", runID,
		"log_level", cfg.Logging.Level, "log_format", cfg.Logging.Format)

	metricsServer := startMetricsServer(cfg)

	store, err := openStore(&cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if err := initPartitions(store, cfg.Storage.Partitions); err != nil {
		return err
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)

	logger.Info("Shutdown signal received, initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// startMetricsServer initializes the metrics registry and serves /metrics
// when metrics are enabled. Returns nil when disabled.
func startMetricsServer(cfg *config.Config) *http.Server {
	if !cfg.Metrics.Enabled {
		logger.Info("Metrics collection disabled")
		return nil
	}

	metrics.InitRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    cfg.Metrics.ListenAddress,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("Metrics enabled", "listen_address", cfg.Metrics.ListenAddress)
	return server
}

// openStore opens the configured key-value store backend.
func openStore(cfg *config.StorageConfig) (kvstore.Store, error) {
	var store kvstore.Store

	switch cfg.Backend {
	case "badger":
		store = badgerstore.New(badgerstore.Config{
			Dir:              cfg.Dir,
			BlockCacheSizeMB: cfg.BlockCacheSizeMB,
			IndexCacheSizeMB: cfg.IndexCacheSizeMB,
		})
	case "memory":
		logger.Warn("Using in-memory storage backend, metadata will not survive restarts")
		store = memstore.New()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	logger.Info("Storage backend opened", "backend", cfg.Backend, "dir", cfg.Dir)
	return store, nil
}

// initPartitions brings up the dentry storage engine for every configured
// partition and surfaces transactions left in flight by a previous run.
func initPartitions(store kvstore.Store, partitions []uint32) error {
	for _, partitionID := range partitions {
		tables := kvstore.NewNameGenerator(partitionID)
		engine := dentry.New(store, tables, prommetrics.NewDentryMetrics(partitionID))

		if err := engine.Init(); err != nil {
			return fmt.Errorf("failed to initialize partition %d: %w", partitionID, err)
		}

		pending, st, err := engine.PendingTx()
		if err != nil {
			return fmt.Errorf("failed to read pending tx for partition %d: %w", partitionID, err)
		}
		if st == dentry.StatusOK {
			logger.Warn("Partition has an in-flight transaction awaiting resolution",
				"partition", partitionID, "tx_type", pending.Type)
		}

		logger.Info("Partition ready", "partition", partitionID, "rows", engine.Size())
	}

	return nil
}
