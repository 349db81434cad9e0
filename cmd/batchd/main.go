package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewmarion/batchboy/internal/config"
	"github.com/matthewmarion/batchboy/internal/executor"
	"github.com/matthewmarion/batchboy/internal/logging"
	"github.com/matthewmarion/batchboy/internal/metrics"
	"github.com/matthewmarion/batchboy/internal/server"
	"github.com/matthewmarion/batchboy/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LogLevel)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		slog.Error("failed to create work directory", "dir", cfg.WorkDir, "error", err)
		os.Exit(1)
	}

	// Create executor
	fetcher := executor.NewGetterFetcher()
	var exec executor.Executor
	switch cfg.Executor {
	case "docker":
		exec, err = executor.NewDockerExecutor(cfg.DockerImage, fetcher)
		if err != nil {
			slog.Error("failed to create docker executor", "error", err)
			os.Exit(1)
		}
		slog.Info("using docker executor", "image", cfg.DockerImage)
	case "subprocess":
		exec = executor.NewSubprocessExecutor(fetcher)
		slog.Info("using subprocess executor")
	default:
		slog.Error("unknown executor type", "executor", cfg.Executor)
		os.Exit(1)
	}

	// Create state store and register preset pools
	store := state.NewStore()
	for _, pd := range cfg.Pools.Pools {
		pool := &state.Pool{
			ID:          pd.ID,
			VMSize:      pd.VMSize,
			TargetNodes: pd.TargetNodes,
			CreatedAt:   time.Now(),
		}
		if err := store.CreatePool(pool); err != nil {
			slog.Error("failed to register pool", "pool", pd.ID, "error", err)
			os.Exit(1)
		}
		metrics.PoolsCreated.Inc()
		slog.Info("registered pool", "pool", pd.ID, "vm_size", pd.VMSize, "nodes", pd.TargetNodes)
	}

	var metricsSrv *http.Server
	if cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info("starting metrics server", "port", cfg.MetricsPort)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Start gRPC server
	srv := server.New(store, exec, server.Options{
		WorkDir:     cfg.WorkDir,
		AccountName: cfg.AccountName,
		AccountKey:  cfg.AccountKey,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		if metricsSrv != nil {
			metricsSrv.Close()
		}
		srv.Stop()
	}()

	if err := srv.Start(cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
