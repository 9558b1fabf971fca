package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jobledger/config"
	"jobledger/core"
	"jobledger/observability"
	"jobledger/observability/logging"
	telemetry "jobledger/observability/otel"
	"jobledger/services/indexer"
	"jobledger/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("marketd: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.SetupWithOptions("marketd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return err
	}
	defer db.Close()

	params, err := cfg.ReputationParams()
	if err != nil {
		return err
	}
	allocations, err := cfg.ParseAllocations()
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, core.Options{
		Logger:           logger,
		ReputationParams: &params,
		PausedModules:    cfg.PausedModules,
		Allocations:      allocations,
	})
	if err != nil {
		return err
	}
	node.Subscribe(observability.Events())

	var ix *indexer.Indexer
	if cfg.IndexerPath != "" {
		if ix, err = indexer.Open(cfg.IndexerPath, logger); err != nil {
			return err
		}
		defer ix.Close()
		node.Subscribe(ix)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           newRouter(node, ix),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		status := node.Status()
		logger.Info("marketd started", "addr", cfg.MetricsAddress, "sequence", status.Sequence, "root", status.Root.Hex())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("marketd shutting down")
	return srv.Shutdown(shutdownCtx)
}
