package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"asdscreen/config"
	"asdscreen/db"
	asdhttp "asdscreen/http"
	"asdscreen/inference"
	"asdscreen/logging"
	"asdscreen/monitoring"
	"asdscreen/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)
	defer logger.Sync()

	// 2. Tracing (no-op without an endpoint)
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	// 3. Load artifacts; the service cannot run without them
	opts := []inference.Option{
		inference.WithLogger(logger),
		inference.WithMetrics(monitoring.NewMetrics()),
		inference.WithCache(cfg.Cache.Size),
	}
	if cfg.Audit.DBPath != "" {
		store, err := db.Open(cfg.Audit.DBPath)
		if err != nil {
			logger.Fatal("failed to open audit database", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, inference.WithAudit(store))
	}
	svc, err := inference.Load(cfg.Artifacts, opts...)
	if err != nil {
		logger.Fatal("failed to load artifacts",
			zap.String("dir", cfg.Artifacts.Dir),
			zap.Error(err),
		)
	}
	logger.Info("model loaded",
		zap.String("model", svc.ModelName()),
		zap.String("kind", svc.ModelKind()),
		zap.String("feature_order_version", svc.FeatureOrderVersion()),
		zap.Int("cache_size", cfg.Cache.Size),
	)

	// 4. Start HTTP server
	server := asdhttp.NewServer(cfg.HTTP, svc, logger)
	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	// 5. Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			exitCode = 1
		}
	}

	if err := server.Stop(context.Background()); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
