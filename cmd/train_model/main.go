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
	"asdscreen/logging"
	"asdscreen/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	dataPath := flag.String("data", "", "training CSV (overrides config)")
	outputDir := flag.String("output_dir", "", "artifact output directory (overrides config)")
	seed := flag.Int64("seed", -1, "random seed (overrides config)")
	testRatio := flag.Float64("test_ratio", 0, "held-out test ratio (overrides config)")
	folds := flag.Int("folds", 0, "cross-validation folds (overrides config)")
	dbPath := flag.String("db", "", "training history database (overrides config)")
	watch := flag.Bool("watch", false, "retrain whenever the dataset changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)
	defer logger.Sync()

	opts := training.OptionsFromConfig(cfg)
	if *dataPath != "" {
		opts.DataPath = *dataPath
	}
	if *outputDir != "" {
		opts.OutputDir = *outputDir
	}
	if *seed >= 0 {
		opts.Seed = *seed
	}
	if *testRatio > 0 {
		opts.TestRatio = *testRatio
	}
	if *folds > 0 {
		opts.Folds = *folds
	}
	historyPath := cfg.Audit.TrainingDBPath
	if *dbPath != "" {
		historyPath = *dbPath
	}

	var store *db.Store
	if historyPath != "" {
		store, err = db.Open(historyPath)
		if err != nil {
			logger.Fatal("failed to open training history", zap.Error(err))
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := training.Run(ctx, opts, store, logger); err != nil {
		if !*watch {
			logger.Fatal("training failed", zap.Error(err))
		}
		logger.Error("training failed", zap.Error(err))
	}
	if !*watch {
		return
	}

	retrain := func(ctx context.Context) {
		logger.Info("dataset changed, retraining")
		if _, err := training.Run(ctx, opts, store, logger); err != nil {
			logger.Error("training failed", zap.Error(err))
		}
	}
	if err := training.WatchFile(ctx, opts.DataPath, training.DefaultSettle, logger, retrain); err != nil {
		logger.Fatal("watch failed", zap.Error(err))
	}
}
