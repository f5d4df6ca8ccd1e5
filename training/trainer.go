// Package training runs the offline pipeline that produces the model and
// encoders artifacts served by the inference service.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"asdscreen/config"
	"asdscreen/db"
	"asdscreen/ml"
	"asdscreen/pipeline"
)

type Options struct {
	DataPath        string
	OutputDir       string
	Seed            int64
	TestRatio       float64
	Folds           int
	SMOTENeighbours int
	Forest          ml.ForestOptions
	Boosting        ml.BoostingOptions
}

// OptionsFromConfig maps the training and artifact sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Training
	return Options{
		DataPath:        t.DataPath,
		OutputDir:       cfg.Artifacts.Dir,
		Seed:            t.Seed,
		TestRatio:       t.TestRatio,
		Folds:           t.Folds,
		SMOTENeighbours: t.SMOTENeighbours,
		Forest:          ml.ForestOptions{NumTrees: t.ForestTrees},
		Boosting: ml.BoostingOptions{
			NumRounds:    t.BoostRounds,
			MaxDepth:     t.BoostDepth,
			LearningRate: t.BoostRate,
		},
	}
}

func (o Options) validate() error {
	if o.DataPath == "" {
		return errors.New("data path is required")
	}
	if o.OutputDir == "" {
		return errors.New("output dir is required")
	}
	if o.TestRatio <= 0 || o.TestRatio >= 1 {
		return fmt.Errorf("test ratio must be in (0, 1), got %v", o.TestRatio)
	}
	if o.Folds < 2 {
		return fmt.Errorf("folds must be at least 2, got %d", o.Folds)
	}
	return nil
}

func (o Options) ModelPath() string {
	return filepath.Join(o.OutputDir, config.ModelFileName)
}

func (o Options) EncodersPath() string {
	return filepath.Join(o.OutputDir, config.EncodersFileName)
}

// Result summarises one training run.
type Result struct {
	ModelName      string
	ModelKind      string
	Scores         []ml.CandidateScore
	CVMean         float64
	Test           ml.Metrics
	DataPoints     int
	TrainRows      int
	Cleaning       pipeline.CleaningStats
	EncodersDigest string
}

// Run loads the dataset, selects the best candidate by stratified
// cross-validation on the oversampled training split, refits it and writes
// both artifacts. store may be nil, in which case no run history is kept.
func Run(ctx context.Context, opts Options, store *db.Store, logger *zap.Logger) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()

	rows, err := pipeline.ReadDatasetFile(opts.DataPath)
	if err != nil {
		return nil, err
	}
	cleaning := pipeline.CanonicalizeRows(rows)
	for _, field := range cleaning.Fields() {
		logger.Info("canonicalized values",
			zap.String("field", field),
			zap.Int("rows", cleaning.Corrected[field]),
		)
	}

	encoders, err := pipeline.FitEncoders(rows)
	if err != nil {
		return nil, fmt.Errorf("fit encoders: %w", err)
	}
	features, labels, err := pipeline.EncodeRows(rows, encoders)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	logger.Info("dataset loaded",
		zap.String("path", opts.DataPath),
		zap.Int("rows", len(rows)),
		zap.Int("features", len(pipeline.FeatureOrder)),
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainX, trainY, testX, testY := ml.TrainTestSplit(features, labels, opts.TestRatio, opts.Seed)
	sampledX, sampledY, err := ml.SMOTE(trainX, trainY, opts.SMOTENeighbours, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("oversample: %w", err)
	}
	logger.Info("training split ready",
		zap.Int("train", len(trainX)),
		zap.Int("test", len(testX)),
		zap.Int("oversampled", len(sampledX)),
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := ml.DefaultCandidates(ml.CandidateOptions{
		Seed:     opts.Seed,
		Forest:   opts.Forest,
		Boosting: opts.Boosting,
	})
	selection, err := ml.SelectBest(candidates, sampledX, sampledY, opts.Folds)
	if err != nil {
		return nil, err
	}
	for _, score := range selection.Scores {
		logger.Info("cross-validation",
			zap.String("model", score.Name),
			zap.Float64("mean_accuracy", score.Mean),
			zap.Float64s("folds", score.Folds),
		)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := selection.Best.New()
	if err := model.Train(sampledX, sampledY); err != nil {
		return nil, fmt.Errorf("train %s: %w", selection.Best.Name, err)
	}
	metrics, err := ml.Evaluate(model, testX, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", selection.Best.Name, err)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	digest, err := encoders.Digest()
	if err != nil {
		return nil, err
	}
	// encoders first: a model is only ever paired with the encoders it names
	if err := encoders.Save(opts.EncodersPath()); err != nil {
		return nil, err
	}
	err = ml.SaveModel(opts.ModelPath(), ml.Artifact{
		Name:                selection.Best.Name,
		FeatureOrderVersion: pipeline.FeatureOrderVersion,
		Features:            pipeline.FeatureNames(),
		EncodersDigest:      digest,
		Seed:                opts.Seed,
		CVScores:            selection.Scores,
	}, model)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ModelName:      selection.Best.Name,
		ModelKind:      model.Kind(),
		Scores:         selection.Scores,
		CVMean:         selection.BestScore().Mean,
		Test:           metrics,
		DataPoints:     len(rows),
		TrainRows:      len(sampledX),
		Cleaning:       cleaning,
		EncodersDigest: digest,
	}

	if store != nil {
		err := store.SaveTrainingLog(ctx, db.TrainingLog{
			ModelName:      result.ModelName,
			ModelKind:      result.ModelKind,
			CVMean:         result.CVMean,
			Accuracy:       metrics.Accuracy,
			Precision:      metrics.Precision,
			Recall:         metrics.Recall,
			DataPoints:     result.DataPoints,
			Seed:           opts.Seed,
			EncodersDigest: digest,
		})
		if err != nil {
			return nil, fmt.Errorf("record training run: %w", err)
		}
	}

	logger.Info("model saved",
		zap.String("model", result.ModelName),
		zap.String("path", opts.ModelPath()),
		zap.String("encoders", opts.EncodersPath()),
		zap.Float64("cv_accuracy", result.CVMean),
		zap.Float64("test_accuracy", metrics.Accuracy),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}
