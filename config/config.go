// Package config loads service and trainer settings from an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	ModelFileName    = "best_model.json"
	EncodersFileName = "encoders.json"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Training  TrainingConfig  `yaml:"training"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	Timeout        time.Duration `yaml:"timeout" env:"ASD_HTTP_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"ASD_HTTP_MAX_BODY_BYTES"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ASD_HTTP_ALLOWED_ORIGINS" envSeparator:","`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir" env:"ASD_ARTIFACT_DIR"`
}

// ModelPath is the fixed-name model artifact inside Dir.
func (a ArtifactsConfig) ModelPath() string {
	return filepath.Join(a.Dir, ModelFileName)
}

// EncodersPath is the fixed-name encoders artifact inside Dir.
func (a ArtifactsConfig) EncodersPath() string {
	return filepath.Join(a.Dir, EncodersFileName)
}

type LogConfig struct {
	Level      string `yaml:"level" env:"ASD_LOG_LEVEL"`
	Format     string `yaml:"format" env:"ASD_LOG_FORMAT"`
	File       string `yaml:"file" env:"ASD_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type CacheConfig struct {
	Size int `yaml:"size" env:"ASD_CACHE_SIZE"`
}

type AuditConfig struct {
	// DBPath enables the sqlite prediction audit when set. The trainer always
	// writes its run history to TrainingDBPath.
	DBPath         string `yaml:"db_path" env:"ASD_AUDIT_DB"`
	TrainingDBPath string `yaml:"training_db_path" env:"ASD_TRAINING_DB"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ASD_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"ASD_OTEL_SERVICE_NAME"`
}

type TrainingConfig struct {
	DataPath        string  `yaml:"data_path" env:"ASD_TRAIN_DATA"`
	Seed            int64   `yaml:"seed"`
	TestRatio       float64 `yaml:"test_ratio"`
	Folds           int     `yaml:"folds"`
	SMOTENeighbours int     `yaml:"smote_neighbours"`
	ForestTrees     int     `yaml:"forest_trees"`
	BoostRounds     int     `yaml:"boost_rounds"`
	BoostDepth      int     `yaml:"boost_depth"`
	BoostRate       float64 `yaml:"boost_learning_rate"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           5000,
			Timeout:        30 * time.Second,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Artifacts: ArtifactsConfig{Dir: "."},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{TrainingDBPath: "training.db"},
		Tracing: TracingConfig{
			ServiceName: "asd-screening",
		},
		Training: TrainingConfig{
			DataPath:        "train.csv",
			Seed:            42,
			TestRatio:       0.2,
			Folds:           5,
			SMOTENeighbours: 5,
			ForestTrees:     100,
			BoostRounds:     100,
			BoostDepth:      6,
			BoostRate:       0.3,
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies .env and
// environment overrides. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.Artifacts.Dir == "" {
		return errors.New("artifacts dir is required")
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", c.Cache.Size)
	}
	t := c.Training
	if t.TestRatio <= 0 || t.TestRatio >= 1 {
		return fmt.Errorf("training test_ratio must be in (0, 1), got %v", t.TestRatio)
	}
	if t.Folds < 2 {
		return fmt.Errorf("training folds must be at least 2, got %d", t.Folds)
	}
	return nil
}
