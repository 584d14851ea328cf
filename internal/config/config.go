// Package config loads scanbatch settings from a YAML file, a .env file and
// SCANBATCH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"scanbatch/internal/batch"
	"scanbatch/internal/compress"
	"scanbatch/internal/logging"
)

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "scanbatch.yaml"

const envPrefix = "SCANBATCH_"

type Config struct {
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Compression compress.Settings `yaml:"compression"`
	Log         logging.Config    `yaml:"log"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers          int           `yaml:"workers"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	Backoff          time.Duration `yaml:"backoff"`
	ReleaseThreshold int           `yaml:"release_threshold"`
}

func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Workers:          batch.DefaultWorkers,
			MaxConcurrent:    batch.DefaultWorkers,
			Backoff:          batch.DefaultBackoff,
			ReleaseThreshold: batch.DefaultReleaseThreshold,
		},
		Compression: compress.DefaultSettings(),
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (or DefaultFile when path is empty and present), then the
// .env file, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	ints := map[string]*int{
		"WORKERS":           &cfg.Pipeline.Workers,
		"MAX_CONCURRENT":    &cfg.Pipeline.MaxConcurrent,
		"RELEASE_THRESHOLD": &cfg.Pipeline.ReleaseThreshold,
		"TARGET_SIZE_KB":    &cfg.Compression.TargetSizeKB,
		"MAX_ITERATIONS":    &cfg.Compression.MaxIterations,
		"MIN_QUALITY":       &cfg.Compression.MinQuality,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"AGGRESSIVE":            &cfg.Compression.AggressiveMode,
		"PRESERVE_TEXT_QUALITY": &cfg.Compression.PreserveTextQuality,
		"MAINTAIN_ASPECT_RATIO": &cfg.Compression.MaintainAspectRatio,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("BACKOFF"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBACKOFF: %w", envPrefix, err)
		}
		cfg.Pipeline.Backoff = d
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be positive, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.Backoff < 0 {
		return fmt.Errorf("pipeline.backoff must not be negative")
	}
	if c.Compression.TargetSizeKB <= 0 {
		return fmt.Errorf("compression.target_size_kb must be positive, got %d", c.Compression.TargetSizeKB)
	}
	if c.Compression.MaxIterations <= 0 {
		return fmt.Errorf("compression.max_iterations must be positive, got %d", c.Compression.MaxIterations)
	}
	if q := c.Compression.MinQuality; q < 1 || q > 100 {
		return fmt.Errorf("compression.min_quality must be within 1..100, got %d", q)
	}
	return nil
}

// Batch builds the pipeline configuration.
func (c *Config) Batch(logger zerolog.Logger) batch.Config {
	return batch.Config{
		Workers:          c.Pipeline.Workers,
		MaxConcurrent:    c.Pipeline.MaxConcurrent,
		Backoff:          c.Pipeline.Backoff,
		ReleaseThreshold: c.Pipeline.ReleaseThreshold,
		Settings:         c.Compression,
		Logger:           logger,
	}
}
