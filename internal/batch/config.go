package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"scanbatch/internal/compress"
	"scanbatch/internal/raster"
)

const (
	DefaultWorkers          = 4
	DefaultBackoff          = 25 * time.Millisecond
	DefaultReleaseThreshold = 10
)

// Config controls the worker pool and the per-page compression.
type Config struct {
	// Workers is the fixed pool size.
	Workers int
	// MaxConcurrent caps how many pages are processed at once. Defaults to
	// Workers.
	MaxConcurrent int
	// Backoff is the delay before a worker retries after hitting the cap.
	Backoff time.Duration
	// ReleaseThreshold is the live page count above which originals of
	// finished pages are released. Zero releases them as soon as a page
	// finishes; negative disables the release. DefaultConfig sets
	// DefaultReleaseThreshold.
	ReleaseThreshold int
	Settings         compress.Settings
	// Downstream optionally runs after compression.
	Downstream Downstream
	Logger     zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Workers:          DefaultWorkers,
		MaxConcurrent:    DefaultWorkers,
		Backoff:          DefaultBackoff,
		ReleaseThreshold: DefaultReleaseThreshold,
		Settings:         compress.DefaultSettings(),
		Logger:           zerolog.Nop(),
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = c.Workers
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// DownstreamInput is what a downstream stage sees of a compressed page. The
// compressed buffer stays owned by the page and must not be released.
type DownstreamInput struct {
	PageID     string
	Sequence   int
	Analysis   compress.Analysis
	Compressed *raster.Buffer
}

// DownstreamOutput is handed to the page. A nil Processed buffer, or the
// input's Compressed buffer itself, makes the page use a copy of its
// compressed buffer.
type DownstreamOutput struct {
	Processed *raster.Buffer
	Text      string
}

// Downstream is a stage run after compression, such as OCR or enhancement.
type Downstream interface {
	Process(ctx context.Context, in DownstreamInput) (DownstreamOutput, error)
}

// DownstreamFunc adapts a function to Downstream.
type DownstreamFunc func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error)

func (f DownstreamFunc) Process(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
	return f(ctx, in)
}
