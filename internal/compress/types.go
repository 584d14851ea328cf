// Package compress classifies page content and compresses page buffers
// toward a byte budget with parameters chosen per content class.
package compress

import (
	"fmt"

	"scanbatch/internal/raster"
)

// ContentType is the dominant visual content of a page.
type ContentType int

const (
	ContentMixed ContentType = iota
	ContentTextHeavy
	ContentPhotoHeavy
	ContentDocument
)

func (c ContentType) String() string {
	switch c {
	case ContentTextHeavy:
		return "text"
	case ContentPhotoHeavy:
		return "photo"
	case ContentDocument:
		return "document"
	default:
		return "mixed"
	}
}

// Analysis is the sampled classification of one buffer. The three ratios sum
// to one over the sampled grid.
type Analysis struct {
	ContentType     ContentType
	TextRatio       float64
	ImageRatio      float64
	BackgroundRatio float64
	Complexity      float64
	Samples         int
}

// textPresenceRatio is the share of text samples above which a page is
// treated as carrying text even when text is not its dominant content.
const textPresenceRatio = 0.15

// HasText reports whether blur on this page should be penalised as text loss.
func (a Analysis) HasText() bool {
	return a.ContentType == ContentTextHeavy || a.TextRatio >= textPresenceRatio
}

func (a Analysis) String() string {
	return fmt.Sprintf("%s (text %.2f, image %.2f, background %.2f, complexity %.3f)",
		a.ContentType, a.TextRatio, a.ImageRatio, a.BackgroundRatio, a.Complexity)
}

// TargetFormat selects the pixel encoding of compressed output.
type TargetFormat int

const (
	PixelLossy TargetFormat = iota
	PixelLossless
)

func (f TargetFormat) String() string {
	if f == PixelLossless {
		return "lossless"
	}
	return "lossy"
}

// Format maps the target to the concrete raster encoding.
func (f TargetFormat) Format() raster.Format {
	if f == PixelLossless {
		return raster.FormatPNG
	}
	return raster.FormatJPEG
}

// Strategy holds the compression parameters derived for one page.
type Strategy struct {
	ResizeRatio       float64
	EncodeQuality     int
	PreserveSharpness bool
	TargetFormat      TargetFormat
}

func (s Strategy) String() string {
	return fmt.Sprintf("resize %.2f, quality %d, sharpen %t, %s",
		s.ResizeRatio, s.EncodeQuality, s.PreserveSharpness, s.TargetFormat)
}

// Settings is supplied by the caller for a whole batch.
type Settings struct {
	TargetSizeKB        int  `yaml:"target_size_kb"`
	AggressiveMode      bool `yaml:"aggressive"`
	PreserveTextQuality bool `yaml:"preserve_text_quality"`
	MaintainAspectRatio bool `yaml:"maintain_aspect_ratio"`
	MaxIterations       int  `yaml:"max_iterations"`
	MinQuality          int  `yaml:"min_quality"`
}

const (
	DefaultTargetSizeKB  = 500
	DefaultMaxIterations = 5
	DefaultMinQuality    = 60
	textMinQuality       = 80
)

func DefaultSettings() Settings {
	return Settings{
		TargetSizeKB:        DefaultTargetSizeKB,
		PreserveTextQuality: true,
		MaintainAspectRatio: true,
		MaxIterations:       DefaultMaxIterations,
		MinQuality:          DefaultMinQuality,
	}
}

// TargetBytes is the byte budget a compressed page should fit in.
func (s Settings) TargetBytes() int {
	return s.TargetSizeKB * 1024
}

func (s Settings) withDefaults() Settings {
	if s.TargetSizeKB <= 0 {
		s.TargetSizeKB = DefaultTargetSizeKB
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.MinQuality <= 0 {
		s.MinQuality = DefaultMinQuality
	}
	return s
}

// qualityFloor is the lowest encode quality the decay loop may reach. It
// never lies above the strategy's starting quality.
func (s Settings) qualityFloor(a Analysis, start int) int {
	floor := s.MinQuality
	if s.PreserveTextQuality && a.HasText() && floor < textMinQuality {
		floor = textMinQuality
	}
	if floor > start {
		floor = start
	}
	return floor
}

// Result describes one compression run.
type Result struct {
	Buffer         *raster.Buffer
	Strategy       Strategy
	QualityScore   float64
	OriginalSize   int
	CompressedSize int
	Iterations     int
	// Adjusted is set when the first pass missed the target and the
	// parameters were decayed.
	Adjusted bool
	// Passthrough is set when the source already met the target and was
	// returned without a resize or encode pass.
	Passthrough bool
	// EncodeErr holds the last encoder failure when a fallback was used.
	EncodeErr error
}

// Ratio is compressed size over original size.
func (r Result) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}
