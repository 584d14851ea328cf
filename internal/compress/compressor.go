package compress

import (
	"context"
	"errors"
	"fmt"
	"math"

	"scanbatch/internal/raster"
)

const (
	qualityDecay = 0.95
	resizeDecay  = 0.95
)

// Compress iteratively resizes and encodes src until the encoded size fits
// settings.TargetBytes or the iteration limit is reached. Missing the target
// is not an error: the last produced buffer is returned. The returned buffer
// is owned by the caller and never aliases src.
func Compress(ctx context.Context, src *raster.Buffer, analysis Analysis, strategy Strategy, settings Settings) (Result, error) {
	if src == nil || src.Empty() {
		return Result{}, ErrEmptyBuffer
	}
	settings = settings.withDefaults()

	orig, err := src.Image()
	if err != nil {
		if errors.Is(err, raster.ErrReleased) {
			return Result{}, fmt.Errorf("%w: %v", ErrEmptyBuffer, err)
		}
		return Result{}, err
	}

	res := Result{Strategy: strategy, OriginalSize: src.Size()}
	target := settings.TargetBytes()
	if res.OriginalSize <= target {
		return passthrough(src, res)
	}

	ratio := strategy.ResizeRatio
	quality := strategy.EncodeQuality
	floor := settings.qualityFloor(analysis, quality)
	format := strategy.TargetFormat.Format()

	var last *raster.Buffer
	for i := 1; i <= settings.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			last.Release()
			return Result{}, err
		}
		res.Iterations = i

		img := orig
		if ratio < 1 {
			img = raster.Resize(orig, ratio, settings.MaintainAspectRatio)
		}
		if strategy.PreserveSharpness {
			img = raster.Sharpen(img)
		}

		encoded, err := raster.Encode(img, format, quality)
		if err != nil {
			res.EncodeErr = &EncodingError{Format: format, Quality: quality, Iteration: i, Err: err}
		} else {
			last.Release()
			last = encoded
			if encoded.Size() <= target {
				break
			}
		}

		if i < settings.MaxIterations {
			res.Adjusted = true
			quality = int(math.Max(float64(floor), math.Round(float64(quality)*qualityDecay)))
			ratio *= resizeDecay
		}
	}

	if last == nil {
		// every pass failed to encode
		return passthrough(src, res)
	}
	if src.Bytes() != nil && last.Size() >= res.OriginalSize {
		last.Release()
		return passthrough(src, res)
	}

	final, err := last.Image()
	if err != nil {
		last.Release()
		res.EncodeErr = &EncodingError{Format: format, Quality: quality, Iteration: res.Iterations, Err: err}
		return passthrough(src, res)
	}

	res.Buffer = last
	res.CompressedSize = last.Size()
	res.QualityScore = QualityScore(orig, final, analysis.HasText())
	return res, nil
}

// passthrough hands back a copy of src with a perfect score.
func passthrough(src *raster.Buffer, res Result) (Result, error) {
	out, err := src.Clone()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEmptyBuffer, err)
	}
	res.Buffer = out
	res.Passthrough = true
	res.QualityScore = 1
	res.CompressedSize = out.Size()
	return res, nil
}

// Run analyzes buf, selects a strategy and compresses it.
func Run(ctx context.Context, buf *raster.Buffer, settings Settings) (Analysis, Result, error) {
	analysis, err := Analyze(buf)
	if err != nil {
		return Analysis{}, Result{}, err
	}
	strategy := SelectStrategy(analysis, settings)
	res, err := Compress(ctx, buf, analysis, strategy, settings)
	return analysis, res, err
}
