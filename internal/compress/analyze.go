package compress

import (
	"errors"
	"fmt"
	"image"
	"math"

	"scanbatch/internal/raster"
)

const (
	backgroundBrightness = 0.9
	backgroundSaturation = 0.1
	textBrightness       = 0.3
	textSaturation       = 0.2

	textHeavyRatio  = 0.6
	photoHeavyRatio = 0.5
	documentRatio   = 0.7
)

// Analyze samples buf and classifies its dominant content.
func Analyze(buf *raster.Buffer) (Analysis, error) {
	if buf == nil || buf.Empty() {
		return Analysis{}, ErrEmptyBuffer
	}
	img, err := buf.Image()
	if err != nil {
		if errors.Is(err, raster.ErrReleased) || errors.Is(err, raster.ErrEmpty) {
			return Analysis{}, fmt.Errorf("%w: %v", ErrEmptyBuffer, err)
		}
		return Analysis{}, err
	}
	return AnalyzeImage(img)
}

// AnalyzeImage classifies decoded pixels on a grid whose step is a twentieth
// of the shorter side.
func AnalyzeImage(img image.Image) (Analysis, error) {
	if img == nil || img.Bounds().Empty() {
		return Analysis{}, ErrEmptyBuffer
	}

	r := img.Bounds()
	stride := raster.SampleStride(r)

	var text, photo, background int
	var sum, sumSq float64
	for y := r.Min.Y; y < r.Max.Y; y += stride {
		for x := r.Min.X; x < r.Max.X; x += stride {
			cr, cg, cb := raster.RGB8(img, x, y)
			brightness := luma(cr, cg, cb)
			saturation := saturation(cr, cg, cb)

			switch {
			case brightness > backgroundBrightness && saturation < backgroundSaturation:
				background++
			case brightness < textBrightness && saturation < textSaturation:
				text++
			default:
				photo++
			}
			sum += brightness
			sumSq += brightness * brightness
		}
	}

	n := text + photo + background
	total := float64(n)
	mean := sum / total
	variance := sumSq/total - mean*mean
	if variance < 0 {
		variance = 0
	}

	a := Analysis{
		TextRatio:       float64(text) / total,
		ImageRatio:      float64(photo) / total,
		BackgroundRatio: float64(background) / total,
		Complexity:      math.Sqrt(variance),
		Samples:         n,
	}
	a.ContentType = classify(a)
	return a, nil
}

func classify(a Analysis) ContentType {
	switch {
	case a.TextRatio > textHeavyRatio:
		return ContentTextHeavy
	case a.ImageRatio > photoHeavyRatio:
		return ContentPhotoHeavy
	case a.BackgroundRatio > documentRatio:
		return ContentDocument
	default:
		return ContentMixed
	}
}

func luma(r, g, b uint8) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
}

func saturation(r, g, b uint8) float64 {
	mx := max(r, g, b)
	if mx == 0 {
		return 0
	}
	mn := min(r, g, b)
	return float64(mx-mn) / float64(mx)
}
