package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

const (
	MinQuality = 1
	MaxQuality = 100
)

// Encode renders img in the given format. quality only applies to JPEG.
// PNG output keeps img as its decoded form since the encoding is lossless.
func Encode(img image.Image, format Format, quality int) (*Buffer, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return FromEncoded(buf.Bytes(), FormatJPEG, nil), nil
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return FromEncoded(buf.Bytes(), FormatPNG, img), nil
	default:
		return nil, fmt.Errorf("encode %s: %w", format, ErrUnsupported)
	}
}

func clampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}
