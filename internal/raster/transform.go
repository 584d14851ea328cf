package raster

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Resize scales img by ratio. With keepAspect the height is derived from the
// rounded width so the output aspect matches the source as closely as the
// pixel grid allows; otherwise each axis is rounded on its own.
func Resize(img image.Image, ratio float64, keepAspect bool) image.Image {
	if ratio >= 1 || ratio <= 0 {
		return img
	}
	r := img.Bounds()
	w, h := ScaledSize(r.Dx(), r.Dy(), ratio, keepAspect)
	if w == r.Dx() && h == r.Dy() {
		return img
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)
	return dst
}

// ScaledSize returns the target dimensions for a resize by ratio.
func ScaledSize(w, h int, ratio float64, keepAspect bool) (int, int) {
	nw := maxInt(1, int(math.Round(float64(w)*ratio)))
	var nh int
	if keepAspect && w > 0 {
		nh = int(math.Round(float64(nw) * float64(h) / float64(w)))
	} else {
		nh = int(math.Round(float64(h) * ratio))
	}
	return nw, maxInt(1, nh)
}

// sharpenSigma is the gaussian sigma of the unsharp pass.
const sharpenSigma = 0.6

// Sharpen applies an unsharp pass.
func Sharpen(img image.Image) image.Image {
	return imaging.Sharpen(img, sharpenSigma)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
