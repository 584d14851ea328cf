package compress

import (
	"image"
	"math"

	"scanbatch/internal/raster"
)

// textBlurWeight scales sample distances on pages that carry text.
const textBlurWeight = 1.5

// QualityScore compares original and final on the original's sampling grid,
// mapping each sample into final's coordinates. 1 means no visible change.
func QualityScore(original, final image.Image, hasText bool) float64 {
	ob, fb := original.Bounds(), final.Bounds()
	if ob.Empty() || fb.Empty() {
		return 0
	}

	stride := raster.SampleStride(ob)
	var total float64
	var n int
	for y := ob.Min.Y; y < ob.Max.Y; y += stride {
		fy := fb.Min.Y + (y-ob.Min.Y)*fb.Dy()/ob.Dy()
		for x := ob.Min.X; x < ob.Max.X; x += stride {
			fx := fb.Min.X + (x-ob.Min.X)*fb.Dx()/ob.Dx()

			r1, g1, b1 := raster.RGB8(original, x, y)
			r2, g2, b2 := raster.RGB8(final, fx, fy)
			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			d := math.Sqrt(dr*dr + dg*dg + db*db)
			if hasText {
				d *= textBlurWeight
			}
			total += d
			n++
		}
	}

	score := 1 - (total/float64(n))/255
	return math.Max(0, math.Min(1, score))
}
