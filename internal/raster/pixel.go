package raster

import "image"

// RGB8 returns the 8-bit colour channels of the pixel at (x, y).
func RGB8(img image.Image, x, y int) (r, g, b uint8) {
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
}

// SampleStride is the grid step used when sampling an image of the given
// size: a twentieth of the shorter side, never below one pixel.
func SampleStride(r image.Rectangle) int {
	side := r.Dx()
	if r.Dy() < side {
		side = r.Dy()
	}
	stride := side / 20
	if stride < 1 {
		stride = 1
	}
	return stride
}
