package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	return img
}

func TestDecodeKeepsBytes(t *testing.T) {
	var enc bytes.Buffer
	require.NoError(t, png.Encode(&enc, gradient(30, 20)))

	buf, err := Decode(enc.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, buf.Format())
	assert.Equal(t, enc.Len(), buf.Size())
	assert.Equal(t, image.Rect(0, 0, 30, 20), buf.Bounds())
	assert.False(t, buf.Empty())
}

func TestDecodeRejectsUnknown(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Decode([]byte("GIF89a--------"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRawSizeAccounting(t *testing.T) {
	buf := FromImage(gradient(10, 5))
	assert.Equal(t, 10*5*4, buf.Size())
	assert.Nil(t, buf.Bytes())

	assert.True(t, FromImage(image.NewNRGBA(image.Rectangle{})).Empty())
}

func TestReleaseClearsEverything(t *testing.T) {
	buf := FromImage(gradient(4, 4))
	buf.Release()
	buf.Release()

	assert.True(t, buf.Released())
	assert.True(t, buf.Empty())
	assert.Zero(t, buf.Size())
	_, err := buf.Image()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = buf.Clone()
	assert.ErrorIs(t, err, ErrReleased)

	var nilBuf *Buffer
	nilBuf.Release()
	assert.True(t, nilBuf.Released())
}

func TestCloneIsIndependent(t *testing.T) {
	src := FromImage(gradient(6, 6))
	clone, err := src.Clone()
	require.NoError(t, err)

	src.Release()
	img, err := clone.Image()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 6), img.Bounds())

	enc, err := Encode(img, FormatJPEG, 80)
	require.NoError(t, err)
	encClone, err := enc.Clone()
	require.NoError(t, err)
	assert.Equal(t, enc.Bytes(), encClone.Bytes())
	assert.NotSame(t, &enc.Bytes()[0], &encClone.Bytes()[0])
}

func TestEncodeFormats(t *testing.T) {
	img := gradient(40, 30)

	j, err := Encode(img, FormatJPEG, 500)
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, j.Format())
	decoded, err := j.Image()
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	p, err := Encode(img, FormatPNG, 0)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, p.Format())

	_, err = Encode(img, FormatTIFF, 90)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = Encode(nil, FormatPNG, 90)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestScaledSize(t *testing.T) {
	w, h := ScaledSize(1000, 1414, 0.85, true)
	assert.Equal(t, 850, w)
	assert.Equal(t, 1202, h)

	w, h = ScaledSize(3, 3, 0.1, false)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestResize(t *testing.T) {
	img := gradient(100, 50)
	out := Resize(img, 0.5, true)
	assert.Equal(t, image.Rect(0, 0, 50, 25), out.Bounds())

	assert.Same(t, img, Resize(img, 1, true))
}

func TestSampleStride(t *testing.T) {
	assert.Equal(t, 1, SampleStride(image.Rect(0, 0, 10, 10)))
	assert.Equal(t, 5, SampleStride(image.Rect(0, 0, 300, 100)))
}
