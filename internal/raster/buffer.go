// Package raster holds the owned image buffers that flow through the batch
// pipeline, and the codec and transform helpers that operate on them.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"sync"

	_ "golang.org/x/image/tiff" // register TIFF decoder

	"scanbatch/pkg/imgutil"
)

// Format describes how a buffer's bytes are encoded.
type Format int

const (
	// FormatRaw buffers carry decoded pixels only.
	FormatRaw Format = iota
	// FormatJPEG is the lossy pixel encoding.
	FormatJPEG
	// FormatPNG is the lossless pixel encoding.
	FormatPNG
	// FormatTIFF is accepted on import but never produced.
	FormatTIFF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatTIFF:
		return "tiff"
	default:
		return "raw"
	}
}

// Kind maps the format to the sniffer's image kind.
func (f Format) Kind() imgutil.Kind {
	switch f {
	case FormatJPEG:
		return imgutil.KindJPEG
	case FormatPNG:
		return imgutil.KindPNG
	case FormatTIFF:
		return imgutil.KindTIFF
	default:
		return imgutil.KindUnknown
	}
}

var (
	ErrReleased    = errors.New("raster: buffer released")
	ErrEmpty       = errors.New("raster: empty buffer")
	ErrUnsupported = errors.New("raster: unsupported image format")
)

// bytesPerPixel is the accounting size of one decoded pixel.
const bytesPerPixel = 4

// Buffer is an image owned by exactly one holder. It carries decoded pixels,
// encoded bytes, or both. After Release every accessor reports absence.
type Buffer struct {
	mu       sync.RWMutex
	img      image.Image
	data     []byte
	format   Format
	released bool
}

// FromImage wraps decoded pixels. The caller hands over ownership of img.
func FromImage(img image.Image) *Buffer {
	return &Buffer{img: img, format: FormatRaw}
}

// FromEncoded wraps encoded bytes. img may be nil, in which case the pixels
// are decoded lazily on first use.
func FromEncoded(data []byte, format Format, img image.Image) *Buffer {
	return &Buffer{img: img, data: data, format: format}
}

// Decode sniffs and decodes an encoded image, keeping the original bytes.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	kind, err := imgutil.DetectHeader(data)
	if err != nil {
		return nil, err
	}

	var format Format
	switch kind {
	case imgutil.KindJPEG:
		format = FormatJPEG
	case imgutil.KindPNG:
		format = FormatPNG
	case imgutil.KindTIFF:
		format = FormatTIFF
	default:
		return nil, ErrUnsupported
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	return FromEncoded(data, format, img), nil
}

// Image returns the decoded pixels, decoding the encoded bytes if needed.
func (b *Buffer) Image() (image.Image, error) {
	b.mu.RLock()
	img, data, released := b.img, b.data, b.released
	b.mu.RUnlock()

	if released {
		return nil, ErrReleased
	}
	if img != nil {
		return img, nil
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.format, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrReleased
	}
	if b.img == nil {
		b.img = decoded
	}
	return b.img, nil
}

// Bytes returns the encoded bytes, or nil for raw or released buffers.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return nil
	}
	return b.data
}

func (b *Buffer) Format() Format {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.format
}

// Bounds returns the pixel bounds, or an empty rectangle when unknown.
func (b *Buffer) Bounds() image.Rectangle {
	img, err := b.Image()
	if err != nil {
		return image.Rectangle{}
	}
	return img.Bounds()
}

// Size is the accounted byte size: the encoded length when encoded bytes are
// held, otherwise four bytes per decoded pixel.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return 0
	}
	if len(b.data) > 0 {
		return len(b.data)
	}
	if b.img == nil {
		return 0
	}
	r := b.img.Bounds()
	return r.Dx() * r.Dy() * bytesPerPixel
}

// Empty reports whether the buffer holds no usable pixels.
func (b *Buffer) Empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return true
	}
	if len(b.data) > 0 {
		return false
	}
	return b.img == nil || b.img.Bounds().Empty()
}

// Release drops the pixels and bytes. It is safe to call more than once.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.img = nil
	b.data = nil
	b.released = true
	b.mu.Unlock()
}

func (b *Buffer) Released() bool {
	if b == nil {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.released
}

// Clone returns an independently owned copy.
func (b *Buffer) Clone() (*Buffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return nil, ErrReleased
	}
	if len(b.data) > 0 {
		data := make([]byte, len(b.data))
		copy(data, b.data)
		return FromEncoded(data, b.format, nil), nil
	}
	if b.img == nil {
		return nil, ErrEmpty
	}
	return FromImage(copyImage(b.img)), nil
}

func copyImage(src image.Image) *image.NRGBA {
	r := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}
