package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"scanbatch/internal/raster"
)

// Capture is a decoded page ready to be handed to the pipeline. Err is set
// when the file could not be read or decoded; Buffer is nil in that case.
type Capture struct {
	Source
	Buffer  *raster.Buffer
	Info    Info
	InfoErr error
	Err     error
}

// Labels is the page metadata recorded alongside the capture.
func (c Capture) Labels() map[string]string {
	labels := c.Info.Labels()
	labels["source"] = c.Display
	labels["kind"] = c.Kind.String()
	return labels
}

// LoadOptions controls how sources are read.
type LoadOptions struct {
	// Parallel bounds how many sources are decoded ahead of the consumer.
	Parallel int
	// Normalize applies the recorded orientation to the pixels.
	Normalize bool
}

// Open reads and decodes a single source. Unreadable metadata is reported
// in InfoErr and does not fail the capture.
func Open(src Source, normalize bool) (Capture, error) {
	c := Capture{Source: src}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return c, err
	}
	buf, err := raster.Decode(data)
	if err != nil {
		return c, fmt.Errorf("%s: %w", src.Display, err)
	}

	c.Info, c.InfoErr = ReadInfo(data, src.Kind)
	if normalize && c.Info.Orientation > 1 {
		img, err := buf.Image()
		if err != nil {
			buf.Release()
			return c, err
		}
		buf.Release()
		buf = raster.FromImage(Orient(img, c.Info.Orientation))
	}
	c.Buffer = buf
	return c, nil
}

// Orient rotates or flips img so that an image recorded with the given EXIF
// orientation displays upright.
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Load decodes sources with bounded read-ahead and calls fn for each capture
// in source order. Per-file failures are delivered to fn through Capture.Err;
// an error returned by fn stops the load. Captures decoded but never handed
// to fn are released.
func Load(ctx context.Context, sources []Source, opts LoadOptions, fn func(Capture) error) error {
	limit := opts.Parallel
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	slots := make([]chan Capture, len(sources))
	for i := range slots {
		slots[i] = make(chan Capture, 1)
	}
	window := make(chan struct{}, limit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, src := range sources {
			i, src := i, src
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				c, err := Open(src, opts.Normalize)
				c.Err = err
				slots[i] <- c
				return nil
			})
		}
		return nil
	})
	g.Go(func() error {
		for i := range sources {
			var c Capture
			select {
			case c = <-slots[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
			err := fn(c)
			<-window
			if err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	for _, slot := range slots {
		select {
		case c := <-slot:
			c.Buffer.Release()
		default:
		}
	}
	return err
}
