package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"scanbatch/internal/batch"
	"scanbatch/internal/raster"
	"scanbatch/pkg/imgutil"
)

// ExportOptions controls how finished pages are written.
type ExportOptions struct {
	Dir          string
	Prefix       string
	KeepMetadata bool
	PreserveICC  bool
	Parallel     int
}

// Exported describes one written page.
type Exported struct {
	PageID   string
	Sequence int
	Path     string
	Bytes    int64
	Kind     imgutil.Kind
}

// Export writes each page's processed buffer to opts.Dir as
// <prefix>-<sequence>.<ext>. Raw and TIFF buffers are written as PNG.
// Unless KeepMetadata is set, any metadata that survived from the source
// file is stripped. Files are replaced atomically.
func Export(ctx context.Context, pages []batch.CompletedPage, opts ExportOptions) ([]Exported, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("output directory required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "page"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}

	limit := opts.Parallel
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	out := make([]Exported, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, pg := range pages {
		i, pg := i, pg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			exp, err := exportPage(pg, opts)
			if err != nil {
				return fmt.Errorf("page %d: %w", pg.Sequence, err)
			}
			out[i] = exp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func exportPage(pg batch.CompletedPage, opts ExportOptions) (Exported, error) {
	data, kind, err := encodedBytes(pg.Processed)
	if err != nil {
		return Exported{}, err
	}
	if !opts.KeepMetadata {
		if data, err = StripMetadata(data, kind, opts.PreserveICC); err != nil {
			return Exported{}, err
		}
	}

	name := fmt.Sprintf("%s-%04d%s", opts.Prefix, pg.Sequence, kind.Ext())
	dest := filepath.Join(opts.Dir, name)
	if err := writeFile(dest, data); err != nil {
		return Exported{}, err
	}
	return Exported{
		PageID:   pg.ID,
		Sequence: pg.Sequence,
		Path:     dest,
		Bytes:    int64(len(data)),
		Kind:     kind,
	}, nil
}

func encodedBytes(buf *raster.Buffer) ([]byte, imgutil.Kind, error) {
	if buf.Released() {
		return nil, imgutil.KindUnknown, raster.ErrReleased
	}
	switch buf.Format() {
	case raster.FormatJPEG, raster.FormatPNG:
		if data := buf.Bytes(); len(data) > 0 {
			return data, buf.Format().Kind(), nil
		}
	}

	img, err := buf.Image()
	if err != nil {
		return nil, imgutil.KindUnknown, err
	}
	png, err := raster.Encode(img, raster.FormatPNG, raster.MaxQuality)
	if err != nil {
		return nil, imgutil.KindUnknown, err
	}
	return png.Bytes(), imgutil.KindPNG, nil
}

func writeFile(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "scanbatch-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return replaceFile(tmp.Name(), dest)
}

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
