// Package capture is the file-import side of a batch: it finds page images,
// reads their capture metadata and hands decoded buffers to the pipeline. It
// also exports finished pages.
package capture

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"scanbatch/pkg/imgutil"
)

// Source is one importable page image.
type Source struct {
	Path    string
	RelPath string
	Display string
	Kind    imgutil.Kind
	Size    int64
}

// Discover returns the supported images at root in lexical order. When root
// is a directory, skipDir (typically the export folder) is not descended
// into. Files that are not JPEG, PNG or TIFF are ignored.
func Discover(root, skipDir string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		src, ok, err := sniff(absRoot, filepath.Base(absRoot))
		if err != nil || !ok {
			return nil, err
		}
		return []Source{src}, nil
	}

	var skipAbs string
	if skipDir != "" {
		if abs, err := filepath.Abs(skipDir); err == nil && filepath.Clean(abs) != filepath.Clean(absRoot) {
			skipAbs = abs
		}
	}

	var sources []Source
	err = fs.WalkDir(os.DirFS(absRoot), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		full := filepath.Join(absRoot, path)
		if d.IsDir() {
			if skipAbs != "" && isWithin(full, skipAbs) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		src, ok, err := sniff(full, path)
		if err != nil {
			if err == imgutil.ErrShortHeader {
				return nil
			}
			return err
		}
		if ok {
			sources = append(sources, src)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func sniff(full, rel string) (Source, bool, error) {
	f, err := os.Open(full)
	if err != nil {
		return Source{}, false, err
	}
	defer f.Close()

	kind, err := imgutil.SniffReader(f)
	if err != nil {
		return Source{}, false, err
	}
	if kind == imgutil.KindUnknown {
		return Source{}, false, nil
	}
	st, err := f.Stat()
	if err != nil {
		return Source{}, false, err
	}
	return Source{
		Path:    full,
		RelPath: rel,
		Display: filepath.ToSlash(rel),
		Kind:    kind,
		Size:    st.Size(),
	}, true, nil
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
