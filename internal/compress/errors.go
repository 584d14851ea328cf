package compress

import (
	"errors"
	"fmt"

	"scanbatch/internal/raster"
)

// ErrEmptyBuffer rejects zero-size or released images.
var ErrEmptyBuffer = errors.New("compress: empty image buffer")

// EncodingError records an encoder failure inside the progressive loop.
type EncodingError struct {
	Format    raster.Format
	Quality   int
	Iteration int
	Err       error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("compress: encode %s at quality %d (pass %d): %v", e.Format, e.Quality, e.Iteration, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
