package batch

import (
	"errors"
	"fmt"
)

var (
	ErrDisposed     = errors.New("batch: pipeline disposed")
	ErrPageNotFound = errors.New("batch: page not found")
)

// PageError is a failure local to one page. It is recorded on the page and
// never propagated to the pipeline or to other pages.
type PageError struct {
	PageID   string
	Sequence int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d (%s): %v", e.Sequence, e.PageID, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
