package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scanbatch/internal/raster"
)

// Status is the lifecycle state of a page.
type Status int

const (
	StatusQueued Status = iota
	StatusProcessing
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Finished reports whether the page reached a terminal state.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusError
}

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// priorityFor ranks the first pages of a batch ahead of the rest so the
// opening pages of a capture session are ready first.
func priorityFor(sequence int) Priority {
	switch {
	case sequence <= 5:
		return PriorityHigh
	case sequence <= 20:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Page tracks one captured page through the pipeline. Buffer fields are
// written only by the worker that dequeued the page, or by the pipeline's
// remove and clear paths after the page left every worker. All accessors are
// safe for concurrent readers.
type Page struct {
	mu sync.RWMutex

	id       string
	created  time.Time
	sequence int
	priority Priority
	status   Status
	labels   map[string]string

	original   *raster.Buffer
	compressed *raster.Buffer
	processed  *raster.Buffer

	qualityScore   float64
	autoAdjusted   bool
	memoryCompact  bool
	errMessage     string
	err            error
	extractedText  string
	originalSize   int
	compressedSize int

	// removed is set once the page left the live set; a worker still holding
	// it discards its results.
	removed bool
}

func newPage(buf *raster.Buffer, sequence int, labels map[string]string) *Page {
	return &Page{
		id:       uuid.NewString(),
		created:  time.Now(),
		sequence: sequence,
		priority: priorityFor(sequence),
		status:   StatusQueued,
		labels:   labels,
		original: buf,
	}
}

func (p *Page) ID() string { return p.id }

func (p *Page) Created() time.Time { return p.created }

func (p *Page) Sequence() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sequence
}

func (p *Page) Priority() Priority {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.priority
}

func (p *Page) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Page) QualityScore() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qualityScore
}

// AutoAdjusted reports whether compression had to decay its parameters.
func (p *Page) AutoAdjusted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoAdjusted
}

// Compacted reports whether the original buffer was released to bound memory.
func (p *Page) Compacted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.memoryCompact
}

// Err returns the failure recorded for an errored page.
func (p *Page) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Page) ErrorMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errMessage
}

func (p *Page) ExtractedText() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.extractedText
}

// Sizes returns the byte sizes before and after compression.
func (p *Page) Sizes() (original, compressed int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.originalSize, p.compressedSize
}

// Label returns capture metadata attached when the page was added.
func (p *Page) Label(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.labels[key]
	return v, ok
}

// Original returns the original buffer when still held.
func (p *Page) Original() (*raster.Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return present(p.original)
}

func (p *Page) Compressed() (*raster.Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return present(p.compressed)
}

func (p *Page) Processed() (*raster.Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return present(p.processed)
}

func present(b *raster.Buffer) (*raster.Buffer, bool) {
	if b == nil || b.Released() {
		return nil, false
	}
	return b, true
}

// claim moves a queued page into processing. It fails for removed pages.
func (p *Page) claim() (*raster.Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed || p.status != StatusQueued {
		return nil, false
	}
	p.status = StatusProcessing
	return p.original, true
}

// complete stores the worker's output and runs count while still holding
// the page lock. It reports false for a page removed in the meantime.
func (p *Page) complete(out pageOutput, count func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return false
	}
	count()
	p.compressed = out.compressed
	p.processed = out.processed
	p.qualityScore = out.qualityScore
	p.autoAdjusted = out.adjusted
	p.extractedText = out.text
	p.originalSize = out.originalSize
	p.compressedSize = out.compressedSize
	p.status = StatusCompleted
	return true
}

func (p *Page) fail(err *PageError, count func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return false
	}
	count()
	p.err = err
	p.errMessage = err.Err.Error()
	p.status = StatusError
	return true
}

// compact releases the original buffer of a finished page.
func (p *Page) compact() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.Finished() || p.original == nil {
		return false
	}
	p.original.Release()
	p.original = nil
	p.memoryCompact = true
	return true
}

// release drops every buffer and marks the page removed. The previous status
// is returned so counters can be corrected.
func (p *Page) release() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range []*raster.Buffer{p.original, p.compressed, p.processed} {
		b.Release()
	}
	p.original, p.compressed, p.processed = nil, nil, nil
	p.removed = true
	return p.status
}

func (p *Page) setSequence(seq int) {
	p.mu.Lock()
	p.sequence = seq
	p.mu.Unlock()
}
