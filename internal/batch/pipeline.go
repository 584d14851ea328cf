// Package batch runs captured pages through content-adaptive compression on
// a bounded worker pool without blocking the capturing caller.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"scanbatch/internal/raster"
)

// Pipeline owns the live pages of a batch, the work queue and the worker
// pool. It is Idle until a page is added and returns to Idle once the queue
// drains.
type Pipeline struct {
	cfg    Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	queue  *Queue

	mu         sync.Mutex
	pages      []*Page
	workers    int
	nextWorker int
	idle       chan struct{}
	disposed   bool
	wg         sync.WaitGroup

	paused     atomic.Bool
	running    atomic.Int32
	total      atomic.Int64
	processed  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	startedAt  atomic.Int64
	throughput atomic.Uint64
	snapshot   atomic.Pointer[Progress]

	subMu   sync.Mutex
	subs    map[int]chan Progress
	nextSub int
}

// New builds an idle pipeline. Workers start on the first AddPage.
func New(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	idle := make(chan struct{})
	close(idle)

	p := &Pipeline{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "batch").Logger(),
		ctx:    ctx,
		cancel: cancel,
		queue:  NewQueue(cfg.MaxConcurrent),
		idle:   idle,
		subs:   make(map[int]chan Progress),
	}
	p.publish()
	return p
}

// PageOption decorates a page as it is added.
type PageOption func(*Page)

// WithLabel attaches capture metadata to the page.
func WithLabel(key, value string) PageOption {
	return func(p *Page) {
		if p.labels == nil {
			p.labels = make(map[string]string)
		}
		p.labels[key] = value
	}
}

// AddPage takes ownership of buf, assigns the next sequence number and
// queues the page. It never waits for processing. An empty buffer is
// accepted and fails on its own when processed.
func (p *Pipeline) AddPage(buf *raster.Buffer, opts ...PageOption) (*Page, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrDisposed
	}
	page := newPage(buf, len(p.pages)+1, nil)
	for _, opt := range opts {
		opt(page)
	}
	p.pages = append(p.pages, page)
	p.total.Add(1)
	p.startedAt.CompareAndSwap(0, time.Now().UnixNano())
	p.mu.Unlock()

	p.queue.Push(page)
	p.log.Debug().Str("page_id", page.ID()).Int("sequence", page.Sequence()).Stringer("priority", page.Priority()).Msg("page queued")

	p.ensureWorkers()
	p.publish()
	return page, nil
}

// RemovePage releases the page's buffers, drops it and renumbers the
// remaining pages 1..N-1 in their original order. A page being processed
// is dropped too; its worker discards the result.
func (p *Pipeline) RemovePage(id string) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	idx := -1
	for i, pg := range p.pages {
		if pg.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return ErrPageNotFound
	}
	page := p.pages[idx]
	p.pages = append(p.pages[:idx], p.pages[idx+1:]...)
	for i := idx; i < len(p.pages); i++ {
		p.pages[i].setSequence(i + 1)
	}
	p.mu.Unlock()

	p.queue.Remove(id)
	p.forget(page.release())
	p.log.Debug().Str("page_id", id).Msg("page removed")
	p.publish()
	return nil
}

// forget corrects the counters for a page that left the live set.
func (p *Pipeline) forget(prev Status) {
	p.total.Add(-1)
	switch prev {
	case StatusCompleted:
		p.processed.Add(-1)
		p.completed.Add(-1)
	case StatusError:
		p.processed.Add(-1)
		p.failed.Add(-1)
	}
}

// Clear releases and drops every page and resets the counters. Pages in
// flight finish on their workers and are discarded.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	pages := p.pages
	p.pages = nil
	p.mu.Unlock()

	p.queue.Drain()
	for _, pg := range pages {
		p.forget(pg.release())
	}
	p.startedAt.Store(0)
	p.throughput.Store(0)
	p.publish()
	return nil
}

func (p *Pipeline) resetCounters() {
	p.total.Store(0)
	p.processed.Store(0)
	p.completed.Store(0)
	p.failed.Store(0)
	p.startedAt.Store(0)
	p.throughput.Store(0)
}

// Page looks up a live page.
func (p *Pipeline) Page(id string) (*Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pg := range p.pages {
		if pg.ID() == id {
			return pg, true
		}
	}
	return nil, false
}

// Pages returns the live pages in sequence order.
func (p *Pipeline) Pages() []*Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Page, len(p.pages))
	copy(out, p.pages)
	return out
}

// CompletedPage is what export and indexing collaborators consume.
type CompletedPage struct {
	ID            string
	Sequence      int
	Processed     *raster.Buffer
	QualityScore  float64
	ExtractedText string
}

// CompletedPages returns completed pages that still hold a processed
// buffer, in sequence order. Safe to call while processing runs.
func (p *Pipeline) CompletedPages() []CompletedPage {
	var out []CompletedPage
	for _, pg := range p.Pages() {
		if pg.Status() != StatusCompleted {
			continue
		}
		buf, ok := pg.Processed()
		if !ok {
			continue
		}
		out = append(out, CompletedPage{
			ID:            pg.ID(),
			Sequence:      pg.Sequence(),
			Processed:     buf,
			QualityScore:  pg.QualityScore(),
			ExtractedText: pg.ExtractedText(),
		})
	}
	return out
}

// Failure is an errored page in a Summary.
type Failure struct {
	ID       string
	Sequence int
	Message  string
}

// Summary counts the live pages by state.
type Summary struct {
	Total      int
	Completed  int
	Failed     int
	Queued     int
	Processing int
	Failures   []Failure
}

func (p *Pipeline) Summary() Summary {
	var s Summary
	for _, pg := range p.Pages() {
		s.Total++
		switch pg.Status() {
		case StatusCompleted:
			s.Completed++
		case StatusError:
			s.Failed++
			s.Failures = append(s.Failures, Failure{ID: pg.ID(), Sequence: pg.Sequence(), Message: pg.ErrorMessage()})
		case StatusProcessing:
			s.Processing++
		default:
			s.Queued++
		}
	}
	return s
}

// Pause stops workers from taking new pages. Pages already in flight run to
// completion.
func (p *Pipeline) Pause() {
	p.paused.Store(true)
	p.log.Debug().Msg("processing paused")
	p.publish()
}

// Resume restarts the pool when queued work remains.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return ErrDisposed
	}

	p.paused.Store(false)
	p.log.Debug().Int("queued", p.queue.Len()).Msg("processing resumed")
	if p.queue.Len() > 0 {
		p.ensureWorkers()
	}
	p.publish()
	return nil
}

func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// Wait blocks until the pool is idle with nothing runnable queued: every
// page finished, or the pipeline is paused or disposed.
func (p *Pipeline) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle, disposed := p.idle, p.disposed
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}

		if disposed || p.paused.Load() || p.queue.Len() == 0 {
			return nil
		}
		// work was queued after the pool went idle
		p.ensureWorkers()
	}
}

// Dispose cancels the workers, waits for them to stop and releases every
// buffer of every page. After it returns no buffer is mutated again. It is
// idempotent.
func (p *Pipeline) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	pages := p.pages
	p.pages = nil
	p.mu.Unlock()

	p.queue.Drain()
	for _, pg := range pages {
		pg.release()
	}
	p.resetCounters()
	p.publish()

	p.subMu.Lock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.subs = nil
	p.subMu.Unlock()

	p.log.Debug().Int("pages", len(pages)).Msg("pipeline disposed")
}

// Disposed reports whether Dispose ran.
func (p *Pipeline) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}
