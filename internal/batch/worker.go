package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"scanbatch/internal/compress"
	"scanbatch/internal/raster"
)

// ensureWorkers tops the pool up to its fixed size.
func (p *Pipeline) ensureWorkers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed || p.paused.Load() || p.ctx.Err() != nil {
		return
	}
	if p.workers == 0 {
		p.idle = make(chan struct{})
	}
	for p.workers < p.cfg.Workers {
		p.workers++
		p.nextWorker++
		p.running.Add(1)
		p.wg.Add(1)
		go p.work(p.nextWorker)
	}
}

// retire lets a worker leave the pool unless runnable work is still queued.
// The check runs under the pool lock so a concurrent AddPage or Resume
// either sees the worker gone and starts a new one, or the worker stays.
func (p *Pipeline) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() == nil && !p.paused.Load() && p.queue.Len() > 0 {
		return false
	}
	p.workers--
	p.running.Add(-1)
	if p.workers == 0 {
		close(p.idle)
	}
	return true
}

func (p *Pipeline) work(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		if p.ctx.Err() != nil || p.paused.Load() {
			if p.retire() {
				break
			}
		}

		page, err := p.queue.Dequeue()
		if errors.Is(err, errAtCapacity) {
			log.Trace().Dur("backoff", p.cfg.Backoff).Msg("at processing capacity")
			timer := time.NewTimer(p.cfg.Backoff)
			select {
			case <-p.ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		if err != nil {
			if p.retire() {
				break
			}
			continue
		}

		p.process(page, log)
		p.queue.Done()
		p.publish()
	}
	p.publish()
}

// pageOutput carries a worker's results until they are handed to the page.
type pageOutput struct {
	compressed     *raster.Buffer
	processed      *raster.Buffer
	qualityScore   float64
	adjusted       bool
	text           string
	originalSize   int
	compressedSize int
}

func (o *pageOutput) release() {
	o.compressed.Release()
	o.processed.Release()
	o.compressed, o.processed = nil, nil
}

func (p *Pipeline) process(page *Page, log zerolog.Logger) {
	src, ok := page.claim()
	if !ok {
		return
	}
	log = log.With().Str("page_id", page.ID()).Int("sequence", page.Sequence()).Logger()
	log.Debug().Msg("processing page")
	start := time.Now()

	out, err := p.run(page, src)
	if err != nil {
		pe := &PageError{PageID: page.ID(), Sequence: page.Sequence(), Err: err}
		if page.fail(pe, p.countFailed) {
			log.Warn().Err(err).Msg("page failed")
		}
	} else if page.complete(out, p.countCompleted) {
		log.Debug().
			Float64("quality", out.qualityScore).
			Int("original_bytes", out.originalSize).
			Int("compressed_bytes", out.compressedSize).
			Dur("took", time.Since(start)).
			Msg("page completed")
	} else {
		out.release()
	}

	p.recordThroughput()
	p.compactOriginals()
}

// countCompleted and countFailed run under the page lock together with the
// status change, so RemovePage and Clear see either both or neither.
func (p *Pipeline) countCompleted() {
	p.processed.Add(1)
	p.completed.Add(1)
}

func (p *Pipeline) countFailed() {
	p.processed.Add(1)
	p.failed.Add(1)
}

// run analyzes, compresses and hands the page to the downstream stage. A
// panic anywhere in the chain fails this page only.
func (p *Pipeline) run(page *Page, src *raster.Buffer) (out pageOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out.release()
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	analysis, err := compress.Analyze(src)
	if err != nil {
		return pageOutput{}, err
	}
	strategy := compress.SelectStrategy(analysis, p.cfg.Settings)
	res, err := compress.Compress(p.ctx, src, analysis, strategy, p.cfg.Settings)
	if err != nil {
		return pageOutput{}, err
	}
	if res.EncodeErr != nil {
		p.log.Debug().Err(res.EncodeErr).Str("page_id", page.ID()).Msg("encoder fell back")
	}

	out = pageOutput{
		compressed:     res.Buffer,
		qualityScore:   res.QualityScore,
		adjusted:       res.Adjusted,
		originalSize:   res.OriginalSize,
		compressedSize: res.CompressedSize,
	}

	if p.cfg.Downstream != nil {
		d, err := p.cfg.Downstream.Process(p.ctx, DownstreamInput{
			PageID:     page.ID(),
			Sequence:   page.Sequence(),
			Analysis:   analysis,
			Compressed: out.compressed,
		})
		if err != nil {
			d.Processed.Release()
			out.release()
			return pageOutput{}, err
		}
		out.processed = d.Processed
		out.text = d.Text
		if out.processed == out.compressed {
			// handed back its input: falls through to the copy below
			out.processed = nil
		}
	}

	if out.processed == nil {
		processed, err := out.compressed.Clone()
		if err != nil {
			out.release()
			return pageOutput{}, err
		}
		out.processed = processed
	}
	return out, nil
}

// compactOriginals releases the originals of finished pages once the live
// set grows past the threshold. Pages still queued or in flight keep theirs.
func (p *Pipeline) compactOriginals() {
	if p.cfg.ReleaseThreshold < 0 {
		return
	}
	pages := p.Pages()
	if len(pages) <= p.cfg.ReleaseThreshold {
		return
	}
	for _, pg := range pages {
		if pg.compact() {
			p.log.Trace().Str("page_id", pg.ID()).Msg("released original")
		}
	}
}
