package batch

import (
	"math"
	"time"
)

// Progress is a point-in-time view of a pipeline, published after every
// state change.
type Progress struct {
	Total     int
	Processed int
	Completed int
	Failed    int
	Queued    int
	InFlight  int
	// Fraction is Processed/Total, zero for an empty pipeline.
	Fraction float64
	// Throughput is pages per second since the batch started.
	Throughput float64
	Remaining  time.Duration
	Elapsed    time.Duration
	Running    bool
	Paused     bool
}

// Done reports whether every added page reached a terminal state.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Processed >= p.Total
}

// estimateRemaining is (total-processed)/throughput, zero when throughput is.
func estimateRemaining(total, processed int, throughput float64) time.Duration {
	if throughput <= 0 || processed >= total {
		return 0
	}
	secs := float64(total-processed) / throughput
	if math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

const subscriberBuffer = 32

// Subscribe returns a channel receiving progress snapshots and a function
// that ends the subscription and closes the channel. Slow subscribers miss
// snapshots rather than stall workers.
func (p *Pipeline) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)

	p.subMu.Lock()
	if p.subs == nil {
		close(ch)
		p.subMu.Unlock()
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	select {
	case ch <- p.Progress():
	default:
	}

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
}

// Progress returns the latest snapshot.
func (p *Pipeline) Progress() Progress {
	if snap := p.snapshot.Load(); snap != nil {
		return *snap
	}
	return Progress{}
}

func (p *Pipeline) publish() {
	total := int(p.total.Load())
	processed := int(p.processed.Load())
	throughput := math.Float64frombits(p.throughput.Load())

	snap := &Progress{
		Total:      total,
		Processed:  processed,
		Completed:  int(p.completed.Load()),
		Failed:     int(p.failed.Load()),
		Queued:     p.queue.Len(),
		InFlight:   p.queue.InFlight(),
		Throughput: throughput,
		Remaining:  estimateRemaining(total, processed, throughput),
		Running:    p.running.Load() > 0,
		Paused:     p.paused.Load(),
	}
	if total > 0 {
		snap.Fraction = float64(processed) / float64(total)
	}
	if started := p.startedAt.Load(); started > 0 {
		snap.Elapsed = time.Since(time.Unix(0, started))
	}
	p.snapshot.Store(snap)

	p.subMu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- *snap:
		default:
		}
	}
	p.subMu.Unlock()
}

// recordThroughput recomputes pages per second after a page finished.
func (p *Pipeline) recordThroughput() {
	started := p.startedAt.Load()
	if started == 0 {
		return
	}
	elapsed := time.Since(time.Unix(0, started)).Seconds()
	if elapsed <= 0 {
		return
	}
	tp := float64(p.processed.Load()) / elapsed
	p.throughput.Store(math.Float64bits(tp))
}

// EstimatedTimeRemaining is (total-processed)/throughput.
func (p *Pipeline) EstimatedTimeRemaining() time.Duration {
	tp := math.Float64frombits(p.throughput.Load())
	return estimateRemaining(int(p.total.Load()), int(p.processed.Load()), tp)
}

// Throughput is pages per second, recomputed after every finished page.
func (p *Pipeline) Throughput() float64 {
	return math.Float64frombits(p.throughput.Load())
}
