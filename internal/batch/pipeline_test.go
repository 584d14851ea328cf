package batch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbatch/internal/compress"
	"scanbatch/internal/raster"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = time.Millisecond
	cfg.Settings.TargetSizeKB = 4
	return cfg
}

// scanned returns a small page: a light background with a dark band whose
// position varies with seed.
func scanned(seed int) *raster.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			c := color.NRGBA{245, 245, 240, 255}
			if (y+seed*7)%40 < 12 {
				c = color.NRGBA{20, 20, 20, 255}
			} else if (x+seed)%53 < 9 {
				c = color.NRGBA{uint8(x), 90, uint8(y * 2), 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return raster.FromImage(img)
}

func waitIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestPipelineIsolatesPageFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		if in.Sequence == 7 {
			return DownstreamOutput{}, errors.New("injected failure")
		}
		return DownstreamOutput{Text: "page text"}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = p.CompletedPages()
				_ = p.Summary()
			}
		}
	}()

	var added []*Page
	for i := 1; i <= 12; i++ {
		page, err := p.AddPage(scanned(i))
		require.NoError(t, err)
		assert.Equal(t, i, page.Sequence())
		added = append(added, page)
	}
	waitIdle(t, p)
	close(stop)
	readers.Wait()

	summary := p.Summary()
	assert.Equal(t, 12, summary.Total)
	assert.Equal(t, 11, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 7, summary.Failures[0].Sequence)
	assert.Equal(t, "injected failure", summary.Failures[0].Message)

	progress := p.Progress()
	assert.Equal(t, 12, progress.Processed)
	assert.Equal(t, 12, progress.Total)
	assert.Equal(t, progress.Completed+progress.Failed, progress.Total)
	assert.InDelta(t, 1.0, progress.Fraction, 1e-9)
	assert.True(t, progress.Done())
	assert.Equal(t, time.Duration(0), p.EstimatedTimeRemaining())
	assert.Greater(t, p.Throughput(), 0.0)

	failed := added[6]
	assert.Equal(t, StatusError, failed.Status())
	var pe *PageError
	require.ErrorAs(t, failed.Err(), &pe)
	assert.Equal(t, failed.ID(), pe.PageID)

	completed := p.CompletedPages()
	require.Len(t, completed, 11)
	for _, c := range completed {
		assert.NotEqual(t, 7, c.Sequence)
		assert.GreaterOrEqual(t, c.QualityScore, 0.0)
		assert.LessOrEqual(t, c.QualityScore, 1.0)
		assert.Equal(t, "page text", c.ExtractedText)
		assert.False(t, c.Processed.Empty())
	}

	// more than ten live pages: finished originals were released
	for _, page := range added {
		_, ok := page.Original()
		assert.False(t, ok, "page %d kept its original", page.Sequence())
		assert.True(t, page.Compacted())
	}
}

func TestPipelineKeepsOriginalsBelowThreshold(t *testing.T) {
	p := New(testConfig())
	defer p.Dispose()

	page, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, StatusCompleted, page.Status())
	_, ok := page.Original()
	assert.True(t, ok)
	_, ok = page.Compressed()
	assert.True(t, ok)
	processed, ok := page.Processed()
	require.True(t, ok)
	compressed, _ := page.Compressed()
	assert.NotSame(t, compressed, processed)
}

func TestPipelineRecordsEmptyBuffer(t *testing.T) {
	p := New(testConfig())
	defer p.Dispose()

	empty, err := p.AddPage(raster.FromImage(image.NewNRGBA(image.Rectangle{})))
	require.NoError(t, err)
	good, err := p.AddPage(scanned(2))
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, StatusError, empty.Status())
	assert.ErrorIs(t, empty.Err(), compress.ErrEmptyBuffer)
	assert.NotEmpty(t, empty.ErrorMessage())
	assert.Equal(t, StatusCompleted, good.Status())
}

func TestPipelineRecoversPanics(t *testing.T) {
	cfg := testConfig()
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		if in.Sequence == 1 {
			panic("ocr crashed")
		}
		return DownstreamOutput{}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	bad, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	ok, err := p.AddPage(scanned(2))
	require.NoError(t, err)
	waitIdle(t, p)

	assert.Equal(t, StatusError, bad.Status())
	assert.Contains(t, bad.ErrorMessage(), "ocr crashed")
	assert.Equal(t, StatusCompleted, ok.Status())
}

func TestRemovePageRenumbers(t *testing.T) {
	p := New(testConfig())
	defer p.Dispose()
	p.Pause()

	var ids []string
	for i := 1; i <= 6; i++ {
		page, err := p.AddPage(scanned(i))
		require.NoError(t, err)
		ids = append(ids, page.ID())
	}

	removed, ok := p.Page(ids[1])
	require.True(t, ok)
	require.NoError(t, p.RemovePage(ids[1]))
	require.NoError(t, p.RemovePage(ids[4]))
	assert.ErrorIs(t, p.RemovePage(ids[1]), ErrPageNotFound)

	_, ok = removed.Original()
	assert.False(t, ok)

	want := []string{ids[0], ids[2], ids[3], ids[5]}
	pages := p.Pages()
	require.Len(t, pages, len(want))
	for i, page := range pages {
		assert.Equal(t, want[i], page.ID())
		assert.Equal(t, i+1, page.Sequence())
	}
	assert.Equal(t, 4, p.Progress().Total)
	assert.Equal(t, 4, p.Progress().Queued)

	require.NoError(t, p.Resume())
	waitIdle(t, p)
	assert.Equal(t, 4, p.Summary().Completed)
	assert.Equal(t, 4, p.Progress().Processed)
}

func TestPauseResumeProcessesEachPageOnce(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}

	cfg := testConfig()
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		mu.Lock()
		calls[in.PageID]++
		mu.Unlock()
		return DownstreamOutput{}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	p.Pause()
	var pages []*Page
	for i := 1; i <= 5; i++ {
		page, err := p.AddPage(scanned(i))
		require.NoError(t, err)
		pages = append(pages, page)
	}
	waitIdle(t, p)

	for _, page := range pages {
		assert.Equal(t, StatusQueued, page.Status())
	}
	assert.True(t, p.Progress().Paused)
	assert.False(t, p.Progress().Running)

	require.NoError(t, p.Resume())
	waitIdle(t, p)

	for _, page := range pages {
		assert.True(t, page.Status().Finished())
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 5)
	for id, n := range calls {
		assert.Equal(t, 1, n, "page %s processed %d times", id, n)
	}
}

func TestDisposeMidBatchReleasesEverything(t *testing.T) {
	var started atomic.Int32
	cfg := testConfig()
	cfg.Workers = 2
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		if in.Sequence > 2 {
			started.Add(1)
			<-ctx.Done()
			return DownstreamOutput{}, ctx.Err()
		}
		return DownstreamOutput{}, nil
	})
	p := New(cfg)

	var pages []*Page
	for i := 1; i <= 8; i++ {
		page, err := p.AddPage(scanned(i))
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Eventually(t, func() bool { return started.Load() > 0 }, 10*time.Second, time.Millisecond)

	p.Dispose()
	p.Dispose()

	assert.Empty(t, p.CompletedPages())
	assert.Empty(t, p.Pages())
	for _, page := range pages {
		_, ok := page.Original()
		assert.False(t, ok)
		_, ok = page.Compressed()
		assert.False(t, ok)
		_, ok = page.Processed()
		assert.False(t, ok)
	}

	_, err := p.AddPage(scanned(9))
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, p.Resume(), ErrDisposed)
	assert.ErrorIs(t, p.RemovePage(pages[0].ID()), ErrDisposed)
	assert.ErrorIs(t, p.Clear(), ErrDisposed)
	assert.NoError(t, p.Wait(context.Background()))
}

func TestBackpressureCapsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	cfg := testConfig()
	cfg.Workers = 4
	cfg.MaxConcurrent = 1
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return DownstreamOutput{}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	for i := 1; i <= 8; i++ {
		_, err := p.AddPage(scanned(i))
		require.NoError(t, err)
	}
	waitIdle(t, p)

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 8, p.Summary().Completed)
}

func TestClearResetsPipeline(t *testing.T) {
	p := New(testConfig())
	defer p.Dispose()

	page, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	waitIdle(t, p)

	require.NoError(t, p.Clear())
	assert.Empty(t, p.Pages())
	assert.Equal(t, 0, p.Progress().Total)
	_, ok := page.Processed()
	assert.False(t, ok)

	next, err := p.AddPage(scanned(2))
	require.NoError(t, err)
	assert.Equal(t, 1, next.Sequence())
	waitIdle(t, p)
	assert.Equal(t, 1, p.Progress().Processed)
}

func TestClearDuringInFlightPageKeepsCountersConsistent(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		if in.Sequence == 1 {
			close(entered)
			<-unblock
		}
		return DownstreamOutput{}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	page, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	_, err = p.AddPage(scanned(2))
	require.NoError(t, err)
	<-entered

	require.NoError(t, p.Clear())
	close(unblock)
	waitIdle(t, p)

	assert.Zero(t, p.total.Load())
	assert.Zero(t, p.processed.Load())
	assert.Zero(t, p.completed.Load())
	assert.Zero(t, p.failed.Load())
	progress := p.Progress()
	assert.Equal(t, 0, progress.Total)
	assert.Equal(t, 0, progress.Processed)
	_, ok := page.Compressed()
	assert.False(t, ok)
	_, ok = page.Processed()
	assert.False(t, ok)

	_, err = p.AddPage(scanned(3))
	require.NoError(t, err)
	waitIdle(t, p)
	progress = p.Progress()
	assert.Equal(t, 1, progress.Total)
	assert.Equal(t, 1, progress.Processed)
	assert.Equal(t, 1, progress.Completed)
}

func TestZeroReleaseThresholdReleasesImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.ReleaseThreshold = 0
	assert.Equal(t, 0, cfg.withDefaults().ReleaseThreshold)

	p := New(cfg)
	defer p.Dispose()

	page, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	waitIdle(t, p)

	require.Equal(t, StatusCompleted, page.Status())
	assert.True(t, page.Compacted())
	_, ok := page.Original()
	assert.False(t, ok)
	_, ok = page.Processed()
	assert.True(t, ok)
}

func TestDownstreamReturningInputIsCopied(t *testing.T) {
	cfg := testConfig()
	cfg.Downstream = DownstreamFunc(func(ctx context.Context, in DownstreamInput) (DownstreamOutput, error) {
		return DownstreamOutput{Processed: in.Compressed, Text: "same buffer"}, nil
	})
	p := New(cfg)
	defer p.Dispose()

	page, err := p.AddPage(scanned(1))
	require.NoError(t, err)
	waitIdle(t, p)

	require.Equal(t, StatusCompleted, page.Status())
	compressed, ok := page.Compressed()
	require.True(t, ok)
	processed, ok := page.Processed()
	require.True(t, ok)
	assert.NotSame(t, compressed, processed)
	assert.Equal(t, "same buffer", page.ExtractedText())

	require.NoError(t, p.RemovePage(page.ID()))
	assert.True(t, compressed.Released())
	assert.True(t, processed.Released())
}

func TestSubscribeReceivesProgress(t *testing.T) {
	p := New(testConfig())
	updates, cancel := p.Subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		_, err := p.AddPage(scanned(i))
		require.NoError(t, err)
	}
	waitIdle(t, p)

	var last Progress
	timeout := time.After(10 * time.Second)
	for !last.Done() {
		select {
		case last = <-updates:
		case <-timeout:
			t.Fatalf("no final progress, last %+v", last)
		}
	}
	assert.Equal(t, 3, last.Processed)

	p.Dispose()
	for range updates {
	}
}

func TestEstimateRemaining(t *testing.T) {
	assert.Equal(t, 3*time.Second, estimateRemaining(10, 4, 2))
	assert.Equal(t, time.Duration(0), estimateRemaining(10, 4, 0))
	assert.Equal(t, time.Duration(0), estimateRemaining(4, 4, 2))
}
