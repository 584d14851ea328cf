package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scanbatch/internal/batch"
	"scanbatch/internal/capture"
	"scanbatch/internal/tui"
)

var (
	ingestOutputDir    string
	ingestPrefix       string
	ingestTargetKB     int
	ingestWorkers      int
	ingestMaxInFlight  int
	ingestAggressive   bool
	ingestKeepMetadata bool
	ingestPreserveICC  bool
	ingestNoOrient     bool
	ingestNoTUI        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [flags] <path>",
	Short: "Compress a folder of page images and export the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		cfg := appConfig

		flags := cmd.Flags()
		if flags.Changed("target-kb") {
			cfg.Compression.TargetSizeKB = ingestTargetKB
		}
		if flags.Changed("aggressive") {
			cfg.Compression.AggressiveMode = ingestAggressive
		}
		if flags.Changed("workers") {
			cfg.Pipeline.Workers = ingestWorkers
			if !flags.Changed("max-in-flight") {
				cfg.Pipeline.MaxConcurrent = ingestWorkers
			}
		}
		if flags.Changed("max-in-flight") {
			cfg.Pipeline.MaxConcurrent = ingestMaxInFlight
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		sources, err := capture.Discover(path, ingestOutputDir)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("no JPEG, PNG or TIFF pages found in %s", path)
		}

		logger, closeLog, err := newLogger(!ingestNoTUI)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		pipeline := batch.New(cfg.Batch(logger))
		defer pipeline.Dispose()

		uiDone := make(chan struct{})
		unsubscribe := func() {}
		if ingestNoTUI {
			close(uiDone)
		} else {
			var updates <-chan batch.Progress
			updates, unsubscribe = pipeline.Subscribe()
			program := tea.NewProgram(tui.NewModel(updates, pipeline, cancel))
			go func() {
				_, _ = program.Run()
				close(uiDone)
			}()
		}

		var skipped []string
		var inputBytes int64
		err = capture.Load(ctx, sources, capture.LoadOptions{
			Parallel:  cfg.Pipeline.Workers,
			Normalize: !ingestNoOrient,
		}, func(c capture.Capture) error {
			if c.Err != nil {
				logger.Warn().Err(c.Err).Str("source", c.Display).Msg("page skipped")
				skipped = append(skipped, c.Display)
				return nil
			}
			if c.InfoErr != nil {
				logger.Debug().Err(c.InfoErr).Str("source", c.Display).Msg("capture metadata unreadable")
			}

			opts := make([]batch.PageOption, 0, 4)
			for k, v := range c.Labels() {
				opts = append(opts, batch.WithLabel(k, v))
			}
			if _, err := pipeline.AddPage(c.Buffer, opts...); err != nil {
				c.Buffer.Release()
				return err
			}
			inputBytes += c.Size
			return nil
		})
		if err == nil {
			err = waitForBatch(ctx, pipeline)
		}

		unsubscribe()
		<-uiDone

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("ingest interrupted")
			}
			return err
		}

		completed := pipeline.CompletedPages()
		exported, err := capture.Export(ctx, completed, capture.ExportOptions{
			Dir:          ingestOutputDir,
			Prefix:       ingestPrefix,
			KeepMetadata: ingestKeepMetadata,
			PreserveICC:  ingestPreserveICC,
			Parallel:     cfg.Pipeline.Workers,
		})
		if err != nil {
			return err
		}

		printIngestSummary(pipeline, completed, exported, skipped, inputBytes)
		return nil
	},
}

// waitForBatch returns once every page finished. Wait also returns while the
// pipeline is paused from the progress view, so keep waiting until resumed.
func waitForBatch(ctx context.Context, pipeline *batch.Pipeline) error {
	for {
		if err := pipeline.Wait(ctx); err != nil {
			return err
		}
		if !pipeline.Paused() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func printIngestSummary(pipeline *batch.Pipeline, completed []batch.CompletedPage, exported []capture.Exported, skipped []string, inputBytes int64) {
	summary := pipeline.Summary()
	progress := pipeline.Progress()

	var outputBytes int64
	for _, exp := range exported {
		outputBytes += exp.Bytes
	}
	var quality float64
	for _, pg := range completed {
		quality += pg.QualityScore
	}
	if len(completed) > 0 {
		quality /= float64(len(completed))
	}

	failed, failedTone := tui.Count(summary.Failed)
	skip, skipTone := tui.Count(len(skipped))
	rows := []tui.SummaryRow{
		{Label: "Pages processed", Value: fmt.Sprintf("%d", summary.Total)},
		{Label: "Completed", Value: fmt.Sprintf("%d", summary.Completed), Tone: tui.ToneGood},
		{Label: "Failed", Value: failed, Tone: failedTone},
		{Label: "Files skipped", Value: skip, Tone: skipTone},
		{Label: "Input size", Value: tui.Bytes(inputBytes)},
		{Label: "Output size", Value: tui.Bytes(outputBytes)},
		{Label: "Mean quality", Value: fmt.Sprintf("%.3f", quality)},
		{Label: "Elapsed", Value: progress.Elapsed.Round(time.Millisecond).String()},
	}
	fmt.Fprintln(os.Stdout, tui.RenderSummary("scanbatch", rows))

	for _, f := range summary.Failures {
		fmt.Fprintf(os.Stdout, "  %s page %d: %s\n", ingestErrStyle.Render("x"), f.Sequence, f.Message)
	}
	for _, name := range skipped {
		fmt.Fprintf(os.Stdout, "  %s %s\n", ingestWarnStyle.Render("-"), name)
	}

	outPath := ingestOutputDir
	if abs, err := filepath.Abs(ingestOutputDir); err == nil {
		outPath = abs
	}
	fmt.Fprintf(os.Stdout, "Pages written to: %s\n", outPath)
}

var (
	ingestErrStyle  = lipgloss.NewStyle().Foreground(tui.ColorError).Bold(true)
	ingestWarnStyle = lipgloss.NewStyle().Foreground(tui.ColorWarn)
)

func init() {
	f := ingestCmd.Flags()
	f.StringVarP(&ingestOutputDir, "output", "o", "scanbatch-out", "destination folder for processed pages")
	f.StringVar(&ingestPrefix, "prefix", "page", "file name prefix for exported pages")
	f.IntVarP(&ingestTargetKB, "target-kb", "t", 500, "target size per page in KB")
	f.IntVarP(&ingestWorkers, "workers", "w", batch.DefaultWorkers, "worker pool size")
	f.IntVar(&ingestMaxInFlight, "max-in-flight", batch.DefaultWorkers, "pages processed at once")
	f.BoolVarP(&ingestAggressive, "aggressive", "a", false, "trade quality for smaller pages")
	f.BoolVar(&ingestKeepMetadata, "keep-metadata", false, "keep EXIF/XMP/text metadata in exported pages")
	f.BoolVar(&ingestPreserveICC, "preserve-icc", false, "keep ICC colour profiles when stripping metadata")
	f.BoolVar(&ingestNoOrient, "no-orient", false, "ignore EXIF orientation")
	f.BoolVar(&ingestNoTUI, "no-tui", false, "disable the progress view and log to stderr")

	rootCmd.AddCommand(ingestCmd)
}
