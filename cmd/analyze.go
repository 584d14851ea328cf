package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scanbatch/internal/capture"
	"scanbatch/internal/compress"
	"scanbatch/internal/tui"
)

var analyzeEstimate bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>",
	Short: "Classify pages and show the compression strategy without writing files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := capture.Discover(args[0], "")
		if err != nil {
			return err
		}
		settings := appConfig.Compression

		logger, closeLog, err := newLogger(false)
		if err != nil {
			return err
		}
		defer closeLog()

		for i, src := range sources {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			fmt.Fprintf(os.Stdout, "%s\n", analyzeFileStyle.Render(src.Display))

			c, err := capture.Open(src, true)
			if err != nil {
				logger.Warn().Err(err).Str("source", src.Display).Msg("cannot open page")
				printField("error", analyzeErrStyle.Render(err.Error()))
				continue
			}
			if err := describe(cmd.Context(), c, settings); err != nil {
				printField("error", analyzeErrStyle.Render(err.Error()))
			}
			c.Buffer.Release()
		}
		return nil
	},
}

func describe(ctx context.Context, c capture.Capture, settings compress.Settings) error {
	if c.Info.Device != "" {
		printField("device", c.Info.Device)
	}
	if c.Info.Captured != "" {
		printField("captured", c.Info.Captured)
	}
	b := c.Buffer.Bounds()
	printField("size", fmt.Sprintf("%dx%d, %s", b.Dx(), b.Dy(), tui.Bytes(int64(c.Buffer.Size()))))

	analysis, err := compress.Analyze(c.Buffer)
	if err != nil {
		return err
	}
	printField("content", analysis.ContentType.String())
	printField("ratios", fmt.Sprintf("text %.2f  image %.2f  background %.2f  complexity %.1f",
		analysis.TextRatio, analysis.ImageRatio, analysis.BackgroundRatio, analysis.Complexity))

	strategy := compress.SelectStrategy(analysis, settings)
	printField("strategy", fmt.Sprintf("%s, resize %.2f, quality %d, sharpen %t",
		strategy.TargetFormat, strategy.ResizeRatio, strategy.EncodeQuality, strategy.PreserveSharpness))

	if !analyzeEstimate {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := compress.Compress(ctx, c.Buffer, analysis, strategy, settings)
	if err != nil {
		return err
	}
	defer res.Buffer.Release()
	printField("estimate", fmt.Sprintf("%s -> %s in %d pass(es), quality %.3f",
		tui.Bytes(int64(res.OriginalSize)), tui.Bytes(int64(res.CompressedSize)), res.Iterations, res.QualityScore))
	return nil
}

func printField(name, value string) {
	fmt.Fprintf(os.Stdout, "  %s %s\n", analyzeFieldStyle.Render(fmt.Sprintf("%-9s", name+":")), analyzeValueStyle.Render(value))
}

var (
	analyzeFileStyle  = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	analyzeFieldStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	analyzeValueStyle = lipgloss.NewStyle().Foreground(tui.ColorInk)
	analyzeErrStyle   = lipgloss.NewStyle().Foreground(tui.ColorError)
)

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeEstimate, "estimate", "e", false, "run compression in memory and report the result")
	rootCmd.AddCommand(analyzeCmd)
}
