package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"scanbatch/internal/config"
	"scanbatch/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scanbatch",
	Short: "scanbatch - batch page ingestion with content-adaptive compression",
	Long: "scanbatch ingests scanned or photographed pages, classifies each one as text, photo, " +
		"document or mixed content, and compresses it toward a target size on a bounded worker pool.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		appConfig = cfg
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the command logger. While the progress view owns the
// terminal, logs only go to --log-file.
func newLogger(interactive bool) (zerolog.Logger, func(), error) {
	cfg := appConfig.Log
	closeFn := func() {}

	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, err
		}
		cfg.Output = f
		closeFn = func() { _ = f.Close() }
	case interactive:
		cfg.Output = io.Discard
	}
	return logging.New(cfg), closeFn, nil
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" when present)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&logFile, "log-file", "", "append logs to this file")
}
