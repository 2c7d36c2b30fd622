package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrworker/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ocrworker",
	Short: "OCR worker producing searchable document versions",
	Long: `ocrworker turns the latest version of a document into a new version
with a text layer, per-page text and previews.

Each run fetches the source once, OCRs every page in parallel, stitches
the pages back into one PDF, commits the new version and notifies the
preview and index workers.`,
	Version:      buildVersion(),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./ocrworker.yaml or ~/.ocrworker/ocrworker.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and installs the JSON logger as default.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
