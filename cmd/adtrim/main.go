package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"adtrim/internal/proxy"
)

var (
	logLevel string
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adtrim",
	Short: "Strip ads from classifieds pages and enrich listing cards",
	Long: `adtrim removes advertisement blocks from marketplace pages, restyles the
layout around the freed space and enriches every listing card with data from
its detail page.

Use "serve" to run it as a viewing proxy or "rewrite" to process one page.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			level = os.Getenv("ADTRIM_LOG_LEVEL")
		}
		var err error
		logger, err = proxy.NewLogger(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to $ADTRIM_LOG_LEVEL")
	rootCmd.AddCommand(serveCmd, rewriteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
