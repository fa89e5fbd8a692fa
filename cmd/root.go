// Package cmd defines the CLI commands for the scraper executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coachscout/jobs-crawler/internal/config"
	"github.com/coachscout/jobs-crawler/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs-crawler",
		Short: "Cost-aware district job posting scraper",
		Long: `jobs-crawler screenshots school district career pages, routes each
capture through an escalating chain of OCR tiers, and hands the stubborn
pages off to an agent. Fingerprints of past visits keep unchanged pages
from costing anything at all.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	metrics.Init()
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
