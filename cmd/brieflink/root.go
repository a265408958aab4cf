package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/home"
	"github.com/jackzampolin/brieflink/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "brieflink",
	Short: "OCR pipeline and reference linker for legal briefs",
	Long: `brieflink turns scanned legal PDFs into searchable page text and links
the references in briefs (Tab 7, Exhibit A, TR p. 212) to the trial record
pages they cite.

The pipeline includes:
  - Batched OCR across pluggable engines, with low-confidence re-renders
  - Ingestion of async engine result bundles (notification or polling)
  - Index extraction from the first pages of each document
  - Deterministic arbitration with a human review queue and overrides`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.brieflink/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "brieflink home directory (default: ~/.brieflink)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// configPath is --config, or the home config file when it exists.
func configPath(h *home.Dir) string {
	if cfgFile != "" {
		return cfgFile
	}
	if h.ConfigExists() {
		return h.ConfigPath()
	}
	return ""
}
