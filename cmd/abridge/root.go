package main

import (
	"github.com/spf13/cobra"

	"github.com/abridge/abridge/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "abridge",
	Short: "AI-powered book condensation pipeline",
	Long: `Abridge turns a PDF book into a shorter, condensed PDF.

The pipeline:
  - Validates the uploaded PDF and extracts its text
  - Identifies title and author
  - Segments the book into chapters, marking front/back matter
  - Condenses each substantive chapter with an AI model, in parallel
  - Renders and reassembles the condensed chapters into one PDF
    with a bookmark per chapter

Compression levels: light (~30% shorter), medium (~50%), heavy (~70%).`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.abridge/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}
