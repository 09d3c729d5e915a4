package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/config"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/orchestrate"
)

var (
	condenseLevel  string
	condenseOutput string
)

var condenseCmd = &cobra.Command{
	Use:   "condense <book.pdf>",
	Short: "Condense a PDF book locally",
	Long: `Run the full condensation pipeline on a local PDF without a server.

Job state is kept in memory and artifacts in a temporary directory;
only the final condensed PDF is written to the output path.

Examples:
  abridge condense book.pdf
  abridge condense book.pdf --level heavy -o short.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		input := args[0]

		level, err := book.ParseLevel(condenseLevel)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()
		cfg.Database.URL = "" // one-shot runs always use the in-memory store

		workDir, err := os.MkdirTemp("", "abridge-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)

		blobs, err := blob.NewFS(workDir)
		if err != nil {
			return err
		}

		p, err := buildPipeline(ctx, cfg, blobs, &notify.LogNotifier{Logger: logger}, logger)
		if err != nil {
			return err
		}
		p.dispatcher.Start(ctx)
		defer p.dispatcher.Stop()

		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", input, err)
		}

		job, err := p.orch.CreateJob(ctx, data, level)
		if err != nil {
			return err
		}
		if err := p.dispatcher.Submit(orchestrate.Unit{Kind: orchestrate.UnitProcessJob, JobID: job.ID}); err != nil {
			return err
		}

		// Poll until the job settles; progress goes to the log notifier.
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			current, err := p.store.Get(ctx, job.ID)
			if err != nil {
				return err
			}
			if !current.Status.Terminal() {
				continue
			}
			if current.Status == book.JobFailed {
				return fmt.Errorf("condensation failed: %s (%s)", current.Step, current.ErrorDetail)
			}

			output, err := p.blobs.Get(ctx, current.OutputKey)
			if err != nil {
				return err
			}
			outPath := condenseOutput
			if outPath == "" {
				base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
				outPath = base + "-condensed.pdf"
			}
			if err := os.WriteFile(outPath, output, 0644); err != nil {
				return err
			}
			fmt.Printf("Condensed book written to %s\n", outPath)
			return nil
		}
	},
}

func init() {
	condenseCmd.Flags().StringVar(&condenseLevel, "level", "medium", "Compression level: light, medium, or heavy")
	condenseCmd.Flags().StringVarP(&condenseOutput, "output", "o", "", "Output path (default: <input>-condensed.pdf)")

	rootCmd.AddCommand(condenseCmd)
}
