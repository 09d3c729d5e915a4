package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abridge/abridge/internal/config"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the abridge server",
	Long: `Start the abridge HTTP server.

The server provides:
  - POST /api/jobs                 - Upload a PDF and queue condensation
  - GET  /api/jobs/{id}            - Job status, progress, and chapters
  - POST /api/jobs/{id}/cancel     - Request cancellation
  - GET  /api/jobs/{id}/download   - Download the condensed book
  - GET  /api/events               - WebSocket progress feed
  - GET  /health                   - Health check

Examples:
  abridge serve                    # Start on default port 8080
  abridge serve --port 3000        # Start on custom port
  abridge serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()
		cfg := cm.Get()

		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != "" {
			cfg.Server.Port = servePort
		}

		hub := notify.NewHub(logger)
		notifier := notify.Multi{hub, &notify.LogNotifier{Logger: logger}}

		p, err := buildPipeline(ctx, cfg, nil, notifier, logger)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			MaxUploadBytes: cfg.Pipeline.MaxDocumentBytes,
			Orchestrator:   p.orch,
			Dispatcher:     p.dispatcher,
			Store:          p.store,
			Blobs:          p.blobs,
			Hub:            hub,
			Logger:         logger,
		})
		if err != nil {
			return err
		}

		// Blocks until shutdown.
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
