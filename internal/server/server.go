// Package server exposes the condensation pipeline over HTTP: upload,
// status, cancel, download, and a WebSocket progress feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/orchestrate"
	"github.com/abridge/abridge/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// MaxUploadBytes caps the accepted upload size.
	MaxUploadBytes int64
	// Orchestrator runs the pipeline for uploaded documents.
	Orchestrator *orchestrate.Orchestrator
	// Dispatcher executes pipeline units.
	Dispatcher *orchestrate.Dispatcher
	// Store is the job record store.
	Store store.Store
	// Blobs serves final document downloads.
	Blobs blob.Store
	// Hub pushes progress events to WebSocket clients.
	Hub *notify.Hub
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Server is the abridge HTTP server. It owns the dispatcher lifecycle:
// workers start when the server starts and drain on shutdown.
type Server struct {
	httpServer *http.Server
	orch       *orchestrate.Orchestrator
	dispatcher *orchestrate.Dispatcher
	store      store.Store
	blobs      blob.Store
	hub        *notify.Hub
	logger     *slog.Logger

	maxUploadBytes int64

	mu      sync.RWMutex
	running bool
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Orchestrator == nil || cfg.Dispatcher == nil || cfg.Store == nil || cfg.Blobs == nil {
		return nil, errors.New("orchestrator, dispatcher, store, and blob store are required")
	}

	s := &Server{
		orch:           cfg.Orchestrator,
		dispatcher:     cfg.Dispatcher,
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		hub:            cfg.Hub,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute, // large uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// routes registers all HTTP routes on the mux.
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/jobs", s.handleUpload)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/jobs/{id}/download", s.handleDownload)
	if s.hub != nil {
		mux.HandleFunc("GET /api/events", s.hub.ServeWS)
	}
}

// Start starts the dispatcher workers and the HTTP server. It blocks
// until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.dispatcher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	s.shutdown()
	return nil
}

// shutdown drains the HTTP server and stops the dispatcher.
func (s *Server) shutdown() {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	s.dispatcher.Stop()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
