package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/config"
	"github.com/abridge/abridge/internal/doc"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/orchestrate"
	"github.com/abridge/abridge/internal/stages"
	"github.com/abridge/abridge/internal/store"
)

// pipeline bundles everything a command needs to run jobs.
type pipeline struct {
	store      store.Store
	blobs      blob.Store
	orch       *orchestrate.Orchestrator
	dispatcher *orchestrate.Dispatcher
}

// buildPipeline wires the full stack from configuration. The store and
// blob backends are selected by config: an empty database URL picks
// the in-memory store, blobs defaulting to MinIO unless overridden.
func buildPipeline(ctx context.Context, cfg *config.Config, blobs blob.Store, notifier notify.Notifier, logger *slog.Logger) (*pipeline, error) {
	var jobs store.Store
	if cfg.Database.URL == "" {
		logger.Info("no database configured, using in-memory job store")
		jobs = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, config.ResolveEnvVars(cfg.Database.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		jobs = pg
	}

	if blobs == nil {
		m, err := blob.NewMinio(blob.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: config.ResolveEnvVars(cfg.Storage.AccessKey),
			SecretKey: config.ResolveEnvVars(cfg.Storage.SecretKey),
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blob store: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		blobs = m
	}

	client := llm.NewOpenRouterClient(llm.OpenRouterConfig{
		APIKey:       config.ResolveEnvVars(cfg.AI.APIKey),
		BaseURL:      cfg.AI.BaseURL,
		DefaultModel: cfg.AI.Model,
		Timeout:      time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	})
	policy := llm.RetryPolicy{
		Attempts: uint(cfg.AI.MaxRetries),
		Delay:    time.Duration(cfg.AI.RetryDelayMs) * time.Millisecond,
		MaxDelay: 8 * time.Second,
	}
	stageCfg := stages.Config{
		Client: client,
		Policy: policy,
		Params: stages.GenParams{
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		},
		Logger: logger,
	}

	loader := doc.NewLoader(doc.LoaderConfig{
		MinBytes: cfg.Pipeline.MinDocumentBytes,
		MaxBytes: cfg.Pipeline.MaxDocumentBytes,
		Logger:   logger,
	})

	orch := orchestrate.New(orchestrate.Config{
		Store:    jobs,
		Blobs:    blobs,
		Loader:   loader,
		Metadata: stages.NewMetadataExtractor(stageCfg, cfg.Pipeline.MetadataExcerptChars),
		Segment:  stages.NewSegmenter(stageCfg, cfg.Pipeline.SegmentExcerptChars),
		Condense: stages.NewCondenser(stageCfg),
		Notifier: notifier,
		Logger:   logger,
	})
	dispatcher := orchestrate.NewDispatcher(orch, cfg.Pipeline.MaxConcurrentChapters, logger)

	return &pipeline{
		store:      jobs,
		blobs:      blobs,
		orch:       orch,
		dispatcher: dispatcher,
	}, nil
}
