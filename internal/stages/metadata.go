package stages

import (
	"context"
	"encoding/json"

	"github.com/abridge/abridge/internal/extract"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/prompts/metadata"
)

// Metadata is the inferred bibliographic data for a book.
type Metadata struct {
	Title  string
	Author string
}

// MetadataExtractor infers title and author from extracted book text.
type MetadataExtractor struct {
	cfg          Config
	ExcerptChars int
}

// NewMetadataExtractor creates a metadata extractor.
// excerptChars bounds how much text is sent to the model (cost control).
func NewMetadataExtractor(cfg Config, excerptChars int) *MetadataExtractor {
	cfg.defaults()
	if excerptChars <= 0 {
		excerptChars = 3000
	}
	return &MetadataExtractor{cfg: cfg, ExcerptChars: excerptChars}
}

// Extract returns best-effort metadata. Title and author are cosmetic:
// on any AI or parse failure this returns empty metadata and the job
// proceeds.
func (e *MetadataExtractor) Extract(ctx context.Context, text string) Metadata {
	excerpt := text
	if len(excerpt) > e.ExcerptChars {
		excerpt = excerpt[:e.ExcerptChars]
	}

	req := e.cfg.request(metadata.SystemPrompt(), metadata.UserPrompt(excerpt))
	result, err := llm.CompleteWithRetry(ctx, e.cfg.Client, req, e.cfg.Policy, e.cfg.Logger)
	if err != nil {
		e.cfg.Logger.Warn("metadata extraction failed, proceeding without metadata", "error", err)
		return Metadata{}
	}

	raw, err := extract.Object(result.Text)
	if err != nil {
		e.cfg.Logger.Warn("metadata response unparseable, proceeding without metadata", "error", err)
		return Metadata{}
	}
	if err := extract.Validate(metadata.Schema, raw); err != nil {
		e.cfg.Logger.Warn("metadata response rejected, proceeding without metadata", "error", err)
		return Metadata{}
	}

	var parsed struct {
		Title  *string `json:"title"`
		Author *string `json:"author"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Metadata{}
	}

	var md Metadata
	if parsed.Title != nil {
		md.Title = *parsed.Title
	}
	if parsed.Author != nil {
		md.Author = *parsed.Author
	}
	e.cfg.Logger.Debug("metadata extracted",
		"title", md.Title, "author", md.Author,
		"attempts", result.Attempts, "latency_ms", result.Latency.Milliseconds())
	return md
}
