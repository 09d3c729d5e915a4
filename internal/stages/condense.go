package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/prompts/condense"
)

// CondenseRequest is the input for condensing one chapter.
// Produced and consumed within the condensation unit; never persisted.
type CondenseRequest struct {
	Text         string
	Level        book.Level
	BookTitle    string
	Author       string
	ChapterTitle string
}

// Condenser rewrites one chapter's text at the requested compression
// level.
type Condenser struct {
	cfg Config
}

// NewCondenser creates a chapter condenser.
func NewCondenser(cfg Config) *Condenser {
	cfg.defaults()
	return &Condenser{cfg: cfg}
}

// Condense returns the condensed markdown text for one chapter.
// The level's percentage target is directional guidance to the model;
// output is never rejected for missing an exact ratio.
//
// Callers treat failure here as degradable: the chapter is skipped and
// the job continues.
func (c *Condenser) Condense(ctx context.Context, req CondenseRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", fmt.Errorf("chapter %q has no extractable text: %w", req.ChapterTitle, book.ErrChapterEmpty)
	}

	prompt := condense.UserPrompt(condense.PromptInput{
		Level:        req.Level,
		BookTitle:    req.BookTitle,
		Author:       req.Author,
		ChapterTitle: req.ChapterTitle,
		Text:         req.Text,
	})

	result, err := llm.CompleteWithRetry(ctx, c.cfg.Client, c.cfg.request(condense.SystemPrompt(), prompt), c.cfg.Policy, c.cfg.Logger)
	if err != nil {
		return "", fmt.Errorf("condensation call failed for %q: %w", req.ChapterTitle, err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", fmt.Errorf("empty condensation for %q: %w", req.ChapterTitle, book.ErrAIResponseMalformed)
	}

	c.cfg.Logger.Debug("chapter condensed",
		"chapter", req.ChapterTitle,
		"level", req.Level,
		"in_chars", len(req.Text),
		"out_chars", len(text),
		"attempts", result.Attempts,
		"latency_ms", result.Latency.Milliseconds())
	return text, nil
}
