package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/extract"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/prompts/segment"
)

// Segmenter maps extracted book text to an ordered chapter list.
type Segmenter struct {
	cfg          Config
	ExcerptChars int
}

// NewSegmenter creates a chapter segmenter.
func NewSegmenter(cfg Config, excerptChars int) *Segmenter {
	cfg.defaults()
	if excerptChars <= 0 {
		excerptChars = 8000
	}
	return &Segmenter{cfg: cfg, ExcerptChars: excerptChars}
}

// Segment returns the ordered chapter list for a book. Page numbers
// from the model are approximate and clamped to [1, totalPages].
// Essential chapters start pending; non-essential chapters start
// skipped and never enter the condensation fan-out.
//
// Failure here is fatal for the job: with no chapters known there is
// nothing to condense.
func (s *Segmenter) Segment(ctx context.Context, text string, totalPages int) ([]book.Chapter, error) {
	excerpt := text
	if len(excerpt) > s.ExcerptChars {
		excerpt = excerpt[:s.ExcerptChars]
	}

	req := s.cfg.request(segment.SystemPrompt(), segment.UserPrompt(excerpt, totalPages))
	result, err := llm.CompleteWithRetry(ctx, s.cfg.Client, req, s.cfg.Policy, s.cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("segmentation call failed: %w", err)
	}

	raw, err := extract.Array(result.Text)
	if err != nil {
		return nil, fmt.Errorf("segmentation response: %w", err)
	}
	if err := extract.Validate(segment.Schema, raw); err != nil {
		return nil, fmt.Errorf("segmentation response: %w", err)
	}

	var spans []struct {
		Title       string `json:"title"`
		StartPage   int    `json:"startPage"`
		EndPage     int    `json:"endPage"`
		IsEssential bool   `json:"isEssential"`
	}
	if err := json.Unmarshal(raw, &spans); err != nil {
		return nil, fmt.Errorf("segmentation response: %v: %w", err, book.ErrAIResponseMalformed)
	}

	chapters := make([]book.Chapter, 0, len(spans))
	for i, span := range spans {
		start, end := span.StartPage, span.EndPage
		if start < 1 {
			start = 1
		}
		if end > totalPages {
			end = totalPages
		}

		status := book.ChapterPending
		if !span.IsEssential {
			status = book.ChapterSkipped
		}

		chapters = append(chapters, book.Chapter{
			ID:        uuid.New().String(),
			Index:     i,
			Title:     span.Title,
			StartPage: start,
			EndPage:   end,
			Essential: span.IsEssential,
			Status:    status,
		})
	}

	s.cfg.Logger.Info("book segmented",
		"chapters", len(chapters),
		"essential", countEssential(chapters),
		"attempts", result.Attempts)
	return chapters, nil
}

func countEssential(chapters []book.Chapter) int {
	n := 0
	for _, ch := range chapters {
		if ch.Essential {
			n++
		}
	}
	return n
}
