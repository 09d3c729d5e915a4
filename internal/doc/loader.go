// Package doc provides the PDF manipulation stages of the pipeline:
// loading/validation, chapter materialization, text rendering, and
// final assembly. No stage here touches the network.
package doc

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/abridge/abridge/internal/book"
)

const pdfMagic = "%PDF"

// Document is a validated source PDF with its extracted text.
type Document struct {
	Bytes     []byte
	Text      string
	PageCount int
}

// LoaderConfig configures document validation limits.
type LoaderConfig struct {
	// MinBytes rejects inputs too small to be real documents (default 1KB).
	MinBytes int64
	// MaxBytes rejects oversized inputs (default 100MB).
	MaxBytes int64
	Logger   *slog.Logger
}

// Loader validates PDF bytes and extracts text and page count.
type Loader struct {
	minBytes int64
	maxBytes int64
	logger   *slog.Logger
}

// NewLoader creates a new document loader.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1024
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 * 1024 * 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		minBytes: cfg.MinBytes,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Load validates the raw bytes and extracts plain text and page count.
// Text extraction is best-effort: scanned/image-only PDFs yield
// near-empty text, which callers detect downstream.
func (l *Loader) Load(data []byte) (*Document, error) {
	if int64(len(data)) < l.minBytes {
		return nil, fmt.Errorf("document too small (%d bytes): %w", len(data), book.ErrInvalidDocument)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("document too large (%d bytes, max %d): %w", len(data), l.maxBytes, book.ErrInvalidDocument)
	}
	if !bytes.HasPrefix(data, []byte(pdfMagic)) {
		return nil, fmt.Errorf("missing %%PDF header: %w", book.ErrInvalidDocument)
	}

	pageCount, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to determine page count: %w", book.ErrUnsupportedDocument)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("document has zero pages: %w", book.ErrUnsupportedDocument)
	}

	text := l.ExtractText(data)
	l.logger.Debug("document loaded", "pages", pageCount, "text_chars", len(text))

	return &Document{
		Bytes:     data,
		Text:      text,
		PageCount: pageCount,
	}, nil
}

// ExtractText pulls plain text from every readable page.
// Pages that fail to decode are skipped.
func (l *Loader) ExtractText(data []byte) string {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		l.logger.Warn("text extraction unavailable", "error", err)
		return ""
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Debug("page text extraction failed", "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Excerpt returns the first n characters of the document text.
// Used to bound prompt sizes for metadata and segmentation calls.
func (d *Document) Excerpt(n int) string {
	if n <= 0 || len(d.Text) <= n {
		return d.Text
	}
	return d.Text[:n]
}
