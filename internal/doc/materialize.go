package doc

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/abridge/abridge/internal/book"
)

// ClampSpan clamps a chapter span to document bounds.
// Segmenter page numbers are approximate; out-of-range values are
// pulled in rather than rejected.
func ClampSpan(startPage, endPage, totalPages int) (int, int) {
	start := startPage
	if start < 1 {
		start = 1
	}
	end := endPage
	if end > totalPages {
		end = totalPages
	}
	return start, end
}

// MaterializeChapter copies one chapter's page range out of the source
// document into a new standalone PDF. Page content is copied losslessly,
// not rasterized. Materializing the same span twice yields identical bytes.
func MaterializeChapter(src []byte, totalPages, startPage, endPage int) ([]byte, error) {
	start, end := ClampSpan(startPage, endPage, totalPages)
	if start > end {
		return nil, fmt.Errorf("pages %d-%d of %d: %w", startPage, endPage, totalPages, book.ErrPageRangeInvalid)
	}

	var buf bytes.Buffer
	selected := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.Trim(bytes.NewReader(src), &buf, selected, nil); err != nil {
		return nil, fmt.Errorf("failed to slice pages %d-%d: %w", start, end, err)
	}
	return normalizeDocument(buf.Bytes()), nil
}
