package doc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/abridge/abridge/internal/book"
)

// AssemblyInput is one completed chapter document, in original chapter order.
type AssemblyInput struct {
	Title string
	Data  []byte
}

// Assemble concatenates completed chapter documents into the final
// output and stamps title, author, and a bookmark per chapter as the
// table of contents. Chapter order is the original segmentation order,
// never completion order.
func Assemble(inputs []AssemblyInput, job *book.Job) ([]byte, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("job %s: %w", job.ID, book.ErrNothingToAssemble)
	}

	// Bookmark targets are cumulative page offsets across the inputs.
	bookmarks := make([]pdfcpu.Bookmark, 0, len(inputs))
	readers := make([]io.ReadSeeker, 0, len(inputs))
	pageOffset := 0
	for _, in := range inputs {
		count, err := api.PageCount(bytes.NewReader(in.Data), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count pages for chapter %q: %w", in.Title, err)
		}
		bookmarks = append(bookmarks, pdfcpu.Bookmark{
			Title:    in.Title,
			PageFrom: pageOffset + 1,
			PageThru: pageOffset + count,
		})
		pageOffset += count
		readers = append(readers, bytes.NewReader(in.Data))
	}

	var merged bytes.Buffer
	if err := api.MergeRaw(readers, &merged, false, nil); err != nil {
		return nil, fmt.Errorf("failed to merge chapter documents: %w", err)
	}

	var withToc bytes.Buffer
	if err := api.AddBookmarks(bytes.NewReader(merged.Bytes()), &withToc, bookmarks, true, nil); err != nil {
		return nil, fmt.Errorf("failed to add table of contents: %w", err)
	}

	title := fmt.Sprintf("%s (Condensed - %s)", job.Title, job.Level)
	if job.Title == "" {
		title = fmt.Sprintf("Condensed - %s", job.Level)
	}
	return stampMetadata(withToc.Bytes(), Metadata{Title: title, Author: job.Author})
}
