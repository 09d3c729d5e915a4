// Package testutil builds small PDF fixtures for pipeline tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDF builds a PDF with one page per entry in pageTexts. Each page
// carries its text as a single body block so text extraction has
// something to find.
func PDF(t *testing.T, pageTexts ...string) []byte {
	t.Helper()
	if len(pageTexts) == 0 {
		t.Fatal("PDF fixture needs at least one page")
	}

	type textElem struct {
		Value    string     `json:"value"`
		Position [2]float64 `json:"position"`
		Font     struct {
			Name string `json:"name"`
			Size int    `json:"size"`
		} `json:"font"`
	}
	type page struct {
		Content struct {
			Text []textElem `json:"text"`
		} `json:"content"`
	}

	pages := make(map[string]page, len(pageTexts))
	for i, text := range pageTexts {
		var el textElem
		el.Value = text
		el.Position = [2]float64{72, 720}
		el.Font.Name = "Helvetica"
		el.Font.Size = 12

		var p page
		p.Content.Text = []textElem{el}
		pages[fmt.Sprintf("%d", i+1)] = p
	}

	docJSON, err := json.Marshal(map[string]any{
		"paper": "A4",
		"pages": pages,
	})
	if err != nil {
		t.Fatalf("failed to marshal fixture description: %v", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(docJSON), &buf, nil); err != nil {
		t.Fatalf("failed to build fixture PDF: %v", err)
	}
	return buf.Bytes()
}

// BookPages generates page texts for an n-page book with a title page
// followed by numbered content pages. Useful where the page content
// itself doesn't matter.
func BookPages(title string, n int) []string {
	pages := make([]string, 0, n)
	pages = append(pages, title)
	for i := 2; i <= n; i++ {
		pages = append(pages, fmt.Sprintf("Page %d. %s", i, strings.Repeat("Words on the page. ", 10)))
	}
	return pages
}
