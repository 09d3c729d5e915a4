package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Page geometry for rendered chapters (A4, points, safe printable margin).
const (
	pageWidth    = 595.0
	pageHeight   = 842.0
	pageMargin   = 72.0
	bodyFontSize = 11
	bodyLeading  = 14.0
	headFontSize = 14
	headLeading  = 22.0
	wrapColumns  = 88
)

// Metadata is the document-level metadata stamped on rendered artifacts.
type Metadata struct {
	Title  string
	Author string
}

// pdfcpu create-from-JSON document description.
type createDoc struct {
	Paper string                `json:"paper"`
	Pages map[string]createPage `json:"pages"`
}

type createPage struct {
	Content createContent `json:"content"`
}

type createContent struct {
	Text []textElement `json:"text"`
}

type textElement struct {
	Value    string     `json:"value"`
	Position [2]float64 `json:"position"`
	Font     fontSpec   `json:"font"`
}

type fontSpec struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// renderLine is one laid-out line of output.
type renderLine struct {
	text    string
	heading bool
}

// RenderChapter converts condensed markdown text into a standalone PDF
// with the chapter title as a leading heading. The produced document
// carries title "{book title} - {chapter title} (Condensed)" and author.
func RenderChapter(text, chapterTitle string, meta Metadata) ([]byte, error) {
	lines := layoutText(chapterTitle, text)
	if len(lines) == 0 {
		lines = []renderLine{{text: chapterTitle, heading: true}}
	}

	docJSON, err := json.Marshal(buildCreateDoc(lines))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page description: %w", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(docJSON), &buf, nil); err != nil {
		return nil, fmt.Errorf("failed to render pages: %w", err)
	}

	title := chapterTitle
	if meta.Title != "" {
		title = fmt.Sprintf("%s - %s (Condensed)", meta.Title, chapterTitle)
	}
	return stampMetadata(buf.Bytes(), Metadata{Title: title, Author: meta.Author})
}

// stampMetadata sets document info properties on a rendered artifact.
func stampMetadata(data []byte, meta Metadata) ([]byte, error) {
	props := map[string]string{}
	if meta.Title != "" {
		props["Title"] = meta.Title
	}
	if meta.Author != "" {
		props["Author"] = meta.Author
	}
	if len(props) == 0 {
		return normalizeDocument(data), nil
	}

	var buf bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(data), &buf, props, nil); err != nil {
		return nil, fmt.Errorf("failed to set document metadata: %w", err)
	}
	return normalizeDocument(buf.Bytes()), nil
}

// layoutText converts markdown-ish condensed text into wrapped lines,
// with the chapter title prepended as a heading.
func layoutText(chapterTitle, text string) []renderLine {
	var lines []renderLine
	if chapterTitle != "" {
		lines = append(lines, renderLine{text: chapterTitle, heading: true})
		lines = append(lines, renderLine{})
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			lines = append(lines, renderLine{})
			continue
		}

		if heading, ok := stripHeading(trimmed); ok {
			for _, wrapped := range wrap(heading, wrapColumns) {
				lines = append(lines, renderLine{text: wrapped, heading: true})
			}
			continue
		}

		for _, wrapped := range wrap(stripInlineMarkdown(trimmed), wrapColumns) {
			lines = append(lines, renderLine{text: wrapped})
		}
	}
	return lines
}

// stripHeading returns the heading text for markdown "# ..." lines.
func stripHeading(line string) (string, bool) {
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	stripped := strings.TrimLeft(line, "#")
	if stripped == line {
		return "", false
	}
	return strings.TrimSpace(stripped), true
}

// stripInlineMarkdown removes the most common inline markers the model
// emits. Output is plain text; full markdown rendering is not a goal.
func stripInlineMarkdown(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, "`", "")
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		line = "• " + line[2:]
	}
	return line
}

// wrap splits a line into chunks of at most width characters on word
// boundaries. Words longer than width are hard-split.
func wrap(line string, width int) []string {
	if len(line) <= width {
		return []string{line}
	}

	var out []string
	var cur strings.Builder
	for _, word := range strings.Fields(line) {
		for len(word) > width {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, word[:width])
			word = word[width:]
		}
		if cur.Len() == 0 {
			cur.WriteString(word)
			continue
		}
		if cur.Len()+1+len(word) > width {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(word)
			continue
		}
		cur.WriteString(" ")
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// buildCreateDoc paginates lines onto fixed-size pages, grouping
// consecutive same-style lines into one text element per block.
func buildCreateDoc(lines []renderLine) createDoc {
	pages := make(map[string]createPage)
	pageNum := 1
	y := pageHeight - pageMargin
	var elems []textElement

	flushPage := func() {
		pages[fmt.Sprintf("%d", pageNum)] = createPage{Content: createContent{Text: elems}}
		pageNum++
		y = pageHeight - pageMargin
		elems = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		// Blank line: just consume vertical space.
		if line.text == "" {
			y -= bodyLeading
			if y < pageMargin {
				flushPage()
			}
			i++
			continue
		}

		leading := bodyLeading
		font := fontSpec{Name: "Helvetica", Size: bodyFontSize}
		if line.heading {
			leading = headLeading
			font = fontSpec{Name: "Helvetica-Bold", Size: headFontSize}
		}

		if y-leading < pageMargin {
			flushPage()
		}

		// Collect the run of lines with the same style.
		j := i
		var block []string
		blockTop := y
		for j < len(lines) && lines[j].text != "" && lines[j].heading == line.heading {
			if y-leading < pageMargin {
				break
			}
			block = append(block, lines[j].text)
			y -= leading
			j++
		}

		elems = append(elems, textElement{
			Value:    strings.Join(block, "\n"),
			Position: [2]float64{pageMargin, blockTop - leading},
			Font:     font,
		})
		i = j
	}

	if len(elems) > 0 || len(pages) == 0 {
		pages[fmt.Sprintf("%d", pageNum)] = createPage{Content: createContent{Text: elems}}
	}

	return createDoc{Paper: "A4", Pages: pages}
}
