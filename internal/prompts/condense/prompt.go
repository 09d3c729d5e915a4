// Package condense holds the prompts for chapter condensation.
package condense

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/abridge/abridge/internal/book"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

var userTemplate = template.Must(template.New("user").Parse(userPromptTmpl))

// Level-specific instructions. Percentage targets are directional
// guidance to the model, not enforced on output.
var instructions = map[book.Level]string{
	book.LevelLight: "Lightly condense this chapter. Preserve all examples, anecdotes, and supporting detail. " +
		"Tighten the prose sentence by sentence. Target roughly 30% shorter than the original.",
	book.LevelMedium: "Condense this chapter. Keep the main arguments and the strongest one or two examples; " +
		"drop most supporting examples and digressions. Target roughly 50% shorter than the original.",
	book.LevelHeavy: "Heavily condense this chapter to its core concepts only. Drop examples, anecdotes, and " +
		"secondary arguments entirely. Target roughly 70% shorter than the original.",
}

// SystemPrompt returns the system prompt for chapter condensation.
func SystemPrompt() string {
	return systemPrompt
}

// PromptInput carries everything the condensation prompt needs.
type PromptInput struct {
	Level        book.Level
	BookTitle    string
	Author       string
	ChapterTitle string
	Text         string
}

// UserPrompt builds the user prompt for condensing one chapter.
func UserPrompt(in PromptInput) string {
	instruction, ok := instructions[in.Level]
	if !ok {
		instruction = instructions[book.LevelMedium]
	}

	var buf bytes.Buffer
	data := struct {
		Instruction  string
		BookTitle    string
		Author       string
		ChapterTitle string
		Text         string
	}{
		Instruction:  instruction,
		BookTitle:    in.BookTitle,
		Author:       in.Author,
		ChapterTitle: in.ChapterTitle,
		Text:         in.Text,
	}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}
