// Package metadata holds the prompts for book metadata extraction.
package metadata

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

var userTemplate = template.Must(template.New("user").Parse(userPromptTmpl))

// SystemPrompt returns the system prompt for metadata extraction.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the user prompt for metadata extraction.
func UserPrompt(excerpt string) string {
	var buf bytes.Buffer
	data := struct{ Excerpt string }{Excerpt: excerpt}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}

// Schema is the JSON schema for the metadata extraction result.
const Schema = `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "author": {"type": ["string", "null"]}
  }
}`
