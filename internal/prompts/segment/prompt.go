// Package segment holds the prompts for chapter segmentation.
package segment

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

// SystemPrompt returns the system prompt for chapter segmentation.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the user prompt for chapter segmentation.
func UserPrompt(excerpt string, totalPages int) string {
	var buf bytes.Buffer
	data := struct {
		Excerpt    string
		TotalPages int
	}{Excerpt: excerpt, TotalPages: totalPages}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}

// Schema is the JSON schema for the segmentation result. Every entry
// must carry all four fields; page bounds are validated separately
// because the model's numbers are approximate.
const Schema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["title", "startPage", "endPage", "isEssential"],
    "properties": {
      "title": {"type": "string"},
      "startPage": {"type": "integer"},
      "endPage": {"type": "integer"},
      "isEssential": {"type": "boolean"}
    }
  }
}`
