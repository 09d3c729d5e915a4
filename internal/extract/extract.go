// Package extract pulls structured JSON out of free-form model output.
// Model responses are untrusted text: candidates are located, decoded,
// and validated against a schema before any field is used.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/abridge/abridge/internal/book"
)

// Array returns the first well-formed JSON array in the response text.
// Returns book.ErrAIResponseMalformed if none is found.
func Array(content string) (json.RawMessage, error) {
	return first(content, '[')
}

// Object returns the first well-formed JSON object in the response text.
// Returns book.ErrAIResponseMalformed if none is found.
func Object(content string) (json.RawMessage, error) {
	return first(content, '{')
}

// first scans for the first well-formed JSON value opening with the
// given delimiter, trying code-fence stripped content first.
func first(content string, open byte) (json.RawMessage, error) {
	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		// Fenced content is the model's intended payload; prefer it.
		candidates = []string{stripped, content}
	}

	for _, candidate := range candidates {
		if raw := scan(candidate, open); raw != nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("no well-formed JSON %q value in response: %w", string(open), book.ErrAIResponseMalformed)
}

// scan tries to decode one JSON value starting at each occurrence of
// the opening delimiter.
func scan(content string, open byte) json.RawMessage {
	for i := 0; i < len(content); i++ {
		if content[i] != open {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(content[i:]))
		var value any
		if err := dec.Decode(&value); err != nil {
			continue
		}
		normalized, err := json.Marshal(value)
		if err != nil {
			continue
		}
		return normalized
	}
	return nil
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Validate checks parsed JSON against a JSON schema document.
// A validation failure is a malformed-response error.
func Validate(schemaRaw string, doc json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaRaw))); err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return fmt.Errorf("failed to decode JSON for validation: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("response does not match schema: %v: %w", err, book.ErrAIResponseMalformed)
	}
	return nil
}
