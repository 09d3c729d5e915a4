// Package stages implements the AI-backed pipeline stages: metadata
// extraction, chapter segmentation, and chapter condensation. Each
// stage composes a prompt, calls the completion client with bounded
// retries, and parses the untrusted response.
package stages

import (
	"log/slog"

	"github.com/abridge/abridge/internal/llm"
)

// GenParams are the generation parameters shared by all stages.
type GenParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Config wires one stage to the completion client.
type Config struct {
	Client llm.Client
	Policy llm.RetryPolicy
	Params GenParams
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Policy.Attempts == 0 {
		c.Policy = llm.DefaultRetryPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) request(system, prompt string) *llm.Request {
	return &llm.Request{
		System:      system,
		Prompt:      prompt,
		Model:       c.Params.Model,
		Temperature: c.Params.Temperature,
		MaxTokens:   c.Params.MaxTokens,
	}
}
