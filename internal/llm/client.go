// Package llm provides the adapter to the text-completion service.
// The client performs exactly one attempt per call; retry policy lives
// at call sites so failures stay visible to orchestration and cost
// tracking.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/abridge/abridge/internal/book"
)

// Client is the single narrow capability the pipeline needs: submit a
// text prompt, receive a text completion.
//
// Completions are neither idempotent nor deterministic. Two calls with
// identical input may yield different output; callers must tolerate
// this and never assert exact output shape or length.
type Client interface {
	// Complete sends one completion request. It does not retry.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Name returns the client identifier (e.g. "openrouter").
	Name() string
}

// Request is one completion request.
type Request struct {
	// System is the optional system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string

	// Model selection (client default if empty).
	Model string

	// Generation parameters.
	Temperature float64
	MaxTokens   int
}

// Result is the response from a completion call, with usage accounting.
type Result struct {
	Text string

	PromptTokens     int
	CompletionTokens int

	Provider  string
	ModelUsed string
	Latency   time.Duration
	Attempts  int
}

// Sentinel error classes for transient failures. The concrete client
// wraps provider errors with these so call sites can decide retry.
var (
	// ErrRateLimited indicates the provider rejected the call with a
	// rate-limit response.
	ErrRateLimited = errors.New("llm rate limited")

	// ErrUnavailable indicates a provider-side transient failure (5xx,
	// network error, empty response).
	ErrUnavailable = errors.New("llm unavailable")
)

// IsRetryable reports whether an error is a transient external error
// worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, book.ErrAITimeout)
}
