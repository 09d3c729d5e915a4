package llm

import (
	"context"
	"sync"
	"time"
)

const MockClientName = "mock"

// MockClient is a Client for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	Err          error  // returned on every call when set
	FailFirst    int    // fail the first N calls with Err (or ErrUnavailable)
	ResponseText string // default response text

	// Responses, when non-empty, are consumed in order before falling
	// back to ResponseText. Lets a test script distinct stage replies.
	Responses []string

	// ResponseFn, when set, overrides all other response configuration.
	ResponseFn func(req *Request) (string, error)

	mu    sync.Mutex
	calls []*Request
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Complete returns the configured response after the configured latency.
func (c *MockClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	n := len(c.calls)

	var text string
	var err error
	switch {
	case c.ResponseFn != nil:
		c.mu.Unlock()
		text, err = c.ResponseFn(req)
		if err != nil {
			return nil, err
		}
		return c.result(text), nil
	case c.Err != nil && (c.FailFirst == 0 || n <= c.FailFirst):
		err = c.Err
	case c.Err == nil && c.FailFirst > 0 && n <= c.FailFirst:
		err = ErrUnavailable
	case len(c.Responses) >= n:
		text = c.Responses[n-1]
	default:
		text = c.ResponseText
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return c.result(text), nil
}

func (c *MockClient) result(text string) *Result {
	return &Result{
		Text:             text,
		PromptTokens:     len(text) / 4,
		CompletionTokens: len(text) / 4,
		Provider:         MockClientName,
		ModelUsed:        "mock-model",
		Latency:          c.Latency,
		Attempts:         1,
	}
}

// Calls returns the requests received so far.
func (c *MockClient) Calls() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of Complete invocations.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
