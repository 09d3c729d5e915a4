package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abridge/abridge/internal/book"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestCompleteWithRetryRecovers(t *testing.T) {
	client := NewMockClient()
	client.FailFirst = 2 // first two calls return ErrUnavailable
	client.ResponseText = "recovered"

	result, err := CompleteWithRetry(context.Background(), client, &Request{Prompt: "p"}, fastPolicy(), nil)
	if err != nil {
		t.Fatalf("CompleteWithRetry() error = %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("Text = %q, want recovered", result.Text)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestCompleteWithRetryExhausts(t *testing.T) {
	client := NewMockClient()
	client.Err = ErrRateLimited

	_, err := CompleteWithRetry(context.Background(), client, &Request{Prompt: "p"}, fastPolicy(), nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if got := client.CallCount(); got != 3 {
		t.Errorf("CallCount() = %d, want 3", got)
	}
}

// Malformed-response style errors are the caller's to handle; the
// retry wrapper must not burn attempts on them.
func TestCompleteWithRetryNonRetryable(t *testing.T) {
	client := NewMockClient()
	client.Err = book.ErrAIResponseMalformed

	_, err := CompleteWithRetry(context.Background(), client, &Request{Prompt: "p"}, fastPolicy(), nil)
	if !errors.Is(err, book.ErrAIResponseMalformed) {
		t.Fatalf("error = %v, want ErrAIResponseMalformed", err)
	}
	if got := client.CallCount(); got != 1 {
		t.Errorf("CallCount() = %d, want 1 (no retries)", got)
	}
}

func TestCompleteWithRetryTimeoutIsRetryable(t *testing.T) {
	client := NewMockClient()
	client.Err = book.ErrAITimeout
	client.FailFirst = 1
	client.ResponseText = "ok"

	result, err := CompleteWithRetry(context.Background(), client, &Request{Prompt: "p"}, fastPolicy(), nil)
	if err != nil {
		t.Fatalf("CompleteWithRetry() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrRateLimited, true},
		{ErrUnavailable, true},
		{book.ErrAITimeout, true},
		{book.ErrAIResponseMalformed, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMockClientScriptedResponses(t *testing.T) {
	client := NewMockClient()
	client.Responses = []string{"first", "second"}
	client.ResponseText = "fallback"

	for _, want := range []string{"first", "second", "fallback"} {
		result, err := client.Complete(context.Background(), &Request{Prompt: "p"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if result.Text != want {
			t.Errorf("Text = %q, want %q", result.Text, want)
		}
	}
}
