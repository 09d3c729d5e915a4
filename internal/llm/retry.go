package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds retries of transient completion failures.
type RetryPolicy struct {
	Attempts uint          // total attempts including the first (default 3)
	Delay    time.Duration // base delay, doubled per attempt (default 1s)
	MaxDelay time.Duration // backoff cap (default 8s)
}

// DefaultRetryPolicy matches the pipeline's transient-error contract:
// 3 attempts, base delay 1s doubling, capped.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    time.Second,
		MaxDelay: 8 * time.Second,
	}
}

// CompleteWithRetry runs one completion with bounded exponential backoff
// on transient errors. Input errors and malformed-response errors are
// never retried. The returned Result's Attempts reflects the total
// attempts made.
func CompleteWithRetry(ctx context.Context, client Client, req *Request, policy RetryPolicy, logger *slog.Logger) (*Result, error) {
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	attempts := 0
	result, err := retry.DoWithData(
		func() (*Result, error) {
			attempts++
			return client.Complete(ctx, req)
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.MaxDelay(policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("completion retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	result.Attempts = attempts
	return result, nil
}
