package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// retryBackend retries transient failures with exponential backoff.
type retryBackend struct {
	next       Backend
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed requests with
// exponential backoff and jitter. Errors that IsRetryable rejects are
// returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next Backend) Backend {
		return &retryBackend{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// Generate executes the request with automatic retry logic.
func (r *retryBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		attempts++
		out, err := r.next.Generate(ctx, req)
		if err == nil {
			return out, nil
		}

		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return Completion{}, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

func (r *retryBackend) calculateDelay(attempt int) time.Duration {
	attempt = ClampInt(attempt, 0, 30)
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := r.baseDelay * time.Duration(1<<uint(attempt))

	// Jitter in [-25%, +25%).
	// #nosec G404 - weak RNG is acceptable for jitter
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// Model returns the model name from the wrapped implementation.
func (r *retryBackend) Model() string { return r.next.Model() }
