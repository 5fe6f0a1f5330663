package llm

import (
	"context"
	"time"
)

// timeoutBackend bounds every request with a deadline so one slow contender
// cannot stall a round.
type timeoutBackend struct {
	next    Backend
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces request timeouts.
// A non-positive timeout disables the middleware.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Backend) Backend {
		if timeout <= 0 {
			return next
		}
		return &timeoutBackend{next: next, timeout: timeout}
	}
}

// Generate executes the request with a timeout context.
func (t *timeoutBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, req)
}

// Model returns the model name from the wrapped implementation.
func (t *timeoutBackend) Model() string { return t.next.Model() }
