package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedBackend paces requests with a token bucket so a provider's
// rate limits are not exceeded.
type rateLimitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket. The limit parameter sets requests per second, while burst
// allows temporary spikes above the sustained rate. Every backend wrapped by
// the returned middleware shares one bucket.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next Backend) Backend {
		return &rateLimitedBackend{next: next, limiter: limiter}
	}
}

// Generate waits for rate limit permission before forwarding the request.
func (r *rateLimitedBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Generate(ctx, req)
}

// Model returns the model name from the wrapped implementation.
func (r *rateLimitedBackend) Model() string { return r.next.Model() }
