package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMiddleware_SuccessOnFirstAttempt(t *testing.T) {
	// Given a mock that succeeds immediately
	mock := NewMockBackend()
	wrapped := RetryMiddleware(3, 100*time.Millisecond, time.Second)(mock)

	// When making a request
	out, err := wrapped.Generate(context.Background(), Request{Prompt: "test prompt"})

	// Then it should succeed without retries
	require.NoError(t, err, "request should succeed")
	assert.Equal(t, "test response", out.Text, "response should match")
	assert.Equal(t, 1, mock.GetCallCount(), "should only call once on success")
}

func TestRetryMiddleware_RetriesOnTransientError(t *testing.T) {
	// Given a mock that fails twice then succeeds
	mock := NewMockBackend()
	mock.FailUntilAttempt = 2
	wrapped := RetryMiddleware(3, 5*time.Millisecond, time.Second)(mock)

	out, err := wrapped.Generate(context.Background(), Request{Prompt: "test prompt"})

	require.NoError(t, err, "request should eventually succeed")
	assert.Equal(t, "test response", out.Text)
	assert.Equal(t, 3, mock.GetCallCount(), "should retry until success")
}

func TestRetryMiddleware_FailsAfterMaxRetries(t *testing.T) {
	mock := NewMockBackend()
	mock.Error = errors.New("persistent error")
	wrapped := RetryMiddleware(2, 5*time.Millisecond, time.Second)(mock)

	_, err := wrapped.Generate(context.Background(), Request{})

	require.Error(t, err, "request should fail")
	assert.Contains(t, err.Error(), "request failed after 3 attempts", "error should indicate retry exhaustion")
	assert.Contains(t, err.Error(), "persistent error", "error should contain original error")
	assert.Equal(t, 3, mock.GetCallCount(), "should attempt max retries + 1")
}

func TestRetryMiddleware_DoesNotRetryOnCircuitOpen(t *testing.T) {
	mock := NewMockBackend()
	mock.Error = ErrCircuitOpen
	wrapped := RetryMiddleware(3, 5*time.Millisecond, time.Second)(mock)

	_, err := wrapped.Generate(context.Background(), Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, mock.GetCallCount(), "should not retry on circuit open")
}

func TestRetryMiddleware_DoesNotRetryPermanentErrors(t *testing.T) {
	mock := NewMockBackend()
	mock.Error = NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	wrapped := RetryMiddleware(3, 5*time.Millisecond, time.Second)(mock)

	_, err := wrapped.Generate(context.Background(), Request{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, 1, mock.GetCallCount(), "auth failures are not transient")
}

func TestRetryMiddleware_RespectsContextCancellation(t *testing.T) {
	mock := NewMockBackend()
	mock.Error = errors.New("slow error")
	mock.ResponseDelay = 30 * time.Millisecond
	wrapped := RetryMiddleware(5, 10*time.Millisecond, time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := wrapped.Generate(ctx, Request{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled),
		"error should be context related: %v", err)
	assert.Less(t, mock.GetCallCount(), 5, "should stop retrying on context cancellation")
}

func TestRetryMiddleware_DelayIsBounded(t *testing.T) {
	r := &retryBackend{baseDelay: 10 * time.Millisecond, maxDelay: 50 * time.Millisecond}

	for attempt := 0; attempt < 40; attempt++ {
		d := r.calculateDelay(attempt)
		assert.LessOrEqual(t, d, 50*time.Millisecond, "attempt %d exceeds max delay", attempt)
		assert.Greater(t, d, time.Duration(0))
	}

	first := r.calculateDelay(0)
	assert.GreaterOrEqual(t, first, 7500*time.Microsecond, "jitter stays within -25%%")
	assert.Less(t, first, 12500*time.Microsecond, "jitter stays within +25%%")
}
