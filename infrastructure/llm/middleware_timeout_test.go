package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContextKeyType string

const testContextKey testContextKeyType = "test-key"

func TestTimeoutMiddleware_SucceedsWithinTimeout(t *testing.T) {
	// Given a mock that responds quickly
	mock := NewMockBackend()
	mock.ResponseDelay = 10 * time.Millisecond
	wrapped := TimeoutMiddleware(200 * time.Millisecond)(mock)

	// When making a request
	out, err := wrapped.Generate(context.Background(), Request{Prompt: "test prompt"})

	// Then it should succeed
	require.NoError(t, err, "request should succeed within timeout")
	assert.Equal(t, "test response", out.Text, "response should match")
	assert.Equal(t, 10, out.TokensIn, "input tokens should match")
	assert.Equal(t, 20, out.TokensOut, "output tokens should match")
}

func TestTimeoutMiddleware_FailsWhenExceedingTimeout(t *testing.T) {
	// Given a mock slower than the timeout
	mock := NewMockBackend()
	mock.ResponseDelay = 500 * time.Millisecond
	wrapped := TimeoutMiddleware(50 * time.Millisecond)(mock)

	// When making a request
	start := time.Now()
	_, err := wrapped.Generate(context.Background(), Request{Prompt: "test prompt"})

	// Then it should fail with a deadline error well before the mock finishes
	require.Error(t, err, "request should time out")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "should be deadline exceeded: %v", err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "should return promptly")
}

func TestTimeoutMiddleware_RespectsShorterParentDeadline(t *testing.T) {
	mock := NewMockBackend()
	mock.ResponseDelay = 300 * time.Millisecond
	wrapped := TimeoutMiddleware(time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := wrapped.Generate(ctx, Request{Prompt: "test prompt"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutMiddleware_PreservesContextValues(t *testing.T) {
	mock := NewMockBackend()
	wrapped := TimeoutMiddleware(time.Second)(mock)

	ctx := context.WithValue(context.Background(), testContextKey, "test-value")
	_, err := wrapped.Generate(ctx, Request{Prompt: "test prompt"})
	require.NoError(t, err)

	req, got := mock.Last()
	assert.Equal(t, "test prompt", req.Prompt)
	assert.Equal(t, "test-value", got.Value(testContextKey), "context value should be preserved")
	_, hasDeadline := got.Deadline()
	assert.True(t, hasDeadline, "downstream context should carry a deadline")
}

func TestTimeoutMiddleware_ZeroTimeoutDisables(t *testing.T) {
	mock := NewMockBackend()
	wrapped := TimeoutMiddleware(0)(mock)

	assert.Same(t, mock, wrapped, "zero timeout returns the backend unchanged")
}

func TestTimeoutMiddleware_IndependentConcurrentRequests(t *testing.T) {
	// One slow request timing out must not affect a fast sibling.
	slow := NewMockBackend()
	slow.ResponseDelay = 300 * time.Millisecond
	fast := NewMockBackend()
	fast.ResponseDelay = 5 * time.Millisecond

	mw := TimeoutMiddleware(50 * time.Millisecond)
	wrappedSlow, wrappedFast := mw(slow), mw(fast)

	var wg sync.WaitGroup
	var slowErr, fastErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, slowErr = wrappedSlow.Generate(context.Background(), Request{}) }()
	go func() { defer wg.Done(); _, fastErr = wrappedFast.Generate(context.Background(), Request{}) }()
	wg.Wait()

	assert.ErrorIs(t, slowErr, context.DeadlineExceeded)
	assert.NoError(t, fastErr)
}
