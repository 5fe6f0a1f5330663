package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricsMiddleware_RecordsSuccessfulRequests tests that the metrics middleware
// correctly records metrics for successful requests.
func TestMetricsMiddleware_RecordsSuccessfulRequests(t *testing.T) {
	mock := NewMockBackend()
	mock.ModelName = "gpt-4o"
	metrics := newMockMetricsCollector()
	wrapped := MetricsMiddleware(metrics)(mock)

	out, err := wrapped.Generate(context.Background(), Request{Prompt: "test prompt"})

	require.NoError(t, err, "request should succeed")
	assert.Equal(t, "test response", out.Text, "response should match")

	assert.Contains(t, metrics.histograms, "llm_latency_seconds:openai", "should record latency histogram")
	assert.Equal(t, 1.0, metrics.counters["llm_requests_total:openai"], "should record request counter")
	assert.Equal(t, 30.0, metrics.counters["llm_tokens_total:openai"], "should record total tokens (input + output)")
}

// TestMetricsMiddleware_RecordsFailedRequests tests that failed requests are
// counted without token usage.
func TestMetricsMiddleware_RecordsFailedRequests(t *testing.T) {
	mock := NewMockBackend()
	mock.ModelName = "claude-3-5-haiku-latest"
	mock.Error = errors.New("service error")
	metrics := newMockMetricsCollector()
	wrapped := MetricsMiddleware(metrics)(mock)

	_, err := wrapped.Generate(context.Background(), Request{})

	require.Error(t, err, "request should fail")
	assert.Equal(t, "service error", err.Error(), "should return original error")
	assert.Equal(t, 1.0, metrics.counters["llm_requests_total:anthropic"])
	assert.NotContains(t, metrics.counters, "llm_tokens_total:anthropic", "should not record tokens for failed requests")
	assert.Equal(t, "error", metrics.labels[0]["status"])
}

func TestMetricsMiddleware_StatusLabels(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*MockBackend)
		ctx   func() (context.Context, context.CancelFunc)
		want  string
	}{
		{
			name:  "circuit open",
			setup: func(m *MockBackend) { m.Error = ErrCircuitOpen },
			want:  "circuit_open",
		},
		{
			name:  "timeout",
			setup: func(m *MockBackend) { m.ResponseDelay = 200 * time.Millisecond },
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 10*time.Millisecond)
			},
			want: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockBackend()
			mock.ModelName = "gemini-2.0-flash"
			tt.setup(mock)
			metrics := newMockMetricsCollector()
			wrapped := MetricsMiddleware(metrics)(mock)

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			_, err := wrapped.Generate(ctx, Request{})

			require.Error(t, err)
			require.NotEmpty(t, metrics.labels)
			assert.Equal(t, tt.want, metrics.labels[0]["status"])
			assert.Equal(t, 1.0, metrics.counters["llm_requests_total:google"])
		})
	}
}

func TestProviderForModel(t *testing.T) {
	assert.Equal(t, "openai", providerForModel("gpt-4o-mini"))
	assert.Equal(t, "openai", providerForModel("o3-mini"))
	assert.Equal(t, "anthropic", providerForModel("claude-3-5-haiku-latest"))
	assert.Equal(t, "google", providerForModel("gemini-2.0-flash"))
	assert.Equal(t, "unknown", providerForModel("llama-3"))
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	wrapped := MetricsMiddleware(nil)(NewMockBackend())

	out, err := wrapped.Generate(context.Background(), Request{})

	require.NoError(t, err)
	assert.Equal(t, "test response", out.Text)
}
