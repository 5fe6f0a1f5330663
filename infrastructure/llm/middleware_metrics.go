package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ahrav/go-arena/internal/ports"
)

// metricsBackend records latency, request counts and token usage per
// provider and model.
type metricsBackend struct {
	next      Backend
	provider  string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next Backend) Backend {
		return &metricsBackend{
			next:      next,
			provider:  providerForModel(next.Model()),
			collector: collector,
		}
	}
}

// Generate executes the request while collecting metrics.
func (m *metricsBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	start := time.Now()
	out, err := m.next.Generate(ctx, req)

	if m.collector == nil {
		return out, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.Model(),
		"status":   requestStatus(ctx, err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		labels["token_type"] = "input"
		m.collector.RecordCounter("llm_tokens_total", float64(out.TokensIn), labels)

		labels["token_type"] = "output"
		m.collector.RecordCounter("llm_tokens_total", float64(out.TokensOut), labels)
	}

	return out, err
}

// Model returns the model name from the wrapped implementation.
func (m *metricsBackend) Model() string { return m.next.Model() }

func requestStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// providerForModel guesses the provider from well-known model prefixes.
func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}
