package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ahrav/go-arena/infrastructure/llm"

// tracedBackend wraps every request in an OpenTelemetry span.
type tracedBackend struct {
	next        Backend
	serviceName string
	tracer      trace.Tracer
}

// TracingMiddleware creates middleware that adds distributed tracing to
// requests using the global tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithProvider(serviceName, otel.GetTracerProvider())
}

// TracingMiddlewareWithProvider is TracingMiddleware with an explicit
// tracer provider.
func TracingMiddlewareWithProvider(serviceName string, tp trace.TracerProvider) Middleware {
	tracer := tp.Tracer(tracerName)
	return func(next Backend) Backend {
		return &tracedBackend{
			next:        next,
			serviceName: serviceName,
			tracer:      tracer,
		}
	}
}

// Generate executes the request within a span.
func (t *tracedBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	ctx, span := t.tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("llm.model", t.next.Model()),
			attribute.Int("llm.prompt.length", len(req.Prompt)),
			attribute.Int("llm.history.turns", len(req.History)),
		),
	)
	defer span.End()

	out, err := t.next.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", out.TokensIn),
		attribute.Int("llm.tokens.output", out.TokensOut),
	)
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Model returns the model name from the wrapped implementation.
func (t *tracedBackend) Model() string { return t.next.Model() }
