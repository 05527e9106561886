package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sheetpilot/sheetpilot/infrastructure/llm"

type tracedLLM struct {
	next     CoreLLM
	provider string
	tracer   trace.Tracer
}

// TracingMiddleware wraps each request in an "llm.request" client span. A
// nil tracer uses the global tracer provider.
func TracingMiddleware(provider string, tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, provider: provider, tracer: tracer}
	}
}

func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Int("llm.prompt.length", len(prompt)),
		),
	)
	defer span.End()

	response, tokensIn, tokensOut, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, tokensIn, tokensOut, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", tokensIn),
		attribute.Int("llm.tokens.output", tokensOut),
	)
	span.SetStatus(codes.Ok, "")
	return response, tokensIn, tokensOut, nil
}

func (t *tracedLLM) GetModel() string { return t.next.GetModel() }
