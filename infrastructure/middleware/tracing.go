package middleware

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingConfig selects where finished spans go.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// Writer receives one JSON document per span. Nil disables export and
	// leaves the global no-op provider in place.
	Writer io.Writer
	// Pretty indents the JSON output.
	Pretty bool
}

// InitTracing installs a global tracer provider that exports spans to
// cfg.Writer and returns its shutdown function, which flushes pending
// spans.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if cfg.Writer == nil {
		return func(context.Context) error { return nil }, nil
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(cfg.Writer)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
