// Package logging configures the process-wide slog logger. Records logged
// with a context carry the run ID stored by WithRunID and, when a span is
// active, its trace and span IDs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Config selects the level, format and destination of log output.
type Config struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=json text"`
	AddSource bool   `yaml:"add_source"`
	// Writer defaults to os.Stderr.
	Writer io.Writer `yaml:"-"`
}

type contextKey struct{}

var runIDKey contextKey

// Initialize builds a logger from cfg, installs it as the slog default and
// returns it.
func Initialize(cfg Config) (*slog.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// New builds a logger from cfg without touching the slog default.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(&contextHandler{Handler: handler}), nil
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// WithRunID returns a context whose log records carry run_id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run ID stored in ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// contextHandler injects run and trace identifiers from the record's
// context. A run_id already attached with With is not repeated.
type contextHandler struct {
	slog.Handler
	hasRunID bool
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := RunID(ctx); id != "" && !h.hasRunID {
			r.AddAttrs(slog.String("run_id", id))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	has := h.hasRunID
	for _, a := range attrs {
		if a.Key == "run_id" {
			has = true
		}
	}
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), hasRunID: has}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), hasRunID: h.hasRunID}
}
