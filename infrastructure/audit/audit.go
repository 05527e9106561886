// Package audit writes audit events as JSON lines through a dedicated slog
// logger.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// Logger is a ports.AuditSink. Each event becomes one JSON object with the
// keys id, timestamp, user_id, username, action_type, details and outcome.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	newID  func() string
	now    func() time.Time
}

var _ ports.AuditSink = (*Logger)(nil)

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator replaces the entry ID source.
func WithIDGenerator(gen func() string) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithClock sets the time used for events that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New returns a Logger writing to w.
func New(w io.Writer, opts ...Option) *Logger {
	l := &Logger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{ReplaceAttr: dropBuiltins})),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open appends to the file at path, creating it and its parent
// directories as needed. Close releases the file.
func Open(path string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	l := New(f, opts...)
	l.closer = f
	return l, nil
}

// Record writes event. It never inspects ctx for cancellation so that end
// events of canceled runs are still kept.
func (l *Logger) Record(ctx context.Context, event ports.AuditEvent) error {
	if event.Action == "" {
		return fmt.Errorf("audit event has no action")
	}
	at := event.Time
	if at.IsZero() {
		at = l.now()
	}
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	l.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "",
		slog.String("id", l.newID()),
		slog.Time("timestamp", at.UTC()),
		slog.String("user_id", event.User.UserID()),
		slog.String("username", event.User.Name()),
		slog.String("action_type", event.Action),
		slog.Any("details", details),
		slog.String("outcome", event.Outcome),
	)
	return nil
}

// Close closes the underlying file when the Logger was built by Open.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// dropBuiltins removes slog's own time, level and message keys so entries
// hold only audit fields.
func dropBuiltins(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey, slog.LevelKey, slog.MessageKey:
		return slog.Attr{}
	}
	return a
}
