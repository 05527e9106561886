package ports

import (
	"context"
	"time"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations should handle provider-specific details like authentication,
// request formatting, and response parsing.
type LLMClient interface {
	// Complete sends a completion request to the LLM provider.
	// It returns the generated text and any error encountered.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Common options include:
	//   - "temperature": float64
	//   - "top_p": float64
	//   - "max_tokens": int
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Audit action types emitted by the pipeline and its collaborators.
const (
	ActionPipelineStart      = "PIPELINE_EXECUTION_START"
	ActionPipelineEnd        = "PIPELINE_EXECUTION_END"
	ActionDataImported       = "DATA_IMPORTED"
	ActionDataExported       = "DATA_EXPORTED"
	ActionLLMNormalizerUsed  = "PLUGIN_LLM_NORMALIZER_USED"
	OutcomeSuccess           = "SUCCESS"
	OutcomeFailure           = "FAILURE"
	OutcomeCompletedWithErrs = "COMPLETED_WITH_ERRORS"
)

// AuditEvent is a single attributable action.
type AuditEvent struct {
	Action  string
	User    *domain.Identity
	Details map[string]any
	Outcome string
	Time    time.Time
}

// AuditSink records audit events. The storage behind it is opaque to the
// pipeline; a failing sink must never fail a run.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}
