package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricLLMLatency  = "llm_request_duration_seconds"
	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
)

type metricsLLM struct {
	next      CoreLLM
	provider  string
	collector ports.MetricsCollector
}

// MetricsMiddleware records request latency, outcome counts and token
// usage, labelled by provider, model and status. A nil collector disables
// recording.
func MetricsMiddleware(provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, provider: provider, collector: collector}
	}
}

func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}
	m.collector.RecordHistogram(MetricLLMLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)

	if err == nil {
		tokenLabels := map[string]string{"provider": m.provider, "model": labels["model"]}
		tokenLabels["direction"] = "input"
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensIn), tokenLabels)
		tokenLabels["direction"] = "output"
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensOut), tokenLabels)
	}
	return response, tokensIn, tokensOut, err
}

func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
