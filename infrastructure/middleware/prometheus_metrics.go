// Package middleware provides the observability adapters wired around a
// pipeline run: Prometheus metrics, OpenTelemetry step spans, and the trace
// exporter setup.
package middleware

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sheetpilot/sheetpilot/infrastructure/llm"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// Metric names routed to dedicated Prometheus vectors. Anything else lands
// in the generic operation vectors keyed by a "metric" label.
const (
	MetricStepDuration = "step"
	MetricSteps        = "steps_total"
	MetricRows         = "rows"
	MetricCellsChanged = "cells_changed_total"
)

const namespace = "sheetpilot"

// PrometheusMetrics implements ports.MetricsCollector on a Prometheus
// registry.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	rows         *prometheus.GaugeVec
	cellsChanged *prometheus.CounterVec

	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	opLatency *prometheus.HistogramVec
	counters  *prometheus.CounterVec
	gauges    *prometheus.GaugeVec
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the collectors with reg. Use a fresh
// prometheus.NewRegistry per process or test; registering twice on the
// same registry panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of each pipeline step.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"module", "status"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed pipeline steps by module and outcome.",
		}, []string{"module", "status"}),
		rows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_rows",
			Help:      "Row count entering and leaving the most recent step of each name.",
		}, []string{"step", "stage"}),
		cellsChanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_changed_total",
			Help:      "Cells rewritten by transforms.",
		}, []string{"module"}),

		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    llm.MetricLLMLatency,
			Help:    "LLM request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model", "status"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: llm.MetricLLMRequests,
			Help: "LLM requests by outcome.",
		}, []string{"provider", "model", "status"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: llm.MetricLLMTokens,
			Help: "Tokens sent to and received from LLM providers.",
		}, []string{"provider", "model", "direction"}),

		opLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of other instrumented operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		counters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Other counted events.",
		}, []string{"metric"}),
		gauges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Other point-in-time values.",
		}, []string{"metric"}),
	}
}

// RecordLatency observes duration. The "step" operation feeds the step
// histogram labelled by module and status.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	if operation == MetricStepDuration {
		pm.stepDuration.WithLabelValues(label(labels, "module"), label(labels, "status")).Observe(duration.Seconds())
		return
	}
	pm.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter adds value to the counter named metric. Negative values
// are ignored because Prometheus counters only go up.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	switch metric {
	case MetricSteps:
		pm.steps.WithLabelValues(label(labels, "module"), label(labels, "status")).Add(value)
	case MetricCellsChanged:
		pm.cellsChanged.WithLabelValues(label(labels, "module")).Add(value)
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "direction")).Add(value)
	default:
		pm.counters.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the gauge named metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	if metric == MetricRows {
		pm.rows.WithLabelValues(label(labels, "step"), label(labels, "stage")).Set(value)
		return
	}
	pm.gauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram observes value in the histogram named metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == llm.MetricLLMLatency {
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
		return
	}
	pm.opLatency.WithLabelValues(metric).Observe(value)
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// WriteTextfile writes every metric in g to path in the text exposition
// format, for the node exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
