package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

const tracerName = "github.com/sheetpilot/sheetpilot/pipeline"

var _ ports.StepObserver = (*OTelStepObserver)(nil)

// OTelStepObserver opens a "pipeline.step" span around every step and
// reports step metrics to a collector. The span travels in the step
// context, so one observer serves concurrent runs.
type OTelStepObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// NewOTelStepObserver creates an observer. A nil tracer uses the global
// tracer provider; a nil collector disables metrics.
func NewOTelStepObserver(tracer trace.Tracer, metrics ports.MetricsCollector) *OTelStepObserver {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &OTelStepObserver{tracer: tracer, metrics: metrics}
}

// PreStep starts the step span.
func (o *OTelStepObserver) PreStep(ctx context.Context, info ports.StepInfo) context.Context {
	ctx, _ = o.tracer.Start(ctx, "pipeline.step",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", info.RunID),
			attribute.String("pipeline.step", info.Step),
			attribute.String("pipeline.module", info.Module),
			attribute.Int("pipeline.step_index", info.Index),
			attribute.Int("pipeline.rows_in", info.RowsIn),
		),
	)
	return ctx
}

// PostStep ends the span opened by PreStep and records metrics.
func (o *OTelStepObserver) PostStep(ctx context.Context, info ports.StepInfo, stats domain.StepStats, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		rowsOut, _ := stats["rows_out"].(int)
		span.SetAttributes(attribute.Int("pipeline.rows_out", rowsOut))
		if warnings, ok := stats["warnings"].([]string); ok {
			for _, w := range warnings {
				span.AddEvent("step.warning", trace.WithAttributes(attribute.String("message", w)))
			}
		}
		span.SetStatus(codes.Ok, "")
	}

	if o.metrics == nil {
		return
	}
	labels := map[string]string{"module": info.Module, "status": status}
	o.metrics.RecordLatency(MetricStepDuration, elapsed, labels)
	o.metrics.RecordCounter(MetricSteps, 1, labels)
	o.metrics.RecordGauge(MetricRows, float64(info.RowsIn), map[string]string{"step": info.Step, "stage": "in"})
	if err != nil {
		return
	}
	if rowsOut, ok := stats["rows_out"].(int); ok {
		o.metrics.RecordGauge(MetricRows, float64(rowsOut), map[string]string{"step": info.Step, "stage": "out"})
	}
	if changed, ok := changedCells(stats); ok {
		o.metrics.RecordCounter(MetricCellsChanged, changed, map[string]string{"module": info.Module})
	}
}

// changedCells sums the per-transform change counters that transforms
// report in their metrics.
func changedCells(stats domain.StepStats) (float64, bool) {
	var total float64
	found := false
	for _, key := range []string{"cells_filled", "cells_changed", "outliers", "processed"} {
		if v, ok := numeric(stats[key]); ok {
			total += v
			found = true
		}
	}
	return total, found
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
