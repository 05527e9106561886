package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Pipeline run states. A run moves PENDING → RUNNING and ends in exactly
// one of the two completed states.
const (
	StatusPending             RunStatus = "PENDING"
	StatusRunning             RunStatus = "RUNNING"
	StatusCompleted           RunStatus = "COMPLETED"
	StatusCompletedWithErrors RunStatus = "COMPLETED_WITH_ERRORS"
)

// StepError records one failed step.
type StepError struct {
	Module  string `json:"module"`
	Message string `json:"error"`
	Trace   string `json:"traceback"`
}

// StepStats holds arbitrary per-step metrics keyed by metric name.
type StepStats map[string]any

// StepOutput is what a transform hands back to the orchestrator.
type StepOutput struct {
	// Table is the transformed table. It must not share cells with the input.
	Table *Table
	// Warnings lists non-fatal conditions raised while transforming.
	Warnings []string
	// Metrics holds transform-specific counters merged into the step stats.
	Metrics map[string]any
}

// Report summarizes one pipeline run. It is created fresh per run and
// owned by the caller once returned.
type Report struct {
	RunID          string               `json:"run_id"`
	Status         RunStatus            `json:"status"`
	StepsCompleted []string             `json:"steps_completed"`
	Errors         []StepError          `json:"errors"`
	Stats          map[string]StepStats `json:"stats"`
	RowsIn         int                  `json:"rows_in"`
	RowsOut        int                  `json:"rows_out"`
	Columns        int                  `json:"columns"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
}

// NewReport creates an empty report in the PENDING state.
func NewReport(runID string) *Report {
	return &Report{
		RunID:          runID,
		Status:         StatusPending,
		StepsCompleted: []string{},
		Errors:         []StepError{},
		Stats:          map[string]StepStats{},
	}
}

// Start moves the report into the RUNNING state.
func (r *Report) Start(in *Table, at time.Time) {
	r.Status = StatusRunning
	r.StartedAt = at
	r.RowsIn = in.Rows()
	r.Columns = in.Width()
}

// RecordSuccess appends a completed step and its stats.
func (r *Report) RecordSuccess(step string, stats StepStats) {
	r.StepsCompleted = append(r.StepsCompleted, step)
	r.Stats[step] = stats
}

// RecordFailure appends a failed step.
func (r *Report) RecordFailure(step string, err error, trace string) {
	r.Errors = append(r.Errors, StepError{Module: step, Message: err.Error(), Trace: trace})
}

// Finish classifies the outcome and records the output shape.
func (r *Report) Finish(out *Table, at time.Time) {
	r.FinishedAt = at
	r.RowsOut = out.Rows()
	r.Columns = out.Width()
	if r.HasErrors() {
		r.Status = StatusCompletedWithErrors
		return
	}
	r.Status = StatusCompleted
}

// HasErrors reports whether any step failed.
func (r *Report) HasErrors() bool { return len(r.Errors) > 0 }

// Duration returns the wall time of the run, or zero before it finishes.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
