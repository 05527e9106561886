package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// Step is a named, parameterized reference to a registered transform.
// Steps are not modified during a run.
type Step struct {
	// Name identifies the step in the report and must be unique per run.
	Name string
	// Module is the registered module name, kept for logs and audit.
	Module string
	// Factory builds the transform from Params.
	Factory ports.TransformFactory
	Params  map[string]any
	// Enabled steps run; disabled steps are skipped and never reported.
	Enabled bool
}

// Orchestrator runs an ordered list of steps over a table. Each step is
// isolated: a step that fails, either by returning an error or by
// panicking, is recorded in the report and the table it received is
// passed to the next step unchanged.
//
// An Orchestrator holds no per-run state and may serve concurrent runs.
type Orchestrator struct {
	stopOnError bool
	logger      *slog.Logger
	audit       ports.AuditSink
	observers   []ports.StepObserver
	newRunID    func() string
	now         func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStopOnError ends a run at the first failed step.
func WithStopOnError(stop bool) OrchestratorOption {
	return func(o *Orchestrator) { o.stopOnError = stop }
}

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithAuditSink records pipeline start and end events to sink.
func WithAuditSink(sink ports.AuditSink) OrchestratorOption {
	return func(o *Orchestrator) { o.audit = sink }
}

// WithStepObserver adds an observer notified around every executed step.
// Observers are called in the order they were added.
func WithStepObserver(observer ports.StepObserver) OrchestratorOption {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithRunIDGenerator replaces the run ID source.
func WithRunIDGenerator(gen func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// WithClock replaces the time source used for report timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator. By default failed steps do not
// stop the run and run IDs are random UUIDs.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:   slog.Default(),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes steps in declaration order over a copy of table and
// returns the final table with its report.
//
// Precondition failures (nil or invalid table, empty or duplicate step
// names, a step without a factory) are returned as errors before any step
// runs. Step failures never surface as a Run error; they are recorded in
// the report. If ctx is canceled between steps, Run returns the table
// produced so far, the finished report, and ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, table *domain.Table, steps []Step, user *domain.Identity) (*domain.Table, *domain.Report, error) {
	if table == nil {
		return nil, nil, domain.ErrNilTable
	}
	if err := table.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrInvalidTable, err)
	}
	if err := checkSteps(steps); err != nil {
		return nil, nil, err
	}

	report := domain.NewReport(o.newRunID())
	logger := o.logger.With("run_id", report.RunID)
	working := table.Clone()

	report.Start(working, o.now())
	o.record(ctx, logger, ports.AuditEvent{
		Action: ports.ActionPipelineStart,
		User:   user,
		Details: map[string]any{
			"run_id":  report.RunID,
			"steps":   enabledNames(steps),
			"rows":    working.Rows(),
			"columns": working.Width(),
		},
		Outcome: ports.OutcomeSuccess,
	})
	logger.InfoContext(ctx, "pipeline started", "steps", len(steps), "rows", working.Rows(), "columns", working.Width())

	var runErr error
	for i, step := range steps {
		if !step.Enabled {
			logger.DebugContext(ctx, "step disabled", "step", step.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		info := ports.StepInfo{
			RunID:  report.RunID,
			Step:   step.Name,
			Module: step.Module,
			Index:  i,
			RowsIn: working.Rows(),
		}
		stepCtx := ctx
		for _, obs := range o.observers {
			stepCtx = obs.PreStep(stepCtx, info)
		}

		start := o.now()
		out, trace, err := o.execute(stepCtx, step, working, user)
		elapsed := o.now().Sub(start)

		var stats domain.StepStats
		if err != nil {
			report.RecordFailure(step.Name, err, trace)
			logger.ErrorContext(stepCtx, "step failed", "step", step.Name, "module", step.Module, "error", err)
		} else {
			stats = stepStats(out, working.Rows(), elapsed)
			report.RecordSuccess(step.Name, stats)
			for _, w := range out.Warnings {
				logger.WarnContext(stepCtx, "step warning", "step", step.Name, "warning", w)
			}
			logger.InfoContext(stepCtx, "step completed", "step", step.Name, "rows_in", working.Rows(),
				"rows_out", out.Table.Rows(), "duration", elapsed)
			working = out.Table
		}

		for _, obs := range o.observers {
			obs.PostStep(stepCtx, info, stats, elapsed, err)
		}

		if err != nil && o.stopOnError {
			logger.WarnContext(ctx, "stopping after failed step", "step", step.Name)
			break
		}
	}

	report.Finish(working, o.now())

	outcome := ports.OutcomeSuccess
	if report.HasErrors() {
		outcome = ports.OutcomeCompletedWithErrs
	}
	if runErr != nil {
		outcome = ports.OutcomeFailure
	}
	o.record(context.WithoutCancel(ctx), logger, ports.AuditEvent{
		Action: ports.ActionPipelineEnd,
		User:   user,
		Details: map[string]any{
			"run_id":          report.RunID,
			"status":          string(report.Status),
			"steps_completed": report.StepsCompleted,
			"errors":          len(report.Errors),
			"rows_out":        report.RowsOut,
		},
		Outcome: outcome,
	})
	logger.InfoContext(ctx, "pipeline finished", "status", report.Status, "errors", len(report.Errors),
		"rows_out", report.RowsOut, "duration", report.Duration())

	return working, report, runErr
}

// execute builds and applies one step, converting panics into errors.
// The trace is the panic stack, or the wrapped error chain for errors.
func (o *Orchestrator) execute(ctx context.Context, step Step, table *domain.Table, user *domain.Identity) (out domain.StepOutput, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			trace = string(debug.Stack())
		}
	}()

	transform, err := step.Factory(maps.Clone(step.Params))
	if err != nil {
		return domain.StepOutput{}, errorTrace(err), err
	}
	if transform == nil {
		err = fmt.Errorf("module %s built no transform", step.Module)
		return domain.StepOutput{}, errorTrace(err), err
	}

	out, err = transform.Apply(ctx, table, user)
	if err != nil {
		return domain.StepOutput{}, errorTrace(err), err
	}
	if out.Table == nil {
		err = fmt.Errorf("module %s returned no table", step.Module)
		return domain.StepOutput{}, errorTrace(err), err
	}
	if verr := out.Table.Validate(); verr != nil {
		err = fmt.Errorf("module %s returned an invalid table: %w", step.Module, verr)
		return domain.StepOutput{}, errorTrace(err), err
	}
	return out, "", nil
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, event ports.AuditEvent) {
	if o.audit == nil {
		return
	}
	event.Time = o.now()
	if err := o.audit.Record(ctx, event); err != nil {
		logger.WarnContext(ctx, "audit record failed", "action", event.Action, "error", err)
	}
}

// checkSteps enforces the run preconditions on the step list. Disabled
// steps are checked too so that toggling a step never changes validity.
func checkSteps(steps []Step) error {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: step %d", ErrEmptyStepName, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateStep, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Factory == nil {
			return fmt.Errorf("%w: %q", ErrNilFactory, s.Name)
		}
	}
	return nil
}

func enabledNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Enabled {
			names = append(names, s.Name)
		}
	}
	return names
}

// stepStats merges transform metrics with the fixed step fields. The
// fixed fields win on key collisions.
func stepStats(out domain.StepOutput, rowsIn int, elapsed time.Duration) domain.StepStats {
	stats := make(domain.StepStats, len(out.Metrics)+5)
	maps.Copy(stats, out.Metrics)
	stats["status"] = "success"
	stats["rows_in"] = rowsIn
	stats["rows_out"] = out.Table.Rows()
	stats["duration_seconds"] = elapsed.Seconds()
	warnings := out.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	stats["warnings"] = warnings
	return stats
}

// errorTrace renders the wrapped error chain, outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
