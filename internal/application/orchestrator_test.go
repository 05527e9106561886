package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetpilot/sheetpilot/infrastructure/transforms"
	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
	"github.com/sheetpilot/sheetpilot/internal/testutils"
)

// fakeTransform applies fn, or returns the table unchanged when fn is nil.
type fakeTransform struct {
	name string
	fn   func(ctx context.Context, t *domain.Table) (domain.StepOutput, error)
}

func (f *fakeTransform) Name() string { return f.name }

func (f *fakeTransform) Apply(ctx context.Context, t *domain.Table, _ *domain.Identity) (domain.StepOutput, error) {
	if f.fn == nil {
		return domain.StepOutput{Table: t.Clone()}, nil
	}
	return f.fn(ctx, t)
}

func fakeStep(name string, fn func(ctx context.Context, t *domain.Table) (domain.StepOutput, error)) Step {
	return Step{
		Name:   name,
		Module: "fake",
		Factory: func(map[string]any) (ports.Transform, error) {
			return &fakeTransform{name: "fake", fn: fn}, nil
		},
		Enabled: true,
	}
}

// addColumn returns a step that appends a constant numeric column named col.
func addColumn(col string) func(context.Context, *domain.Table) (domain.StepOutput, error) {
	return func(_ context.Context, t *domain.Table) (domain.StepOutput, error) {
		vals := make([]float64, t.Rows())
		out, err := t.WithColumn(domain.NumericColumn(col, vals...))
		return domain.StepOutput{Table: out, Metrics: map[string]any{"added": col}}, err
	}
}

func failing(msg string) func(context.Context, *domain.Table) (domain.StepOutput, error) {
	return func(context.Context, *domain.Table) (domain.StepOutput, error) {
		return domain.StepOutput{}, errors.New(msg)
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	pre  []string
	post []string
	errs []error
}

type observerKey struct{}

func (o *recordingObserver) PreStep(ctx context.Context, info ports.StepInfo) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pre = append(o.pre, info.Step)
	return context.WithValue(ctx, observerKey{}, info.Step)
}

func (o *recordingObserver) PostStep(ctx context.Context, info ports.StepInfo, _ domain.StepStats, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Value(observerKey{}) == info.Step {
		o.post = append(o.post, info.Step)
	}
	o.errs = append(o.errs, err)
}

type auditRecorder struct {
	mu     sync.Mutex
	events []ports.AuditEvent
}

func (a *auditRecorder) Record(_ context.Context, e ports.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func newTestOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	base := []OrchestratorOption{WithRunIDGenerator(func() string { return "run-1" })}
	return NewOrchestrator(append(base, opts...)...)
}

func TestOrchestrator_NoSteps(t *testing.T) {
	table := testutils.MixedTable()

	out, report, err := newTestOrchestrator().Run(context.Background(), table, nil, nil)
	require.NoError(t, err)

	assert.True(t, table.Equal(out))
	assert.Empty(t, report.StepsCompleted)
	assert.Empty(t, report.Errors)
	assert.Equal(t, domain.StatusCompleted, report.Status)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, table.Rows(), report.RowsIn)
	assert.Equal(t, table.Rows(), report.RowsOut)
	assert.Equal(t, table.Width(), report.Columns)
}

func TestOrchestrator_FailingStepIsIsolated(t *testing.T) {
	table := testutils.MixedTable()
	steps := []Step{fakeStep("broken", failing("boom"))}

	out, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	assert.True(t, table.Equal(out))
	assert.Empty(t, report.StepsCompleted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "broken", report.Errors[0].Module)
	assert.Equal(t, "boom", report.Errors[0].Message)
	assert.Contains(t, report.Errors[0].Trace, "boom")
	assert.Equal(t, domain.StatusCompletedWithErrors, report.Status)
}

func TestOrchestrator_OrderAndDisabledSteps(t *testing.T) {
	table := testutils.MixedTable()
	disabled := fakeStep("skipped", addColumn("never"))
	disabled.Enabled = false
	steps := []Step{
		fakeStep("first", addColumn("a")),
		disabled,
		fakeStep("second", failing("nope")),
		fakeStep("third", addColumn("b")),
	}

	out, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "third"}, report.StepsCompleted)
	assert.Equal(t, append(table.ColumnNames(), "a", "b"), out.ColumnNames())
	assert.NotContains(t, report.Stats, "skipped")
	assert.False(t, out.HasColumn("never"))

	stats := report.Stats["first"]
	assert.Equal(t, "success", stats["status"])
	assert.Equal(t, table.Rows(), stats["rows_in"])
	assert.Equal(t, table.Rows(), stats["rows_out"])
	assert.Equal(t, "a", stats["added"])
	assert.Equal(t, []string{}, stats["warnings"])
}

func TestOrchestrator_StopOnError(t *testing.T) {
	table := testutils.MixedTable()
	steps := []Step{
		fakeStep("broken", failing("boom")),
		fakeStep("after", addColumn("a")),
	}

	out, report, err := newTestOrchestrator(WithStopOnError(true)).Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	assert.True(t, table.Equal(out))
	assert.Empty(t, report.StepsCompleted)
	assert.Len(t, report.Errors, 1)
}

func TestOrchestrator_PanicIsRecorded(t *testing.T) {
	table := testutils.MixedTable()
	steps := []Step{
		fakeStep("panics", func(context.Context, *domain.Table) (domain.StepOutput, error) {
			panic("kaboom")
		}),
		fakeStep("after", addColumn("a")),
	}

	out, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "panic: kaboom", report.Errors[0].Message)
	assert.Contains(t, report.Errors[0].Trace, "goroutine")
	assert.Equal(t, []string{"after"}, report.StepsCompleted)
	assert.True(t, out.HasColumn("a"))
}

func TestOrchestrator_BadTransformOutput(t *testing.T) {
	table := testutils.MixedTable()
	steps := []Step{
		fakeStep("nil-table", func(context.Context, *domain.Table) (domain.StepOutput, error) {
			return domain.StepOutput{}, nil
		}),
		{
			Name:    "nil-transform",
			Module:  "fake",
			Factory: func(map[string]any) (ports.Transform, error) { return nil, nil },
			Enabled: true,
		},
	}

	out, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	assert.True(t, table.Equal(out))
	assert.Len(t, report.Errors, 2)
}

func TestOrchestrator_ConfigurationErrorsBecomeStepErrors(t *testing.T) {
	registry := NewModuleRegistry()
	imputer, _ := registry.Get(transforms.ModuleImputer)
	table := testutils.MixedTable()
	steps := []Step{
		{Name: "bad-method", Module: transforms.ModuleImputer, Factory: imputer, Params: map[string]any{"method": "magic"}, Enabled: true},
		{Name: "bad-column", Module: transforms.ModuleImputer, Factory: imputer, Params: map[string]any{"columns": []string{"ghost"}}, Enabled: true},
	}

	_, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)

	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0].Message, "magic")
	assert.Contains(t, report.Errors[1].Message, "ghost")
}

func TestOrchestrator_BuiltinPipeline(t *testing.T) {
	registry := NewModuleRegistry()
	imputer, _ := registry.Get(transforms.ModuleImputer)
	normalizer, _ := registry.Get(transforms.ModuleNormalizer)
	table := testutils.MixedTable()
	steps := []Step{
		{Name: "impute", Module: transforms.ModuleImputer, Factory: imputer, Params: map[string]any{"columns": []string{"score"}}, Enabled: true},
		{Name: "clean", Module: transforms.ModuleNormalizer, Factory: normalizer, Params: map[string]any{"columns": "name"}, Enabled: true},
	}

	out, report, err := newTestOrchestrator().Run(context.Background(), table, steps, nil)
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	score, _ := out.Column("score")
	assert.Equal(t, []float64{1, 3, 3, 3, 5}, score.Floats())
	name, _ := out.Column("name")
	got := make([]string, name.Len())
	for i, c := range name.Cells {
		got[i], _ = c.Str()
	}
	assert.Equal(t, []string{"alice", "bob", "", "carol", "dave"}, got)

	original, _ := table.Column("score")
	assert.Equal(t, 2, original.MissingCount(), "input table is untouched")
}

func TestOrchestrator_Preconditions(t *testing.T) {
	table := testutils.MixedTable()
	nilFactory := fakeStep("b", nil)
	nilFactory.Factory = nil

	tests := []struct {
		name   string
		table  *domain.Table
		steps  []Step
		target error
	}{
		{name: "nil table", table: nil, target: domain.ErrNilTable},
		{name: "empty name", table: table, steps: []Step{fakeStep(" ", nil)}, target: ErrEmptyStepName},
		{name: "duplicate name", table: table, steps: []Step{fakeStep("a", nil), fakeStep("a", nil)}, target: ErrDuplicateStep},
		{name: "nil factory", table: table, steps: []Step{fakeStep("a", nil), nilFactory}, target: ErrNilFactory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, report, err := newTestOrchestrator().Run(context.Background(), tt.table, tt.steps, nil)
			assert.ErrorIs(t, err, tt.target)
			assert.Nil(t, report)
		})
	}
}

func TestOrchestrator_Observers(t *testing.T) {
	obs := &recordingObserver{}
	steps := []Step{fakeStep("ok", nil), fakeStep("bad", failing("x"))}

	_, _, err := newTestOrchestrator(WithStepObserver(obs)).Run(context.Background(), testutils.MixedTable(), steps, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok", "bad"}, obs.pre)
	assert.Equal(t, []string{"ok", "bad"}, obs.post, "PostStep receives the PreStep context")
	require.Len(t, obs.errs, 2)
	assert.NoError(t, obs.errs[0])
	assert.EqualError(t, obs.errs[1], "x")
}

// ctxHandler records, per message, the step stored in the record's
// context by recordingObserver.
type ctxHandler struct {
	mu    sync.Mutex
	steps map[string]any
}

func (h *ctxHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps[r.Message] = ctx.Value(observerKey{})
	return nil
}

func (h *ctxHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ctxHandler) WithGroup(string) slog.Handler      { return h }

func TestOrchestrator_StepLogsCarryObserverContext(t *testing.T) {
	h := &ctxHandler{steps: map[string]any{}}
	steps := []Step{fakeStep("ok", nil), fakeStep("bad", failing("x"))}

	_, _, err := newTestOrchestrator(
		WithStepObserver(&recordingObserver{}),
		WithLogger(slog.New(h)),
	).Run(context.Background(), testutils.MixedTable(), steps, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", h.steps["step completed"])
	assert.Equal(t, "bad", h.steps["step failed"])
	assert.Nil(t, h.steps["pipeline finished"])
}

func TestOrchestrator_Audit(t *testing.T) {
	sink := &auditRecorder{}
	user := &domain.Identity{ID: "1", Username: "ana", Role: "analyst"}
	steps := []Step{fakeStep("ok", nil), fakeStep("bad", failing("x"))}

	_, _, err := newTestOrchestrator(WithAuditSink(sink)).Run(context.Background(), testutils.MixedTable(), steps, user)
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	start, end := sink.events[0], sink.events[1]
	assert.Equal(t, ports.ActionPipelineStart, start.Action)
	assert.Equal(t, []string{"ok", "bad"}, start.Details["steps"])
	assert.Equal(t, 5, start.Details["rows"])
	assert.Same(t, user, start.User)
	assert.Equal(t, ports.ActionPipelineEnd, end.Action)
	assert.Equal(t, ports.OutcomeCompletedWithErrs, end.Outcome)
	assert.Equal(t, 1, end.Details["errors"])
	assert.Equal(t, []string{"ok"}, end.Details["steps_completed"])
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	table := testutils.MixedTable()
	ctx, cancel := context.WithCancel(context.Background())
	steps := []Step{
		fakeStep("cancels", func(_ context.Context, t *domain.Table) (domain.StepOutput, error) {
			cancel()
			return addColumn("a")(ctx, t)
		}),
		fakeStep("never", addColumn("b")),
	}

	out, report, err := newTestOrchestrator().Run(ctx, table, steps, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []string{"cancels"}, report.StepsCompleted)
	assert.True(t, out.HasColumn("a"))
	assert.False(t, out.HasColumn("b"))
}

func TestOrchestrator_ConcurrentRuns(t *testing.T) {
	o := NewOrchestrator()
	table := testutils.MixedTable()
	steps := []Step{fakeStep("a", addColumn("a"))}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, report, err := o.Run(context.Background(), table, steps, nil)
			if assert.NoError(t, err) {
				ids[i] = report.RunID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "run IDs are unique")
		seen[id] = true
	}
	assert.False(t, table.HasColumn("a"))
}
