package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sheetpilot/sheetpilot/infrastructure/logging"
	"github.com/sheetpilot/sheetpilot/infrastructure/middleware"
	"github.com/sheetpilot/sheetpilot/infrastructure/tableio"
	"github.com/sheetpilot/sheetpilot/infrastructure/transforms"
	"github.com/sheetpilot/sheetpilot/internal/application"
	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// errNoSteps is returned when neither a pipeline file nor any module flag
// was given.
var errNoSteps = errors.New("no cleaning operations specified")

type cleanOptions struct {
	input        string
	format       string
	sheet        string
	output       string
	impute       string
	normalize    string
	outlier      string
	llmNormalize string
	llmModel     string
	pipeline     string
	stopOnError  bool
	skipUnknown  bool
	pluginDirs   []string
	user         string
	role         string
	metricsFile  string
	traceFile    string
	reportFile   string
}

func newCleanCmd(root *rootOptions) *cobra.Command {
	opts := &cleanOptions{}
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run a cleaning pipeline over a data file",
		Long: `Load a data file, run cleaning modules over it in order and save the
result. Modules come from a pipeline file (--config) or from the module
flags, each taking a "key=value key=value" parameter string:

  sheetpilot clean -i data.csv -o clean.csv --impute "columns=age,score method=median"
  sheetpilot clean -i data.xlsx -o clean.xlsx --normalize "columns=name remove_punct=true"
  sheetpilot clean -i data.csv -o clean.csv -c pipeline.yaml

Values containing a comma become lists; true/false become booleans and
numbers are parsed. Module flags run in the order impute, normalize,
outlier, llm-normalize.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Input file path (required)")
	f.StringVarP(&opts.format, "format", "f", "", "Input format: csv, tsv, txt, json, xlsx (default: from extension)")
	f.StringVar(&opts.sheet, "sheet", "", "Worksheet to read from an Excel workbook (default: first)")
	f.StringVarP(&opts.output, "output", "o", "", "Output file path; .xlsx, .json and .tsv select their format, anything else is CSV (required)")
	f.StringVar(&opts.impute, "impute", "", `Imputation parameters, e.g. "columns=A,B method=mean"`)
	f.StringVar(&opts.normalize, "normalize", "", `Normalization parameters, e.g. "columns=X,Y lowercase=true"`)
	f.StringVar(&opts.outlier, "outlier", "", `Outlier parameters, e.g. "columns=P,Q method=iqr threshold=1.5"`)
	f.StringVar(&opts.llmNormalize, "llm-normalize", "", `LLM normalization parameters, e.g. "columns=city normalization_rules=title_case"`)
	f.StringVar(&opts.llmModel, "llm-model", "", "Model to use with the configured LLM provider")
	f.StringVarP(&opts.pipeline, "config", "c", "", "Pipeline file (YAML or JSON), or - for stdin; module flags are ignored when set")
	f.BoolVar(&opts.stopOnError, "stop-on-error", false, "Stop at the first failed step")
	f.BoolVar(&opts.skipUnknown, "skip-unknown", false, "Skip pipeline steps naming unknown modules instead of failing")
	f.StringSliceVar(&opts.pluginDirs, "plugins-dir", nil, "Plugin directories to scan (repeatable)")
	f.StringVar(&opts.user, "user", "", "Username recorded in the audit log")
	f.StringVar(&opts.role, "role", "cli", "Role recorded in the audit log")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	f.StringVar(&opts.traceFile, "trace-file", "", "Write OpenTelemetry spans as JSON to this file")
	f.StringVar(&opts.reportFile, "report", "", "Write the run report as JSON to this file")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runClean(cmd *cobra.Command, root *rootOptions, opts *cleanOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(root, appOverrides{
		traceFile:  opts.traceFile,
		pluginDirs: opts.pluginDirs,
		llmModel:   opts.llmModel,
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("shutdown", "error", cerr)
		}
	}()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	user := identity(opts)

	fmt.Fprintln(out, "SheetPilot CLI")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Loading data from %s...\n", opts.input)
	table, err := tableio.Read(opts.input, tableio.ReadOptions{Format: opts.format, Sheet: opts.sheet})
	if err != nil {
		a.recordAudit(ctx, ports.AuditEvent{
			Action:  ports.ActionDataImported,
			User:    user,
			Details: map[string]any{"input": opts.input, "error": err.Error()},
			Outcome: ports.OutcomeFailure,
		})
		return fmt.Errorf("loading %s: %w", opts.input, err)
	}
	a.recordAudit(ctx, ports.AuditEvent{
		Action:  ports.ActionDataImported,
		User:    user,
		Details: map[string]any{"input": opts.input, "rows": table.Rows(), "columns": table.Width()},
		Outcome: ports.OutcomeSuccess,
	})
	fmt.Fprintf(out, "Loaded %d rows, %d columns\n", table.Rows(), table.Width())

	steps, stopOnError, err := buildSteps(cmd, a, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nRunning cleaning pipeline...")
	orch := application.NewOrchestrator(
		application.WithStopOnError(stopOnError),
		application.WithLogger(a.logger),
		application.WithAuditSink(a.audit),
		application.WithStepObserver(a.observer),
		application.WithRunIDGenerator(func() string { return runID }),
	)
	cleaned, report, runErr := orch.Run(ctx, table, steps, user)
	if report == nil {
		return runErr
	}
	printReport(out, report)

	if opts.reportFile != "" {
		if err := writeReport(opts.reportFile, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(out, "\nSaving cleaned data to %s...\n", opts.output)
	if err := tableio.Write(opts.output, cleaned); err != nil {
		a.recordAudit(ctx, ports.AuditEvent{
			Action:  ports.ActionDataExported,
			User:    user,
			Details: map[string]any{"output": opts.output, "error": err.Error()},
			Outcome: ports.OutcomeFailure,
		})
		return err
	}
	a.recordAudit(ctx, ports.AuditEvent{
		Action:  ports.ActionDataExported,
		User:    user,
		Details: map[string]any{"output": opts.output, "rows": cleaned.Rows(), "run_id": runID},
		Outcome: ports.OutcomeSuccess,
	})
	fmt.Fprintf(out, "Saved %d rows\n", cleaned.Rows())

	metricsFile := opts.metricsFile
	if metricsFile == "" {
		metricsFile = a.cfg.Metrics.TextfilePath
	}
	if metricsFile != "" {
		if err := middleware.WriteTextfile(metricsFile, a.gatherer); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// buildSteps resolves the step list and the stop-on-error policy. The
// flag wins when set explicitly, then the pipeline file, then settings.
func buildSteps(cmd *cobra.Command, a *app, opts *cleanOptions) ([]application.Step, bool, error) {
	stopOnError := a.cfg.Pipeline.StopOnError
	var steps []application.Step

	if opts.pipeline != "" {
		loader, err := application.NewPipelineLoader(a.modules,
			application.WithSkipUnknown(opts.skipUnknown || a.cfg.Pipeline.SkipUnknown),
			application.WithLoaderLogger(a.logger))
		if err != nil {
			return nil, false, err
		}
		var p *application.Pipeline
		if opts.pipeline == "-" {
			p, err = loader.LoadFromReader(cmd.InOrStdin())
		} else {
			p, err = loader.LoadFromFile(opts.pipeline)
		}
		if err != nil {
			return nil, false, err
		}
		for _, w := range p.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		if p.StopOnError != nil {
			stopOnError = *p.StopOnError
		}
		steps = p.Steps
	} else {
		for _, f := range []struct {
			module string
			params string
		}{
			{transforms.ModuleImputer, opts.impute},
			{transforms.ModuleNormalizer, opts.normalize},
			{transforms.ModuleOutlier, opts.outlier},
			{transforms.ModuleLLMNormalizer, opts.llmNormalize},
		} {
			if f.params == "" {
				continue
			}
			factory, ok := a.modules.Get(f.module)
			if !ok {
				return nil, false, fmt.Errorf("module %s is not registered", f.module)
			}
			steps = append(steps, application.Step{
				Name:    f.module,
				Module:  f.module,
				Factory: factory,
				Params:  application.ParseParamString(f.params),
				Enabled: true,
			})
		}
	}

	if cmd.Flags().Changed("stop-on-error") {
		stopOnError = opts.stopOnError
	}
	if len(steps) == 0 {
		return nil, false, errNoSteps
	}
	return steps, stopOnError, nil
}

func identity(opts *cleanOptions) *domain.Identity {
	name := opts.user
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		return nil
	}
	return &domain.Identity{ID: name, Username: name, Role: opts.role}
}

func printReport(w io.Writer, r *domain.Report) {
	fmt.Fprintln(w, "\n=== Cleaning Report ===")
	fmt.Fprintf(w, "Run: %s (%s)\n", r.RunID, r.Status)
	fmt.Fprintf(w, "Steps completed: %s\n", strings.Join(r.StepsCompleted, ", "))
	fmt.Fprintf(w, "Rows: %d -> %d\n", r.RowsIn, r.RowsOut)
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  - %s: %s\n", e.Module, e.Message)
		}
	}
}

func writeReport(path string, r *domain.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
