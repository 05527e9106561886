package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/sheetpilot/sheetpilot/infrastructure/audit"
	"github.com/sheetpilot/sheetpilot/infrastructure/llm"
	"github.com/sheetpilot/sheetpilot/infrastructure/logging"
	"github.com/sheetpilot/sheetpilot/infrastructure/middleware"
	"github.com/sheetpilot/sheetpilot/internal/application"
	"github.com/sheetpilot/sheetpilot/internal/config"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	gatherer *prometheus.Registry
	metrics  *middleware.PrometheusMetrics
	observer ports.StepObserver
	audit    ports.AuditSink
	llm      ports.LLMClient
	modules  *application.ModuleRegistry

	closers []func(context.Context) error
}

// appOverrides carries flag values that take precedence over settings.
type appOverrides struct {
	traceFile  string
	pluginDirs []string
	llmModel   string
}

func newApp(opts *rootOptions, over appOverrides, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.appConfig)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if over.traceFile != "" {
		cfg.Tracing.File = over.traceFile
	}
	if len(over.pluginDirs) > 0 {
		cfg.Pipeline.PluginDirs = over.pluginDirs
	}
	if over.llmModel != "" {
		cfg.LLM.Model = over.llmModel
	}

	logger, err := logging.Initialize(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
		Writer:    stderr,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, gatherer: prometheus.NewRegistry()}
	a.metrics = middleware.NewPrometheusMetrics(a.gatherer)

	if err := a.initTracing(); err != nil {
		return nil, err
	}
	a.observer = middleware.NewOTelStepObserver(nil, a.metrics)

	if err := a.initAudit(); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	a.llm = a.buildLLMClient()
	a.modules = application.NewModuleRegistry(
		application.WithRegistryLogger(logger),
		application.WithLLMClient(a.llm),
		application.WithRegistryAuditSink(a.audit),
	)
	if dirs := cfg.Pipeline.PluginDirs; len(dirs) > 0 {
		res := a.modules.Scan(dirs...)
		logger.Info("plugin scan finished", "loaded", len(res.Loaded), "warnings", len(res.Warnings))
	}
	return a, nil
}

func (a *app) initTracing() error {
	if a.cfg.Tracing.File == "" {
		return nil
	}
	f, err := os.Create(a.cfg.Tracing.File)
	if err != nil {
		return fmt.Errorf("creating trace file: %w", err)
	}
	shutdown, err := middleware.InitTracing(middleware.TracingConfig{
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Writer:         f,
	})
	if err != nil {
		f.Close()
		return err
	}
	a.closers = append(a.closers, shutdown, func(context.Context) error { return f.Close() })
	return nil
}

func (a *app) initAudit() error {
	if !a.cfg.Audit.Enabled {
		return nil
	}
	sink, err := audit.Open(a.cfg.Audit.Path)
	if err != nil {
		return err
	}
	a.audit = sink
	a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
	return nil
}

// buildLLMClient returns nil when the configured provider has no API key;
// the LLM normalizer then passes text through unchanged.
func (a *app) buildLLMClient() ports.LLMClient {
	cfg := a.cfg.LLM
	breaker := llm.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown)
	breaker.OnTransition(func(from, to llm.CircuitBreakerState) {
		a.logger.Warn("llm circuit breaker", "from", from.String(), "to", to.String())
	})

	mw := []llm.Middleware{
		llm.TracingMiddleware(cfg.Provider, nil),
		llm.MetricsMiddleware(cfg.Provider, a.metrics),
		breaker.Middleware(),
	}
	if cfg.MaxRetries > 0 {
		mw = append(mw, llm.RetryMiddleware(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay))
	}
	if cfg.RequestsPerSecond > 0 {
		mw = append(mw, llm.RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), cfg.Burst))
	}
	mw = append(mw, llm.TimeoutMiddleware(cfg.Timeout))

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		DefaultProvider: cfg.Provider,
		Timeout:         cfg.Timeout,
		Middleware:      mw,
	})
	if err != nil {
		a.logger.Warn("llm disabled", "error", err)
		return nil
	}
	ref := cfg.Provider
	if cfg.Model != "" {
		ref += "/" + cfg.Model
	}
	client, err := registry.Client(ref)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, llm.ErrNoAPIKey) {
			level = slog.LevelInfo
		}
		a.logger.Log(context.Background(), level, "llm disabled", "error", err, "available", registry.Available())
		return nil
	}
	a.logger.Debug("llm client ready", "provider", cfg.Provider, "model", client.GetModel())
	return client
}

// Close flushes exporters and closes files in reverse order of opening.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// recordAudit writes event when auditing is enabled. Failures are logged
// and never fail the command.
func (a *app) recordAudit(ctx context.Context, event ports.AuditEvent) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Record(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "audit record failed", "action", event.Action, "error", err)
	}
}
