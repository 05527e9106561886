package transforms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"text/template"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

var _ ports.Transform = (*LLMNormalizer)(nil)

// ResponseCue marks where the normalized text starts in a model response.
const ResponseCue = "Normalized text:"

// passthroughPreview is how many values per column are logged when no
// client is available.
const passthroughPreview = 5

// LLMNormalizerConfig configures the LLM-backed normalizer.
type LLMNormalizerConfig struct {
	Columns ColumnList `yaml:"columns" validate:"required,min=1,dive,required"`

	// NormalizationRules is free text describing the desired output. When
	// empty the transform leaves the table unchanged.
	NormalizationRules string `yaml:"normalization_rules"`

	// PromptTemplate overrides the built-in prompt. It is a text/template
	// executed against PromptData.
	PromptTemplate string `yaml:"prompt_template"`

	MaxNewTokens   int     `yaml:"max_new_tokens" validate:"gte=1,lte=4096"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP           float64 `yaml:"top_p" validate:"gt=0,lte=1"`
	MaxConcurrency int     `yaml:"max_concurrency" validate:"gte=1,lte=32"`
}

// DefaultLLMNormalizerConfig returns the LLM normalizer defaults.
func DefaultLLMNormalizerConfig() LLMNormalizerConfig {
	return LLMNormalizerConfig{
		MaxNewTokens:   50,
		Temperature:    0.7,
		TopP:           0.9,
		MaxConcurrency: 1,
	}
}

// LLMNormalizerOption customizes an LLMNormalizer.
type LLMNormalizerOption func(*LLMNormalizer)

// WithNormalizerLogger sets the logger. Defaults to slog.Default().
func WithNormalizerLogger(logger *slog.Logger) LLMNormalizerOption {
	return func(n *LLMNormalizer) { n.logger = logger }
}

// WithNormalizerAudit sets the sink that receives the usage event.
func WithNormalizerAudit(sink ports.AuditSink) LLMNormalizerOption {
	return func(n *LLMNormalizer) { n.audit = sink }
}

// LLMNormalizer rewrites text cells with a text-generation client. A nil
// client puts it in passthrough mode.
type LLMNormalizer struct {
	config LLMNormalizerConfig
	prompt *template.Template
	client ports.LLMClient
	logger *slog.Logger
	audit  ports.AuditSink
}

// NewLLMNormalizer validates config and returns an LLMNormalizer.
func NewLLMNormalizer(config LLMNormalizerConfig, client ports.LLMClient, opts ...LLMNormalizerOption) (*LLMNormalizer, error) {
	if err := validateConfig(ModuleLLMNormalizer, &config); err != nil {
		return nil, err
	}
	n := &LLMNormalizer{
		config: config,
		client: client,
		logger: slog.Default(),
	}
	if strings.TrimSpace(config.PromptTemplate) != "" {
		tmpl, err := parsePromptTemplate(config.PromptTemplate)
		if err != nil {
			verr := domain.NewValidationError(ModuleLLMNormalizer)
			verr.AddError(err.Error())
			return nil, verr
		}
		n.prompt = tmpl
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("module", ModuleLLMNormalizer)
	return n, nil
}

// NewLLMNormalizerFactory returns the registry factory bound to client.
func NewLLMNormalizerFactory(client ports.LLMClient, opts ...LLMNormalizerOption) ports.TransformFactory {
	return func(params map[string]any) (ports.Transform, error) {
		config := DefaultLLMNormalizerConfig()
		if err := decodeParams(ModuleLLMNormalizer, params, &config); err != nil {
			return nil, err
		}
		return NewLLMNormalizer(config, client, opts...)
	}
}

// Name returns the module name.
func (n *LLMNormalizer) Name() string { return ModuleLLMNormalizer }

// FormatPrompt builds the instruction sent for one value.
func FormatPrompt(text, rules string) string {
	return fmt.Sprintf(
		"Please normalize the following text based on these rules: '%s'.\n"+
			"Original text: '''%s'''\n"+
			"Return only the normalized text, with no additional explanation, labels, or markdown formatting.\n"+
			"%s", rules, text, ResponseCue)
}

// ParseResponse extracts the normalized text from a model response. It
// takes the text after the last cue, else strips an echoed prompt, else
// falls back to the whole response. confident is false for the fallback.
func ParseResponse(response, prompt string) (text string, confident bool) {
	if i := strings.LastIndex(response, ResponseCue); i >= 0 {
		return strings.TrimSpace(response[i+len(ResponseCue):]), true
	}
	if prompt != "" && strings.HasPrefix(response, prompt) {
		return strings.TrimSpace(response[len(prompt):]), true
	}
	return strings.TrimSpace(response), false
}

// Apply normalizes the non-empty text cells of the target columns. Per-row
// failures leave the value as is and are only counted.
func (n *LLMNormalizer) Apply(ctx context.Context, table *domain.Table, user *domain.Identity) (domain.StepOutput, error) {
	columns := uniqueColumns(n.config.Columns)
	out := table.Clone()
	metrics := map[string]any{"processed": 0, "failed": 0}

	if strings.TrimSpace(n.config.NormalizationRules) == "" {
		n.logger.WarnContext(ctx, "normalization_rules not provided, skipping normalization")
		return domain.StepOutput{
			Table:    out,
			Warnings: []string{"normalization_rules not provided; table left unchanged"},
			Metrics:  metrics,
		}, nil
	}

	if n.client == nil {
		return n.passthrough(ctx, out, columns, metrics), nil
	}

	model := n.client.GetModel()
	metrics["model"] = model
	n.logger.InfoContext(ctx, "normalizing columns",
		"user", user.Name(), "columns", columns, "model", model)
	n.recordUsage(ctx, user, columns, model)

	var warnings []string
	var processed, failed atomic.Int64
	for _, name := range columns {
		col, ok := out.Column(name)
		if !ok {
			n.logger.WarnContext(ctx, "column not found, skipping", "column", name)
			warnings = append(warnings, fmt.Sprintf("column %q not found; skipped", name))
			continue
		}
		if col.Kind != domain.KindText {
			n.logger.WarnContext(ctx, "column is not text, skipping", "column", name, "kind", col.Kind.String())
			warnings = append(warnings, fmt.Sprintf("column %q is not text (kind=%s); skipped", name, col.Kind))
			continue
		}

		start := time.Now()
		var colProcessed, colFailed atomic.Int64
		var g errgroup.Group
		g.SetLimit(n.config.MaxConcurrency)
		for i, cell := range col.Cells {
			text, ok := cell.Str()
			if !ok || strings.TrimSpace(text) == "" {
				continue
			}
			g.Go(func() error {
				normalized, err := n.normalizeValue(ctx, name, i, text)
				if err != nil {
					colFailed.Add(1)
					n.logger.ErrorContext(ctx, "inference failed, keeping original value",
						"column", name, "row", i, "error", err)
					return nil
				}
				col.Cells[i] = domain.Text(normalized)
				colProcessed.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return domain.StepOutput{}, err
		}

		var err error
		if out, err = out.WithColumn(col); err != nil {
			return domain.StepOutput{}, err
		}
		processed.Add(colProcessed.Load())
		failed.Add(colFailed.Load())
		n.logger.InfoContext(ctx, "finished column",
			"column", name,
			"processed", colProcessed.Load(),
			"failed", colFailed.Load(),
			"duration", time.Since(start))
	}

	metrics["processed"] = int(processed.Load())
	metrics["failed"] = int(failed.Load())
	return domain.StepOutput{Table: out, Warnings: warnings, Metrics: metrics}, nil
}

func (n *LLMNormalizer) buildPrompt(column string, row int, text string) (string, error) {
	if n.prompt == nil {
		return FormatPrompt(text, n.config.NormalizationRules), nil
	}
	return renderPrompt(n.prompt, PromptData{
		Text:   text,
		Rules:  n.config.NormalizationRules,
		Column: column,
		Row:    row,
		Cue:    ResponseCue,
	})
}

func (n *LLMNormalizer) normalizeValue(ctx context.Context, column string, row int, text string) (string, error) {
	prompt, err := n.buildPrompt(column, row, text)
	if err != nil {
		return "", err
	}

	tokens, err := n.client.EstimateTokens(text)
	if err != nil {
		tokens = utf8.RuneCountInString(text)
	}
	options := map[string]any{
		"max_tokens":  tokens + n.config.MaxNewTokens,
		"temperature": n.config.Temperature,
		"top_p":       n.config.TopP,
	}

	response, err := n.client.Complete(ctx, prompt, options)
	if err != nil {
		return "", ports.NewLLMError(n.client.GetModel(), "complete", err)
	}
	normalized, confident := ParseResponse(response, prompt)
	if !confident {
		n.logger.WarnContext(ctx, "could not reliably parse response, using raw output", "response", response)
	}
	if normalized == "" {
		return "", ports.NewLLMError(n.client.GetModel(), "parse", ports.ErrInvalidResponse)
	}
	return normalized, nil
}

func (n *LLMNormalizer) passthrough(ctx context.Context, out *domain.Table, columns []string, metrics map[string]any) domain.StepOutput {
	n.logger.WarnContext(ctx, "no llm client configured, returning table unchanged",
		"error", ports.ErrLLMUnavailable)
	for _, name := range columns {
		col, ok := out.Column(name)
		if !ok {
			n.logger.WarnContext(ctx, "column not found, skipping", "column", name)
			continue
		}
		for i := 0; i < min(passthroughPreview, col.Len()); i++ {
			n.logger.InfoContext(ctx, "would normalize value",
				"column", name, "row", i, "value", col.Cells[i].String(),
				"rules", n.config.NormalizationRules)
		}
	}
	return domain.StepOutput{
		Table:    out,
		Warnings: []string{ports.ErrLLMUnavailable.Error() + "; table left unchanged"},
		Metrics:  metrics,
	}
}

// recordUsage emits one audit event per run of the transform. Audit
// failures are logged and otherwise ignored.
func (n *LLMNormalizer) recordUsage(ctx context.Context, user *domain.Identity, columns []string, model string) {
	if n.audit == nil || user == nil {
		return
	}
	event := ports.AuditEvent{
		Action: ports.ActionLLMNormalizerUsed,
		User:   user,
		Details: map[string]any{
			"columns_processed":           columns,
			"normalization_rules_applied": n.config.NormalizationRules,
			"model_name":                  model,
		},
		Outcome: ports.OutcomeSuccess,
		Time:    time.Now().UTC(),
	}
	if err := n.audit.Record(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.WarnContext(ctx, "failed to record audit event", "error", err)
	}
}
