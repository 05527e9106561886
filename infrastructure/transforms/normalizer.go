package transforms

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

var _ ports.Transform = (*Normalizer)(nil)

// asciiPunctuation holds the characters stripped by remove_punct.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// SlangEntry is one substring replacement.
type SlangEntry struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to"`
}

// SlangDict is an ordered list of replacements applied in entry order.
type SlangDict []SlangEntry

// UnmarshalYAML accepts a mapping, whose key order is kept, or a sequence
// of {from, to} entries.
func (d *SlangDict) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		entries := make(SlangDict, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var from, to string
			if err := node.Content[i].Decode(&from); err != nil {
				return err
			}
			if err := node.Content[i+1].Decode(&to); err != nil {
				return err
			}
			entries = append(entries, SlangEntry{From: from, To: to})
		}
		*d = entries
		return nil
	case yaml.SequenceNode:
		var entries []SlangEntry
		if err := node.Decode(&entries); err != nil {
			return err
		}
		*d = entries
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*d = nil
			return nil
		}
	}
	return fmt.Errorf("slang_dict must be a mapping or a list of {from, to} entries, got %s", kindName(node.Kind))
}

// NormalizerConfig configures the text normalizer.
type NormalizerConfig struct {
	Columns         ColumnList `yaml:"columns" validate:"required,min=1,dive,required"`
	Lowercase       bool       `yaml:"lowercase"`
	RemovePunct     bool       `yaml:"remove_punct"`
	RemoveStopwords bool       `yaml:"remove_stopwords"`
	SlangDict       SlangDict  `yaml:"slang_dict" validate:"dive"`
}

// DefaultNormalizerConfig returns the normalizer defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		Lowercase:   true,
		RemovePunct: true,
	}
}

// Normalizer cleans free text in the target columns.
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer validates config and returns a Normalizer.
func NewNormalizer(config NormalizerConfig) (*Normalizer, error) {
	if err := validateConfig(ModuleNormalizer, &config); err != nil {
		return nil, err
	}
	return &Normalizer{config: config}, nil
}

// CreateNormalizer is the registry factory for the text normalizer.
func CreateNormalizer(params map[string]any) (ports.Transform, error) {
	config := DefaultNormalizerConfig()
	if err := decodeParams(ModuleNormalizer, params, &config); err != nil {
		return nil, err
	}
	return NewNormalizer(config)
}

// Name returns the module name.
func (n *Normalizer) Name() string { return ModuleNormalizer }

// Apply normalizes every cell of the target columns. The resulting columns
// are text with no missing cells.
func (n *Normalizer) Apply(ctx context.Context, table *domain.Table, _ *domain.Identity) (domain.StepOutput, error) {
	columns := uniqueColumns(n.config.Columns)
	if err := requireColumns(table, columns); err != nil {
		return domain.StepOutput{}, err
	}
	for _, name := range columns {
		col, _ := table.Column(name)
		if col.Kind != domain.KindText {
			return domain.StepOutput{}, &domain.NonTextColumnError{Column: name, Kind: col.Kind}
		}
	}

	lower := cases.Lower(language.Und)
	out := table.Clone()
	changed := 0
	for _, name := range columns {
		if err := ctx.Err(); err != nil {
			return domain.StepOutput{}, err
		}
		col, _ := out.Column(name)
		for i, cell := range col.Cells {
			before, ok := cell.Str()
			after := n.normalize(before, lower)
			if !ok || after != before {
				changed++
			}
			col.Cells[i] = domain.Text(after)
		}
		var err error
		if out, err = out.WithColumn(col); err != nil {
			return domain.StepOutput{}, err
		}
	}

	return domain.StepOutput{
		Table: out,
		Metrics: map[string]any{
			"cells_changed": changed,
		},
	}, nil
}

func (n *Normalizer) normalize(s string, lower cases.Caser) string {
	s = strings.TrimSpace(s)
	if n.config.Lowercase {
		s = lower.String(s)
	}
	if n.config.RemovePunct {
		s = stripPunctuation(s)
	}
	for _, e := range n.config.SlangDict {
		s = strings.ReplaceAll(s, e.From, e.To)
	}
	tokens := strings.Fields(s)
	if n.config.RemoveStopwords {
		kept := tokens[:0]
		for _, tok := range tokens {
			if _, stop := englishStopwords[tok]; !stop {
				kept = append(kept, tok)
			}
		}
		tokens = kept
	}
	return strings.Join(tokens, " ")
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x80 && strings.ContainsRune(asciiPunctuation, r) {
			return -1
		}
		return r
	}, s)
}
