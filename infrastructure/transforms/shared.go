// Package transforms provides the built-in cleaning transforms that
// implement ports.Transform: missing-value imputation, text normalization,
// outlier detection and LLM-backed normalization.
package transforms

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// Registered module names of the built-in transforms.
const (
	ModuleImputer       = "missing_imputer"
	ModuleNormalizer    = "text_normalizer"
	ModuleOutlier       = "outlier_detector"
	ModuleLLMNormalizer = "intelligent_text_normalizer"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// ColumnList is a list of column names. In parameters it may be written
// either as a sequence or as a single scalar naming one column.
type ColumnList []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (c *ColumnList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*c = nil
			return nil
		}
		*c = ColumnList{node.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*c = names
		return nil
	default:
		return fmt.Errorf("columns must be a name or a list of names, got %s", kindName(node.Kind))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "node"
	}
}

// decodeParams decodes loosely typed step parameters into config, which
// must be a pointer to a struct already holding its defaults. Unknown keys
// are rejected so that typos surface as configuration errors.
func decodeParams(module string, params map[string]any, config any) error {
	if len(params) == 0 {
		return validateConfig(module, config)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	if err := encoder.Encode(params); err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close YAML encoder: %w", err)
	}

	decoder := yaml.NewDecoder(&buf)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			return err
		}
		verr := domain.NewValidationError(module)
		verr.AddError(fmt.Sprintf("failed to decode parameters (check for typos): %v", err))
		return verr
	}

	return validateConfig(module, config)
}

// validateConfig runs struct-tag validation and converts failures into a
// domain.ValidationError naming every offending field.
func validateConfig(module string, config any) error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	verr := domain.NewValidationError(module)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.AddError(fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return verr
	}
	verr.AddError(err.Error())
	return verr
}

// requireColumns fails with a ColumnNotFoundError listing every name that
// is not a column of table.
func requireColumns(table *domain.Table, names []string) error {
	if missing := table.MissingColumns(names); len(missing) > 0 {
		return domain.NewColumnNotFoundError(missing...)
	}
	return nil
}

// uniqueColumns returns names without duplicates, keeping first occurrences.
func uniqueColumns(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// presentValues returns the non-missing values of a numeric column in
// row order.
func presentValues(col domain.Column) []float64 {
	vals := make([]float64, 0, len(col.Cells))
	for _, cell := range col.Cells {
		if v, ok := cell.Float(); ok {
			vals = append(vals, v)
		}
	}
	return vals
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// sampleStd returns the standard deviation with one degree of freedom
// removed. It needs at least two values.
func sampleStd(vals []float64) float64 {
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// quantile returns the q-th quantile of vals using linear interpolation
// between closest ranks. vals need not be sorted.
func quantile(vals []float64, q float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(pos)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
