package transforms

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

var _ ports.Transform = (*OutlierDetector)(nil)

// OutlierColumn is the name of the flag column added by the flag action.
const OutlierColumn = "is_outlier"

// OutlierMethod selects the detection algorithm.
type OutlierMethod int

// Supported detection methods.
const (
	OutlierIQR OutlierMethod = iota
	OutlierZScore
	OutlierIsolation
	OutlierLOF
)

var outlierMethodNames = [...]string{
	OutlierIQR:       "iqr",
	OutlierZScore:    "zscore",
	OutlierIsolation: "isolation",
	OutlierLOF:       "lof",
}

// ParseOutlierMethod converts a method name into an OutlierMethod.
func ParseOutlierMethod(name string) (OutlierMethod, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for m, n := range outlierMethodNames {
		if n == key {
			return OutlierMethod(m), nil
		}
	}
	return 0, &domain.UnknownMethodError{Transform: ModuleOutlier, Method: name}
}

func (m OutlierMethod) String() string {
	if m.valid() {
		return outlierMethodNames[m]
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m OutlierMethod) valid() bool { return m >= 0 && int(m) < len(outlierMethodNames) }

// UnmarshalYAML decodes a method name.
func (m *OutlierMethod) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseOutlierMethod(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// OutlierAction selects what happens to flagged rows.
type OutlierAction int

// Supported actions.
const (
	ActionRemove OutlierAction = iota
	ActionFlag
)

var outlierActionNames = [...]string{
	ActionRemove: "remove",
	ActionFlag:   "flag",
}

// ParseOutlierAction converts an action name into an OutlierAction.
func ParseOutlierAction(name string) (OutlierAction, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for a, n := range outlierActionNames {
		if n == key {
			return OutlierAction(a), nil
		}
	}
	return 0, &domain.UnknownActionError{Transform: ModuleOutlier, Action: name}
}

func (a OutlierAction) String() string {
	if a.valid() {
		return outlierActionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a OutlierAction) valid() bool { return a >= 0 && int(a) < len(outlierActionNames) }

// UnmarshalYAML decodes an action name.
func (a *OutlierAction) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseOutlierAction(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// OutlierConfig configures the outlier detector.
type OutlierConfig struct {
	Columns ColumnList    `yaml:"columns" validate:"required,min=1,dive,required"`
	Method  OutlierMethod `yaml:"method"`
	Action  OutlierAction `yaml:"action"`

	// Threshold overrides the method default: the IQR multiplier (1.5) or
	// the z-score cutoff (3). Ignored by isolation and lof.
	Threshold *float64 `yaml:"threshold" validate:"omitempty,gt=0"`

	// Contamination is the expected outlier fraction for isolation and lof.
	Contamination float64 `yaml:"contamination" validate:"gt=0,lte=0.5"`
	NNeighbors    int     `yaml:"n_neighbors" validate:"gte=1"`
	NEstimators   int     `yaml:"n_estimators" validate:"gte=1"`
	RandomState   int64   `yaml:"random_state"`
}

// DefaultOutlierConfig returns the detector defaults.
func DefaultOutlierConfig() OutlierConfig {
	return OutlierConfig{
		Method:        OutlierIQR,
		Action:        ActionRemove,
		Contamination: 0.1,
		NNeighbors:    20,
		NEstimators:   100,
		RandomState:   42,
	}
}

// OutlierDetector flags or removes outlying rows.
type OutlierDetector struct {
	config OutlierConfig
}

// NewOutlierDetector validates config and returns an OutlierDetector.
func NewOutlierDetector(config OutlierConfig) (*OutlierDetector, error) {
	if err := validateConfig(ModuleOutlier, &config); err != nil {
		return nil, err
	}
	if !config.Method.valid() {
		return nil, &domain.UnknownMethodError{Transform: ModuleOutlier, Method: config.Method.String()}
	}
	if !config.Action.valid() {
		return nil, &domain.UnknownActionError{Transform: ModuleOutlier, Action: config.Action.String()}
	}
	return &OutlierDetector{config: config}, nil
}

// CreateOutlierDetector is the registry factory for the outlier detector.
func CreateOutlierDetector(params map[string]any) (ports.Transform, error) {
	config := DefaultOutlierConfig()
	if err := decodeParams(ModuleOutlier, params, &config); err != nil {
		return nil, err
	}
	return NewOutlierDetector(config)
}

// Name returns the module name.
func (d *OutlierDetector) Name() string { return ModuleOutlier }

func (d *OutlierDetector) threshold() float64 {
	if d.config.Threshold != nil {
		return *d.config.Threshold
	}
	if d.config.Method == OutlierZScore {
		return 3
	}
	return 1.5
}

// Apply detects outliers over the target columns and removes or flags the
// affected rows.
func (d *OutlierDetector) Apply(ctx context.Context, table *domain.Table, _ *domain.Identity) (domain.StepOutput, error) {
	columns := uniqueColumns(d.config.Columns)
	if err := requireColumns(table, columns); err != nil {
		return domain.StepOutput{}, err
	}

	var warnings []string
	var valid []domain.Column
	for _, name := range columns {
		col, _ := table.Column(name)
		if col.Kind != domain.KindNumeric {
			return domain.StepOutput{}, &domain.NonNumericColumnError{Column: name, Kind: col.Kind}
		}
		vals := presentValues(col)
		if len(vals) < 2 || sampleStd(vals) == 0 {
			warnings = append(warnings, fmt.Sprintf("column %q has zero variance, skipping", name))
			continue
		}
		valid = append(valid, col)
	}

	metrics := map[string]any{
		"method": d.config.Method.String(),
		"action": d.config.Action.String(),
	}
	if len(valid) == 0 {
		metrics["outliers"] = 0
		return domain.StepOutput{Table: table.Clone(), Warnings: warnings, Metrics: metrics}, nil
	}

	var mask []bool
	switch d.config.Method {
	case OutlierIQR:
		mask = d.iqrMask(valid, table.Rows())
	case OutlierZScore:
		mask = d.zscoreMask(valid, table.Rows())
	case OutlierIsolation, OutlierLOF:
		var warn string
		mask, warn = d.multivariateMask(ctx, valid, table.Rows())
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.StepOutput{}, err
	}

	flagged := 0
	for _, m := range mask {
		if m {
			flagged++
		}
	}
	metrics["outliers"] = flagged

	var (
		out *domain.Table
		err error
	)
	switch d.config.Action {
	case ActionFlag:
		out, err = table.WithColumn(domain.BoolColumn(OutlierColumn, mask...))
	default:
		keep := make([]bool, len(mask))
		for i, m := range mask {
			keep[i] = !m
		}
		out, err = table.FilterRows(keep)
		metrics["rows_removed"] = flagged
	}
	if err != nil {
		return domain.StepOutput{}, err
	}
	return domain.StepOutput{Table: out, Warnings: warnings, Metrics: metrics}, nil
}

func (d *OutlierDetector) iqrMask(cols []domain.Column, rows int) []bool {
	t := d.threshold()
	mask := make([]bool, rows)
	for _, col := range cols {
		vals := presentValues(col)
		q1 := quantile(vals, 0.25)
		q3 := quantile(vals, 0.75)
		iqr := q3 - q1
		lo, hi := q1-t*iqr, q3+t*iqr
		for i, cell := range col.Cells {
			if v, ok := cell.Float(); ok && (v < lo || v > hi) {
				mask[i] = true
			}
		}
	}
	return mask
}

func (d *OutlierDetector) zscoreMask(cols []domain.Column, rows int) []bool {
	t := d.threshold()
	mask := make([]bool, rows)
	for _, col := range cols {
		vals := presentValues(col)
		m, s := mean(vals), sampleStd(vals)
		for i, cell := range col.Cells {
			if v, ok := cell.Float(); ok && math.Abs(v-m)/s > t {
				mask[i] = true
			}
		}
	}
	return mask
}

// multivariateMask fits isolation forest or LOF on the rows where every
// valid column is present and flags the contamination fraction with the
// highest anomaly score.
func (d *OutlierDetector) multivariateMask(ctx context.Context, cols []domain.Column, rows int) ([]bool, string) {
	mask := make([]bool, rows)

	var index []int
	var points [][]float64
	for r := 0; r < rows; r++ {
		p := make([]float64, len(cols))
		complete := true
		for j, col := range cols {
			v, ok := col.Cells[r].Float()
			if !ok {
				complete = false
				break
			}
			p[j] = v
		}
		if complete {
			index = append(index, r)
			points = append(points, p)
		}
	}
	if len(points) < 2 {
		return mask, fmt.Sprintf("%s needs at least 2 complete rows, found %d; nothing flagged", d.config.Method, len(points))
	}

	var scores []float64
	if d.config.Method == OutlierIsolation {
		forest := newIsolationForest(points, d.config.NEstimators, d.config.RandomState)
		scores = forest.scores(ctx, points)
	} else {
		scores = localOutlierFactors(points, d.config.NNeighbors)
	}

	cut := quantile(scores, 1-d.config.Contamination)
	for i, s := range scores {
		if s > cut {
			mask[index[i]] = true
		}
	}
	return mask, ""
}
