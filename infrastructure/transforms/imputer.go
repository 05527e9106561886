package transforms

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/internal/domain"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

var _ ports.Transform = (*Imputer)(nil)

// ImputeMethod selects how missing values are filled.
type ImputeMethod int

// Supported imputation methods.
const (
	ImputeMean ImputeMethod = iota
	ImputeMedian
	ImputeMode
	ImputeKNN
	ImputeConstant
)

var imputeMethodNames = [...]string{
	ImputeMean:     "mean",
	ImputeMedian:   "median",
	ImputeMode:     "mode",
	ImputeKNN:      "knn",
	ImputeConstant: "constant",
}

// ParseImputeMethod converts a method name into an ImputeMethod.
func ParseImputeMethod(name string) (ImputeMethod, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for m, n := range imputeMethodNames {
		if n == key {
			return ImputeMethod(m), nil
		}
	}
	return 0, &domain.UnknownMethodError{Transform: ModuleImputer, Method: name}
}

// String returns the method name.
func (m ImputeMethod) String() string {
	if m.valid() {
		return imputeMethodNames[m]
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m ImputeMethod) valid() bool { return m >= 0 && int(m) < len(imputeMethodNames) }

// UnmarshalYAML decodes a method name.
func (m *ImputeMethod) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseImputeMethod(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ImputerConfig configures the missing-value imputer.
type ImputerConfig struct {
	// Columns lists the target columns. Empty means every column.
	Columns ColumnList `yaml:"columns" validate:"dive,required"`

	// Method selects the fill strategy.
	Method ImputeMethod `yaml:"method"`

	// NNeighbors is the neighbor count for knn imputation.
	NNeighbors int `yaml:"n_neighbors" validate:"gte=1"`

	// FillValue is used by constant imputation and is converted to the
	// kind of each target column.
	FillValue any `yaml:"fill_value"`
}

// DefaultImputerConfig returns the imputer defaults.
func DefaultImputerConfig() ImputerConfig {
	return ImputerConfig{
		Method:     ImputeMean,
		NNeighbors: 5,
		FillValue:  0,
	}
}

// Imputer fills missing values in the target columns.
type Imputer struct {
	config ImputerConfig
}

// NewImputer validates config and returns an Imputer.
func NewImputer(config ImputerConfig) (*Imputer, error) {
	if err := validateConfig(ModuleImputer, &config); err != nil {
		return nil, err
	}
	if !config.Method.valid() {
		return nil, &domain.UnknownMethodError{Transform: ModuleImputer, Method: config.Method.String()}
	}
	return &Imputer{config: config}, nil
}

// CreateImputer is the registry factory for the imputer.
func CreateImputer(params map[string]any) (ports.Transform, error) {
	config := DefaultImputerConfig()
	if err := decodeParams(ModuleImputer, params, &config); err != nil {
		return nil, err
	}
	return NewImputer(config)
}

// Name returns the module name.
func (im *Imputer) Name() string { return ModuleImputer }

// Apply fills missing values and returns a new table.
func (im *Imputer) Apply(ctx context.Context, table *domain.Table, _ *domain.Identity) (domain.StepOutput, error) {
	columns := uniqueColumns(im.config.Columns)
	if len(columns) == 0 {
		columns = table.ColumnNames()
	}
	if err := requireColumns(table, columns); err != nil {
		return domain.StepOutput{}, err
	}

	var warnings []string
	for _, name := range columns {
		col, _ := table.Column(name)
		if frac := col.MissingFraction(); frac > 0.5 {
			warnings = append(warnings, fmt.Sprintf("column %q has %.1f%% missing values", name, frac*100))
		}
	}

	out := table.Clone()
	filled := 0

	if im.config.Method == ImputeKNN {
		var err error
		out, filled, err = im.applyKNN(out, columns)
		if err != nil {
			return domain.StepOutput{}, err
		}
	} else {
		for _, name := range columns {
			col, _ := out.Column(name)
			if col.MissingCount() == 0 {
				continue
			}
			fill, ok, err := im.fillValue(col)
			if err != nil {
				return domain.StepOutput{}, err
			}
			if !ok {
				continue
			}
			n := 0
			for i, cell := range col.Cells {
				if cell.IsNull() {
					col.Cells[i] = fill
					n++
				}
			}
			if n == 0 {
				continue
			}
			if out, err = out.WithColumn(col); err != nil {
				return domain.StepOutput{}, err
			}
			filled += n
		}
	}

	return domain.StepOutput{
		Table:    out,
		Warnings: warnings,
		Metrics: map[string]any{
			"method":       im.config.Method.String(),
			"cells_filled": filled,
		},
	}, nil
}

// fillValue computes the replacement for missing cells in col. ok is false
// when the column is left as is.
func (im *Imputer) fillValue(col domain.Column) (domain.Cell, bool, error) {
	switch im.config.Method {
	case ImputeMean, ImputeMedian:
		if col.Kind != domain.KindNumeric {
			return domain.Cell{}, false, nil
		}
		vals := presentValues(col)
		if len(vals) == 0 {
			return domain.Cell{}, false, nil
		}
		if im.config.Method == ImputeMean {
			return domain.Num(mean(vals)), true, nil
		}
		return domain.Num(quantile(vals, 0.5)), true, nil
	case ImputeMode:
		return modeOf(col)
	case ImputeConstant:
		cell, err := convertFill(im.config.FillValue, col)
		if err != nil {
			return domain.Cell{}, false, err
		}
		return cell, true, nil
	default:
		return domain.Cell{}, false, &domain.UnknownMethodError{Transform: ModuleImputer, Method: im.config.Method.String()}
	}
}

// modeOf returns the most frequent present cell. Ties go to the value that
// appears first.
func modeOf(col domain.Column) (domain.Cell, bool, error) {
	counts := make(map[string]int)
	first := make(map[string]int)
	var order []string
	for i, cell := range col.Cells {
		if cell.IsNull() {
			continue
		}
		key := cell.String()
		if _, seen := counts[key]; !seen {
			first[key] = i
			order = append(order, key)
		}
		counts[key]++
	}
	if len(order) == 0 {
		return domain.Cell{}, false, nil
	}
	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return col.Cells[first[best]], true, nil
}

// convertFill converts the configured fill value to the kind of col.
func convertFill(v any, col domain.Column) (domain.Cell, error) {
	bad := func() error {
		verr := domain.NewValidationError(ModuleImputer)
		verr.AddError(fmt.Sprintf("fill_value %v cannot be used for %s column %q", v, col.Kind, col.Name))
		return verr
	}

	switch col.Kind {
	case domain.KindNumeric:
		switch x := v.(type) {
		case int:
			return domain.Num(float64(x)), nil
		case int64:
			return domain.Num(float64(x)), nil
		case float64:
			return domain.Num(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return domain.Cell{}, bad()
			}
			return domain.Num(f), nil
		}
	case domain.KindBool:
		switch x := v.(type) {
		case bool:
			return domain.Bool(x), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return domain.Cell{}, bad()
			}
			return domain.Bool(b), nil
		}
	case domain.KindText:
		if v == nil {
			return domain.Cell{}, bad()
		}
		return domain.Text(fmt.Sprint(v)), nil
	}
	return domain.Cell{}, bad()
}

// applyKNN imputes the numeric target columns jointly.
func (im *Imputer) applyKNN(table *domain.Table, columns []string) (*domain.Table, int, error) {
	var numeric []domain.Column
	for _, name := range columns {
		col, _ := table.Column(name)
		if col.Kind == domain.KindNumeric {
			numeric = append(numeric, col)
		}
	}
	if len(numeric) == 0 {
		return table, 0, nil
	}

	data := make([][]float64, len(numeric))
	for j, col := range numeric {
		data[j] = col.Floats()
	}
	imputed := knnImpute(data, table.Rows(), im.config.NNeighbors)

	filled := 0
	out := table
	for j, col := range numeric {
		changed := false
		for i, cell := range col.Cells {
			if cell.IsNull() && !math.IsNaN(imputed[j][i]) {
				col.Cells[i] = domain.Num(imputed[j][i])
				filled++
				changed = true
			}
		}
		if !changed {
			continue
		}
		var err error
		if out, err = out.WithColumn(col); err != nil {
			return nil, 0, err
		}
	}
	return out, filled, nil
}

// knnImpute fills NaN entries of the column-major matrix data. The distance
// between two rows is Euclidean over the coordinates present in both,
// scaled up by total/present coordinates. Each missing entry becomes the
// mean of that feature over the k nearest rows that have it; rows without
// any shared coordinate are never neighbors. When no donor exists the
// feature mean is used.
func knnImpute(data [][]float64, rows, k int) [][]float64 {
	features := len(data)
	out := make([][]float64, features)
	means := make([]float64, features)
	for j := range data {
		out[j] = append([]float64(nil), data[j]...)
		var present []float64
		for _, v := range data[j] {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		if len(present) > 0 {
			means[j] = mean(present)
		} else {
			means[j] = math.NaN()
		}
	}

	for r := 0; r < rows; r++ {
		var distances []neighbor
		computed := false
		for j := 0; j < features; j++ {
			if !math.IsNaN(data[j][r]) {
				continue
			}
			if !computed {
				distances = rowDistances(data, r, rows)
				computed = true
			}
			var donors []neighbor
			for _, d := range distances {
				if !math.IsNaN(data[j][d.row]) {
					donors = append(donors, d)
				}
			}
			if len(donors) == 0 {
				out[j][r] = means[j]
				continue
			}
			if len(donors) > k {
				donors = donors[:k]
			}
			sum := 0.0
			for _, d := range donors {
				sum += data[j][d.row]
			}
			out[j][r] = sum / float64(len(donors))
		}
	}
	return out
}

// neighbor is a candidate row and its distance from a query row.
type neighbor struct {
	row  int
	dist float64
}

// rowDistances returns the NaN-aware distances from row r to every other
// row that shares at least one present coordinate, nearest first. Ties
// keep row order.
func rowDistances(data [][]float64, r, rows int) []neighbor {
	features := len(data)
	var out []neighbor
	for o := 0; o < rows; o++ {
		if o == r {
			continue
		}
		sum := 0.0
		present := 0
		for j := 0; j < features; j++ {
			a, b := data[j][r], data[j][o]
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			sum += (a - b) * (a - b)
			present++
		}
		if present == 0 {
			continue
		}
		out = append(out, neighbor{row: o, dist: math.Sqrt(sum * float64(features) / float64(present))})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	return out
}
