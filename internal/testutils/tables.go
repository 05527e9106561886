package testutils

import (
	"fmt"
	"math"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// NaN is shorthand for a missing numeric value in fixtures.
var NaN = math.NaN()

// TextCells builds a text column where nil entries are missing cells.
func TextCells(name string, values ...any) domain.Column {
	cells := make([]domain.Cell, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			cells[i] = domain.Null()
		case string:
			cells[i] = domain.Text(x)
		default:
			cells[i] = domain.Text(fmt.Sprint(x))
		}
	}
	return domain.Column{Name: name, Kind: domain.KindText, Cells: cells}
}

// MixedTable returns a five-row table with one column of every kind and
// missing values in the numeric and text columns.
func MixedTable() *domain.Table {
	return domain.MustNewTable(
		domain.NumericColumn("id", 1, 2, 3, 4, 5),
		domain.NumericColumn("score", 1, NaN, 3, NaN, 5),
		TextCells("name", "  Alice ", "BOB!", nil, "carol", "Dave?"),
		domain.BoolColumn("active", true, false, true, true, false),
	)
}

// NormalWithOutlier returns a single numeric column "value" holding n
// values clustered around 10 followed by one extreme value.
func NormalWithOutlier(n int, outlier float64) *domain.Table {
	values := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		values = append(values, 10+float64(i%7-3)*0.5)
	}
	values = append(values, outlier)
	return domain.MustNewTable(domain.NumericColumn("value", values...))
}

// Clustered2D returns columns "x" and "y" with n points on a small grid
// near the origin and a last point far away from all of them.
func Clustered2D(n int) *domain.Table {
	xs := make([]float64, 0, n+1)
	ys := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		xs = append(xs, float64(i%5)*0.1)
		ys = append(ys, float64(i/5%5)*0.1)
	}
	xs = append(xs, 50)
	ys = append(ys, 50)
	return domain.MustNewTable(
		domain.NumericColumn("x", xs...),
		domain.NumericColumn("y", ys...),
	)
}
