package domain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	tests := []struct {
		name    string
		columns []Column
		wantErr error
		rows    int
	}{
		{
			name: "empty table",
			rows: 0,
		},
		{
			name: "two aligned columns",
			columns: []Column{
				NumericColumn("a", 1, 2, 3),
				TextColumn("b", "x", "y", "z"),
			},
			rows: 3,
		},
		{
			name: "zero rows with columns",
			columns: []Column{
				NumericColumn("a"),
				TextColumn("b"),
			},
			rows: 0,
		},
		{
			name: "ragged columns",
			columns: []Column{
				NumericColumn("a", 1, 2),
				TextColumn("b", "x"),
			},
			wantErr: ErrRaggedTable,
		},
		{
			name: "duplicate names",
			columns: []Column{
				NumericColumn("a", 1),
				NumericColumn("a", 2),
			},
			wantErr: ErrDuplicateColumn,
		},
		{
			name: "kind mismatch",
			columns: []Column{
				{Name: "a", Kind: KindNumeric, Cells: []Cell{Num(1), Text("x")}},
			},
			wantErr: ErrKindMismatch,
		},
		{
			name:    "unnamed column",
			columns: []Column{NumericColumn("", 1)},
			wantErr: ErrInvalidTable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable(tt.columns...)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rows, table.Rows())
			assert.Equal(t, len(tt.columns), table.Width())
			assert.NoError(t, table.Validate())
		})
	}
}

func TestNumericColumn_NaNIsMissing(t *testing.T) {
	col := NumericColumn("v", 1, math.NaN(), 3, math.NaN(), 5)

	assert.Equal(t, 2, col.MissingCount())
	assert.InDelta(t, 0.4, col.MissingFraction(), 1e-12)

	floats := col.Floats()
	assert.Equal(t, 1.0, floats[0])
	assert.True(t, math.IsNaN(floats[1]))
}

func TestTable_ValueSemantics(t *testing.T) {
	table := MustNewTable(NumericColumn("a", 1, 2, 3))

	col, ok := table.Column("a")
	require.True(t, ok)
	col.Cells[0] = Num(100)

	cell, ok := table.Cell("a", 0)
	require.True(t, ok)
	v, _ := cell.Float()
	assert.Equal(t, 1.0, v, "mutating a returned column must not affect the table")

	clone := table.Clone()
	require.True(t, clone.Equal(table))

	replaced, err := clone.WithColumn(NumericColumn("a", 7, 8, 9))
	require.NoError(t, err)
	assert.True(t, clone.Equal(table), "WithColumn must not modify the receiver")
	assert.False(t, replaced.Equal(table))
}

func TestTable_WithColumn(t *testing.T) {
	table := MustNewTable(NumericColumn("a", 1, 2), TextColumn("b", "x", "y"))

	t.Run("replaces in place", func(t *testing.T) {
		out, err := table.WithColumn(TextColumn("a", "p", "q"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, out.ColumnNames())
		col, _ := out.Column("a")
		assert.Equal(t, KindText, col.Kind)
	})

	t.Run("appends new column", func(t *testing.T) {
		out, err := table.WithColumn(BoolColumn("c", true, false))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, out.ColumnNames())
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := table.WithColumn(BoolColumn("c", true))
		assert.ErrorIs(t, err, ErrRaggedTable)
	})

	t.Run("first column sets row count", func(t *testing.T) {
		empty := MustNewTable()
		out, err := empty.WithColumn(NumericColumn("a", 1, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, 3, out.Rows())
	})
}

func TestTable_FilterRows(t *testing.T) {
	table := MustNewTable(
		NumericColumn("a", 1, 2, 3, 4),
		TextColumn("b", "w", "x", "y", "z"),
	)

	out, err := table.FilterRows([]bool{true, false, true, true})
	require.NoError(t, err)

	want := MustNewTable(
		NumericColumn("a", 1, 3, 4),
		TextColumn("b", "w", "y", "z"),
	)
	assert.True(t, want.Equal(out))
	assert.Equal(t, 4, table.Rows(), "input table must be untouched")

	_, err = table.FilterRows([]bool{true})
	assert.ErrorIs(t, err, ErrRaggedTable)
}

func TestTable_MissingColumns(t *testing.T) {
	table := MustNewTable(NumericColumn("a", 1), NumericColumn("b", 2))
	assert.Empty(t, table.MissingColumns([]string{"a", "b"}))
	assert.Equal(t, []string{"z", "y"}, table.MissingColumns([]string{"z", "a", "y"}))
}

func TestCell_String(t *testing.T) {
	tests := []struct {
		cell Cell
		want string
	}{
		{Num(3), "3"},
		{Num(3.25), "3.25"},
		{Num(math.NaN()), ""},
		{Text("hi"), "hi"},
		{Bool(true), "true"},
		{Null(), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cell.String())
	}
}

func TestTable_Columns_Diff(t *testing.T) {
	table := MustNewTable(NumericColumn("a", 1, 2), TextColumn("b", "x", "y"))

	got := make(map[string][]string)
	for _, c := range table.Columns() {
		vals := make([]string, len(c.Cells))
		for i, cell := range c.Cells {
			vals[i] = cell.String()
		}
		got[c.Name] = vals
	}

	want := map[string][]string{
		"a": {"1", "2"},
		"b": {"x", "y"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_Equal_MissingCells(t *testing.T) {
	a := MustNewTable(NumericColumn("v", 1, math.NaN()))
	b := MustNewTable(Column{Name: "v", Kind: KindNumeric, Cells: []Cell{Num(1), Null()}})
	assert.True(t, a.Equal(b), "missing cells compare equal regardless of how they were built")
}
