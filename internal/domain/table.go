// Package domain contains the core data types for tabular cleaning runs:
// tables and their cells, execution reports, caller identity and the
// error taxonomy shared by every transform.
package domain

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// ColumnKind is the homogeneous value type of a column.
type ColumnKind int

const (
	// KindText holds free-form strings. Columns whose values could not be
	// inferred as anything narrower land here.
	KindText ColumnKind = iota
	// KindNumeric holds float64 values.
	KindNumeric
	// KindBool holds true/false flags.
	KindBool
)

// String returns the lowercase kind name.
func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Cell is a single value in a column. The zero Cell is missing.
// Cells are immutable values and may be copied freely.
type Cell struct {
	valid bool
	kind  ColumnKind
	num   float64
	text  string
	flag  bool
}

// Num returns a numeric cell. NaN is treated as a missing value.
func Num(v float64) Cell {
	if math.IsNaN(v) {
		return Cell{kind: KindNumeric}
	}
	return Cell{valid: true, kind: KindNumeric, num: v}
}

// Text returns a text cell.
func Text(s string) Cell { return Cell{valid: true, kind: KindText, text: s} }

// Bool returns a boolean cell.
func Bool(b bool) Cell { return Cell{valid: true, kind: KindBool, flag: b} }

// Null returns a missing cell.
func Null() Cell { return Cell{} }

// IsNull reports whether the cell is missing.
func (c Cell) IsNull() bool { return !c.valid }

// Kind returns the kind the cell was created with. Missing cells report
// KindText unless they were produced by Num.
func (c Cell) Kind() ColumnKind { return c.kind }

// Float returns the numeric value and whether the cell holds one.
func (c Cell) Float() (float64, bool) {
	if !c.valid || c.kind != KindNumeric {
		return math.NaN(), false
	}
	return c.num, true
}

// Str returns the text value and whether the cell holds one.
func (c Cell) Str() (string, bool) {
	if !c.valid || c.kind != KindText {
		return "", false
	}
	return c.text, true
}

// Flag returns the boolean value and whether the cell holds one.
func (c Cell) Flag() (bool, bool) {
	if !c.valid || c.kind != KindBool {
		return false, false
	}
	return c.flag, true
}

// String renders the cell for display and export. Missing cells render
// as the empty string.
func (c Cell) String() string {
	if !c.valid {
		return ""
	}
	switch c.kind {
	case KindNumeric:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(c.flag)
	default:
		return c.text
	}
}

// Equal reports whether two cells hold the same value. Two missing cells
// are equal regardless of kind.
func (c Cell) Equal(o Cell) bool {
	if !c.valid || !o.valid {
		return c.valid == o.valid
	}
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case KindNumeric:
		return c.num == o.num
	case KindBool:
		return c.flag == o.flag
	default:
		return c.text == o.text
	}
}

// Column is a named, homogeneously typed sequence of cells.
type Column struct {
	Name  string
	Kind  ColumnKind
	Cells []Cell
}

// NewColumn builds a column from cells. Every present cell must match kind.
func NewColumn(name string, kind ColumnKind, cells ...Cell) (Column, error) {
	col := Column{Name: name, Kind: kind, Cells: slices.Clone(cells)}
	if err := col.Validate(); err != nil {
		return Column{}, err
	}
	return col, nil
}

// NumericColumn builds a numeric column; NaN entries become missing cells.
func NumericColumn(name string, values ...float64) Column {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = Num(v)
	}
	return Column{Name: name, Kind: KindNumeric, Cells: cells}
}

// TextColumn builds a text column with no missing cells.
func TextColumn(name string, values ...string) Column {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = Text(v)
	}
	return Column{Name: name, Kind: KindText, Cells: cells}
}

// BoolColumn builds a boolean column with no missing cells.
func BoolColumn(name string, values ...bool) Column {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = Bool(v)
	}
	return Column{Name: name, Kind: KindBool, Cells: cells}
}

// Len returns the number of cells.
func (c Column) Len() int { return len(c.Cells) }

// MissingCount returns the number of missing cells.
func (c Column) MissingCount() int {
	n := 0
	for _, cell := range c.Cells {
		if cell.IsNull() {
			n++
		}
	}
	return n
}

// MissingFraction returns the share of missing cells, or zero for an
// empty column.
func (c Column) MissingFraction() float64 {
	if len(c.Cells) == 0 {
		return 0
	}
	return float64(c.MissingCount()) / float64(len(c.Cells))
}

// Floats returns the numeric values with NaN in place of missing cells.
func (c Column) Floats() []float64 {
	out := make([]float64, len(c.Cells))
	for i, cell := range c.Cells {
		v, _ := cell.Float()
		out[i] = v
	}
	return out
}

// Clone returns a deep copy of the column.
func (c Column) Clone() Column {
	return Column{Name: c.Name, Kind: c.Kind, Cells: slices.Clone(c.Cells)}
}

// Validate checks that the column is named and every present cell matches
// the column kind.
func (c Column) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: column name is empty", ErrInvalidTable)
	}
	for i, cell := range c.Cells {
		if !cell.IsNull() && cell.Kind() != c.Kind {
			return fmt.Errorf("%w: column %q row %d holds %s in a %s column",
				ErrKindMismatch, c.Name, i, cell.Kind(), c.Kind)
		}
	}
	return nil
}

// Table is an ordered collection of named columns of equal length.
// Tables have value semantics: accessors return copies and every
// modifying operation returns a new Table.
type Table struct {
	columns []Column
	index   map[string]int
	rows    int
}

// NewTable builds a table from the given columns. The columns are copied.
// It fails when column names repeat, kinds are inconsistent or lengths
// differ.
func NewTable(columns ...Column) (*Table, error) {
	t := &Table{
		columns: make([]Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if err := col.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.index[col.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
		}
		if i == 0 {
			t.rows = col.Len()
		} else if col.Len() != t.rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, expected %d",
				ErrRaggedTable, col.Name, col.Len(), t.rows)
		}
		t.index[col.Name] = len(t.columns)
		t.columns = append(t.columns, col.Clone())
	}
	return t, nil
}

// MustNewTable is like NewTable but panics on error. It is intended for
// fixtures and literals known to be well formed.
func MustNewTable(columns ...Column) *Table {
	t, err := NewTable(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Rows returns the row count.
func (t *Table) Rows() int { return t.rows }

// Width returns the column count.
func (t *Table) Width() int { return len(t.columns) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether a column with the given name exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i].Clone(), true
}

// Columns returns copies of all columns in order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Clone()
	}
	return out
}

// Cell returns the cell at the given row of the named column.
func (t *Table) Cell(name string, row int) (Cell, bool) {
	i, ok := t.index[name]
	if !ok || row < 0 || row >= t.rows {
		return Cell{}, false
	}
	return t.columns[i].Cells[row], true
}

// MissingColumns returns the subset of names that are not columns of the
// table, in the order given.
func (t *Table) MissingColumns(names []string) []string {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		columns: make([]Column, len(t.columns)),
		index:   make(map[string]int, len(t.index)),
		rows:    t.rows,
	}
	for i, c := range t.columns {
		out.columns[i] = c.Clone()
		out.index[c.Name] = i
	}
	return out
}

// WithColumn returns a new table where col replaces the column of the same
// name, keeping its position, or is appended when no such column exists.
func (t *Table) WithColumn(col Column) (*Table, error) {
	if err := col.Validate(); err != nil {
		return nil, err
	}
	if len(t.columns) > 0 && col.Len() != t.rows {
		return nil, fmt.Errorf("%w: column %q has %d rows, expected %d",
			ErrRaggedTable, col.Name, col.Len(), t.rows)
	}
	out := t.Clone()
	if i, ok := out.index[col.Name]; ok {
		out.columns[i] = col.Clone()
		return out, nil
	}
	if len(out.columns) == 0 {
		out.rows = col.Len()
	}
	out.index[col.Name] = len(out.columns)
	out.columns = append(out.columns, col.Clone())
	return out, nil
}

// FilterRows returns a new table holding only the rows where keep is true,
// in their original order.
func (t *Table) FilterRows(keep []bool) (*Table, error) {
	if len(keep) != t.rows {
		return nil, fmt.Errorf("%w: mask has %d entries, table has %d rows",
			ErrRaggedTable, len(keep), t.rows)
	}
	kept := 0
	for _, k := range keep {
		if k {
			kept++
		}
	}
	out := &Table{
		columns: make([]Column, len(t.columns)),
		index:   make(map[string]int, len(t.index)),
		rows:    kept,
	}
	for i, c := range t.columns {
		cells := make([]Cell, 0, kept)
		for r, k := range keep {
			if k {
				cells = append(cells, c.Cells[r])
			}
		}
		out.columns[i] = Column{Name: c.Name, Kind: c.Kind, Cells: cells}
		out.index[c.Name] = i
	}
	return out, nil
}

// Validate re-checks the table invariants.
func (t *Table) Validate() error {
	if t == nil {
		return ErrNilTable
	}
	seen := make(map[string]struct{}, len(t.columns))
	for _, c := range t.columns {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Len() != t.rows {
			return fmt.Errorf("%w: column %q has %d rows, expected %d",
				ErrRaggedTable, c.Name, c.Len(), t.rows)
		}
	}
	return nil
}

// Equal reports whether both tables have the same columns, in the same
// order, with equal kinds and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.rows != o.rows || len(t.columns) != len(o.columns) {
		return false
	}
	for i, c := range t.columns {
		oc := o.columns[i]
		if c.Name != oc.Name || c.Kind != oc.Kind || len(c.Cells) != len(oc.Cells) {
			return false
		}
		for r := range c.Cells {
			if !c.Cells[r].Equal(oc.Cells[r]) {
				return false
			}
		}
	}
	return true
}
