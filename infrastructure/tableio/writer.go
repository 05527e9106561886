package tableio

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// DefaultSheet is the worksheet name used for Excel output.
const DefaultSheet = "Sheet1"

// Write stores t at path, choosing the format from the extension.
func Write(path string, t *domain.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := Encode(f, t, OutputFormat(path)); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes t to w in the given format. Missing cells are written as
// empty fields (null in JSON, blank cells in Excel).
func Encode(w io.Writer, t *domain.Table, format Format) error {
	switch format {
	case FormatCSV:
		return encodeDelimited(w, t, ',')
	case FormatTSV:
		return encodeDelimited(w, t, '\t')
	case FormatJSON:
		data, err := encodeJSON(t)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatExcel:
		return encodeExcel(w, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encodeDelimited(w io.Writer, t *domain.Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(t.ColumnNames()); err != nil {
		return err
	}

	cols := t.Columns()
	record := make([]string, len(cols))
	for r := 0; r < t.Rows(); r++ {
		for c, col := range cols {
			record[c] = col.Cells[r].String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeExcel(w io.Writer, t *domain.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, t.Width())
	for i, name := range t.ColumnNames() {
		header[i] = name
	}
	if err := f.SetSheetRow(DefaultSheet, "A1", &header); err != nil {
		return err
	}

	cols := t.Columns()
	row := make([]any, len(cols))
	for r := 0; r < t.Rows(); r++ {
		for c, col := range cols {
			row[c] = excelValue(col.Cells[r])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(DefaultSheet, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", r+1, err)
		}
	}
	return f.Write(w)
}

func excelValue(c domain.Cell) any {
	if c.IsNull() {
		return nil
	}
	switch c.Kind() {
	case domain.KindNumeric:
		v, _ := c.Float()
		if math.IsInf(v, 0) {
			return c.String()
		}
		return v
	case domain.KindBool:
		b, _ := c.Flag()
		return b
	default:
		s, _ := c.Str()
		return s
	}
}
