package tableio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// ErrEmptyInput is returned when the input holds no header row.
var ErrEmptyInput = errors.New("no columns to parse from input")

// ReadOptions controls how a file is decoded.
type ReadOptions struct {
	// Format overrides extension-based detection when set.
	Format string
	// Sheet selects the worksheet of an Excel workbook. The first sheet is
	// used when empty.
	Sheet string
}

// Read loads the file at path into a table. A missing file yields an error
// matching os.ErrNotExist.
func Read(path string, opts ReadOptions) (*domain.Table, error) {
	format, err := DetectFormat(path, opts.Format)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	t, err := Decode(f, format, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}

// Decode reads a table in the given format from r.
func Decode(r io.Reader, format Format, opts ReadOptions) (*domain.Table, error) {
	switch format {
	case FormatCSV:
		return decodeDelimited(r, ',')
	case FormatTSV:
		return decodeDelimited(r, '\t')
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return decodeJSON(data)
	case FormatExcel:
		return decodeExcel(r, opts.Sheet)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeDelimited(r io.Reader, comma rune) (*domain.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	records = dropBlankRecords(records)
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}
	records[0] = trimBOM(records[0])
	return buildTable(records[0], records[1:])
}

func decodeExcel(r io.Reader, sheet string) (*domain.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyInput
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	rows = dropBlankRecords(rows)
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	return buildTable(rows[0], rows[1:])
}

// dropBlankRecords removes rows whose every field is empty.
func dropBlankRecords(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		for _, v := range rec {
			if v != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

func trimBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header
}
