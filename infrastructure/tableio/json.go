package tableio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

var errInvalidJSON = errors.New("invalid JSON document")

// decodeJSON accepts either an array of records or an object mapping each
// column to an array (or index-keyed object) of values. Column order
// follows first appearance in the document.
func decodeJSON(data []byte) (*domain.Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}
	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		return decodeRecords(root)
	case root.IsObject():
		return decodeColumns(root)
	default:
		return nil, fmt.Errorf("%w: expected an array of records or an object of columns", errInvalidJSON)
	}
}

func decodeRecords(root gjson.Result) (*domain.Table, error) {
	var header []string
	index := make(map[string]int)
	var rows []map[string]string
	var err error

	root.ForEach(func(_, rec gjson.Result) bool {
		if !rec.IsObject() {
			err = fmt.Errorf("%w: record %d is not an object", errInvalidJSON, len(rows)+1)
			return false
		}
		row := make(map[string]string)
		rec.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if _, ok := index[name]; !ok {
				index[name] = len(header)
				header = append(header, name)
			}
			row[name] = scalarString(value)
			return true
		})
		rows = append(rows, row)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, ErrEmptyInput
	}

	records := make([][]string, len(rows))
	for i, row := range rows {
		rec := make([]string, len(header))
		for j, name := range header {
			rec[j] = row[name]
		}
		records[i] = rec
	}
	return buildTable(header, records)
}

func decodeColumns(root gjson.Result) (*domain.Table, error) {
	var header []string
	var values [][]string
	var err error

	root.ForEach(func(key, col gjson.Result) bool {
		var cells []string
		switch {
		case col.IsArray(), col.IsObject():
			col.ForEach(func(_, v gjson.Result) bool {
				cells = append(cells, scalarString(v))
				return true
			})
		default:
			err = fmt.Errorf("%w: column %q is not an array", errInvalidJSON, key.String())
			return false
		}
		if len(values) > 0 && len(cells) != len(values[0]) {
			err = fmt.Errorf("%w: column %q has %d values, expected %d",
				domain.ErrRaggedTable, key.String(), len(cells), len(values[0]))
			return false
		}
		header = append(header, key.String())
		values = append(values, cells)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, ErrEmptyInput
	}

	records := make([][]string, len(values[0]))
	for r := range records {
		rec := make([]string, len(header))
		for c := range header {
			rec[c] = values[c][r]
		}
		records[r] = rec
	}
	return buildTable(header, records)
}

// scalarString renders a JSON value the way it would appear in a CSV
// field. null becomes the empty string, which reads back as missing.
func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	default:
		return v.Raw
	}
}

// encodeJSON writes the table as an array of records. Missing and
// non-finite cells are written as null.
func encodeJSON(t *domain.Table) ([]byte, error) {
	cols := t.Columns()
	paths := make([]string, len(cols))
	for i, c := range cols {
		paths[i] = escapePath(c.Name)
	}

	var b strings.Builder
	b.WriteByte('[')
	for r := 0; r < t.Rows(); r++ {
		row := []byte("{}")
		for i, c := range cols {
			var err error
			row, err = sjson.SetBytes(row, paths[i], jsonValue(c.Cells[r]))
			if err != nil {
				return nil, fmt.Errorf("encoding column %q: %w", c.Name, err)
			}
		}
		if r > 0 {
			b.WriteByte(',')
		}
		b.Write(row)
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

func jsonValue(c domain.Cell) any {
	if c.IsNull() {
		return nil
	}
	switch c.Kind() {
	case domain.KindNumeric:
		f, _ := c.Float()
		if math.IsInf(f, 0) {
			return nil
		}
		return f
	case domain.KindBool:
		b, _ := c.Flag()
		return b
	default:
		s, _ := c.Str()
		return s
	}
}

// escapePath quotes every path metacharacter so a column name is used as
// a literal object key. A leading digit is forced to a key with ':'.
func escapePath(name string) string {
	var b strings.Builder
	if _, err := strconv.Atoi(name); err == nil {
		b.WriteByte(':')
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != ' ' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
