package tableio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// missingMarkers are read as missing cells. The set matches the markers
// common spreadsheet and dataframe tools write for absent values.
var missingMarkers = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissingMarker reports whether raw denotes a missing value.
func IsMissingMarker(raw string) bool {
	_, ok := missingMarkers[strings.TrimSpace(raw)]
	return ok
}

// buildTable turns a header and string records into a typed table. Short
// records are padded with missing cells; long records are an error.
func buildTable(header []string, records [][]string) (*domain.Table, error) {
	names := columnNames(header)
	for i, rec := range records {
		if len(rec) > len(names) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i+1, len(rec), len(names))
		}
	}

	columns := make([]domain.Column, len(names))
	raw := make([]string, len(records))
	for c, name := range names {
		for r, rec := range records {
			if c < len(rec) {
				raw[r] = rec[c]
			} else {
				raw[r] = ""
			}
		}
		columns[c] = inferColumn(name, raw)
	}
	return domain.NewTable(columns...)
}

// columnNames fills blank headers with "Unnamed: <index>" and suffixes
// repeated names with ".1", ".2" and so on.
func columnNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	suffix := make(map[string]int)
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		for base := name; used[name]; {
			suffix[base]++
			name = fmt.Sprintf("%s.%d", base, suffix[base])
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// inferColumn picks the narrowest kind every present value fits: numeric,
// then bool, then text. A column with no present values is numeric.
func inferColumn(name string, values []string) domain.Column {
	numeric, boolean := true, true
	for _, v := range values {
		if IsMissingMarker(v) {
			continue
		}
		s := strings.TrimSpace(v)
		if numeric {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				numeric = false
			}
		}
		if boolean {
			if _, ok := parseBool(s); !ok {
				boolean = false
			}
		}
		if !numeric && !boolean {
			break
		}
	}

	cells := make([]domain.Cell, len(values))
	kind := domain.KindText
	switch {
	case numeric:
		kind = domain.KindNumeric
	case boolean:
		kind = domain.KindBool
	}
	for i, v := range values {
		if IsMissingMarker(v) {
			cells[i] = domain.Null()
			continue
		}
		s := strings.TrimSpace(v)
		switch kind {
		case domain.KindNumeric:
			f, _ := strconv.ParseFloat(s, 64)
			cells[i] = domain.Num(f)
		case domain.KindBool:
			b, _ := parseBool(s)
			cells[i] = domain.Bool(b)
		default:
			cells[i] = domain.Text(v)
		}
	}
	return domain.Column{Name: name, Kind: kind, Cells: cells}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
