// Package tableio reads and writes domain tables as CSV, TSV, JSON and
// Excel workbooks.
package tableio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a supported file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

// ErrUnsupportedFormat is returned for an extension or format name that
// has no reader or writer.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// formatAliases maps extensions and user-supplied names to formats. Plain
// text files are read as CSV.
var formatAliases = map[string]Format{
	"csv":   FormatCSV,
	"txt":   FormatCSV,
	"tsv":   FormatTSV,
	"tab":   FormatTSV,
	"json":  FormatJSON,
	"xlsx":  FormatExcel,
	"xlsm":  FormatExcel,
	"excel": FormatExcel,
}

// ParseFormat resolves a format name or extension, case-insensitively and
// with or without a leading dot.
func ParseFormat(name string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	if f, ok := formatAliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DetectFormat returns override when it is set and otherwise infers the
// format from the file extension.
func DetectFormat(path, override string) (Format, error) {
	if override != "" {
		return ParseFormat(override)
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
	}
	return ParseFormat(ext)
}

// OutputFormat picks the writer for path. Excel and JSON extensions get
// their own writers; everything else is written as CSV, with TSV for .tsv.
func OutputFormat(path string) Format {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return FormatCSV
	}
	return f
}
