package application

import (
	"strconv"
	"strings"
)

// ParseParamString parses whitespace-separated key=value tokens into step
// params. Values are typed as follows: a value containing a comma becomes a
// list of trimmed strings; true or false in any case becomes a bool; an
// integer becomes an int; a value containing '.' that parses as a float
// becomes a float64; anything else stays a string. Tokens without '=' are
// ignored, and a later key overrides an earlier one.
func ParseParamString(s string) map[string]any {
	params := make(map[string]any)
	for _, token := range strings.Fields(s) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			continue
		}
		params[key] = parseParamValue(value)
	}
	return params
}

func parseParamValue(v string) any {
	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}
