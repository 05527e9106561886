package transforms

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

// PromptData is the value a custom prompt template executes against.
type PromptData struct {
	Text   string
	Rules  string
	Column string
	// Row is the 0-based row index of the cell.
	Row int
	Cue string
}

// promptFuncs returns the functions available to prompt templates.
func promptFuncs() template.FuncMap {
	return template.FuncMap{
		// {{add .Row 1}} gives a 1-based row number.
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },

		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,
		"lower":     strings.ToLower,
		"upper":     strings.ToUpper,
		"trim":      strings.TrimSpace,
		"replace": func(s, old, new string) string {
			return strings.ReplaceAll(s, old, new)
		},
		"join": func(sep string, elems []string) string {
			return strings.Join(elems, sep)
		},
		"split": func(sep, s string) []string {
			return strings.Split(s, sep)
		},

		// truncate cuts s to at most length runes, ending in "..." when
		// there is room for it.
		"truncate": func(s string, length int) string {
			if length <= 0 {
				return ""
			}
			if utf8.RuneCountInString(s) <= length {
				return s
			}
			runes := []rune(s)
			if length > 3 {
				return string(runes[:length-3]) + "..."
			}
			return string(runes[:length])
		},
	}
}

// parsePromptTemplate compiles a user supplied prompt template. The
// template is executed once against sample data so that references to
// unknown fields fail at construction.
func parsePromptTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("prompt").Funcs(promptFuncs()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt_template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, PromptData{Text: "sample", Rules: "rules", Column: "col", Cue: ResponseCue}); err != nil {
		return nil, fmt.Errorf("executing prompt_template: %w", err)
	}
	return tmpl, nil
}

// renderPrompt executes tmpl for one cell.
func renderPrompt(tmpl *template.Template, data PromptData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt for row %d: %w", data.Row, err)
	}
	return sb.String(), nil
}
