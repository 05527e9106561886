package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParamString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{name: "empty", input: "", want: map[string]any{}},
		{
			name:  "typed values",
			input: "method=knn n_neighbors=3 threshold=2.5 lowercase=TRUE remove_punct=false",
			want: map[string]any{
				"method":       "knn",
				"n_neighbors":  3,
				"threshold":    2.5,
				"lowercase":    true,
				"remove_punct": false,
			},
		},
		{
			name:  "lists",
			input: "columns=price, qty=1 names=a,b,c",
			want: map[string]any{
				"columns": []string{"price"},
				"qty":     1,
				"names":   []string{"a", "b", "c"},
			},
		},
		{
			name:  "tokens without equals are ignored",
			input: "columns=name verbose =x",
			want:  map[string]any{"columns": "name"},
		},
		{
			name:  "dotted non-numbers stay strings",
			input: "file=data.csv version=1.2.3",
			want:  map[string]any{"file": "data.csv", "version": "1.2.3"},
		},
		{
			name:  "value keeps later equals signs",
			input: "expr=a=b",
			want:  map[string]any{"expr": "a=b"},
		},
		{
			name:  "later key wins",
			input: "method=mean method=median",
			want:  map[string]any{"method": "median"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseParamString(tt.input))
		})
	}
}
