package application

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/infrastructure/transforms"
	"github.com/sheetpilot/sheetpilot/internal/testutils"
)

const samplePipelineYAML = `
stop_on_error: true
steps:
  - module: missing_imputer
    params:
      columns: [score]
      method: median
  - module: text_normalizer
    name: clean names
    params:
      columns: name
      slang_dict:
        bob: robert
        robert: bobby
  - module: outlier_detector
    enabled: false
    params:
      columns: [id]
  - module: missing_imputer
`

func newTestLoader(t *testing.T, opts ...LoaderOption) *PipelineLoader {
	t.Helper()
	l, err := NewPipelineLoader(NewModuleRegistry(), opts...)
	require.NoError(t, err)
	return l
}

func TestPipelineLoader_Load(t *testing.T) {
	l := newTestLoader(t)

	p, err := l.Load([]byte(samplePipelineYAML))
	require.NoError(t, err)

	require.NotNil(t, p.StopOnError)
	assert.True(t, *p.StopOnError)
	require.Len(t, p.Steps, 4)

	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
		assert.NotNil(t, s.Factory)
	}
	assert.Equal(t, []string{"missing_imputer", "clean names", "outlier_detector", "missing_imputer_2"}, names)
	assert.False(t, p.Steps[2].Enabled)
	assert.True(t, p.Steps[3].Enabled)
	assert.Empty(t, p.Steps[3].Params)
	assert.Equal(t, "median", p.Steps[0].Params["method"])
	assert.IsType(t, &yaml.Node{}, p.Steps[1].Params["slang_dict"])
}

func TestPipelineLoader_RunsLoadedPipeline(t *testing.T) {
	l := newTestLoader(t)
	p, err := l.Load([]byte(samplePipelineYAML))
	require.NoError(t, err)

	out, report, err := NewOrchestrator().Run(context.Background(), testutils.MixedTable(), p.Steps, nil)
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	assert.Equal(t, []string{"missing_imputer", "clean names", "missing_imputer_2"}, report.StepsCompleted)
	score, _ := out.Column("score")
	assert.Equal(t, []float64{1, 3, 3, 3, 5}, score.Floats())

	// Slang entries apply in file order: bob -> robert, then robert -> bobby.
	cell, _ := out.Cell("name", 1)
	got, _ := cell.Str()
	assert.Equal(t, "bobby", got)
}

func TestPipelineLoader_JSON(t *testing.T) {
	l := newTestLoader(t)

	p, err := l.Load([]byte(`{"steps": [{"module": "outlier_detector", "params": {"columns": ["id"], "action": "flag"}, "enabled": true}]}`))
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Nil(t, p.StopOnError)
	assert.Equal(t, "flag", p.Steps[0].Params["action"])
	assert.Equal(t, []any{"id"}, p.Steps[0].Params["columns"])
}

func TestPipelineLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "", wantErr: "empty document"},
		{name: "unknown top-level field", input: "steps: [{module: text_normalizer}]\nversion: 1\n", wantErr: "field version not found"},
		{name: "no steps", input: "steps: []\n", wantErr: "Steps"},
		{name: "missing module", input: "steps: [{name: a}]\n", wantErr: "Module"},
		{name: "bad module name", input: "steps: [{module: 'two words'}]\n", wantErr: "modulename"},
		{name: "padded step name", input: "steps: [{module: text_normalizer, name: ' x'}]\n", wantErr: "stepname"},
		{name: "duplicate names", input: "steps: [{module: a1, name: x}, {module: a2, name: x}]\n", wantErr: "duplicate step name"},
		{name: "params not a mapping", input: "steps: [{module: text_normalizer, params: [1, 2]}]\n", wantErr: "params must be a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(t).Load([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPipelineLoader_UnknownModule(t *testing.T) {
	input := []byte("steps:\n  - module: missing_imputr\n  - module: text_normalizer\n    params: {columns: name}\n")

	t.Run("hard error with suggestion", func(t *testing.T) {
		_, err := newTestLoader(t).Load(input)

		var unknown *UnknownModuleError
		require.ErrorAs(t, err, &unknown)
		assert.ErrorIs(t, err, ErrUnknownModule)
		assert.Equal(t, transforms.ModuleImputer, unknown.Suggestion)
		assert.Contains(t, err.Error(), `did you mean "missing_imputer"`)
	})

	t.Run("skipped when requested", func(t *testing.T) {
		p, err := newTestLoader(t, WithSkipUnknown(true)).Load(input)
		require.NoError(t, err)

		require.Len(t, p.Steps, 1)
		assert.Equal(t, transforms.ModuleNormalizer, p.Steps[0].Module)
		require.Len(t, p.Warnings, 1)
		assert.Contains(t, p.Warnings[0], "missing_imputr")
	})
}

func TestPipelineLoader_Cache(t *testing.T) {
	l := newTestLoader(t)

	_, err := l.Load([]byte(samplePipelineYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, l.CacheSize())

	// Same document with different spacing shares the entry.
	reformatted := strings.ReplaceAll(samplePipelineYAML, "\n", "  \n\n")
	_, err = l.Load([]byte(reformatted))
	require.NoError(t, err)
	assert.Equal(t, 1, l.CacheSize())

	// Resolved steps are not shared between loads.
	a, err := l.Load([]byte(samplePipelineYAML))
	require.NoError(t, err)
	b, err := l.Load([]byte(samplePipelineYAML))
	require.NoError(t, err)
	a.Steps[0].Params["method"] = "mode"
	assert.Equal(t, "median", b.Steps[0].Params["method"])
	assert.Equal(t, 1, l.CacheSize())
}

func TestPipelineLoader_ConcurrentLoads(t *testing.T) {
	l := newTestLoader(t)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Load([]byte(samplePipelineYAML))
			if assert.NoError(t, err) {
				assert.Len(t, p.Steps, 4)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, l.CacheSize())
}

func TestPipelineLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePipelineYAML), 0o600))
	l := newTestLoader(t)

	p, err := l.LoadFromFile(path)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 4)

	p, err = l.LoadFromReader(strings.NewReader(samplePipelineYAML))
	require.NoError(t, err)
	assert.Len(t, p.Steps, 4)

	_, err = l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParamsFromNode(t *testing.T) {
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("columns: [a, b]\nk: 3\nnested: {z: 1, a: 2}\n"), &doc))

	params, err := paramsFromNode(&doc)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, params["columns"])
	assert.Equal(t, 3, params["k"])
	nested, ok := params["nested"].(*yaml.Node)
	require.True(t, ok)
	assert.Equal(t, "z", nested.Content[0].Value, "mapping order preserved")

	empty, err := paramsFromNode(&yaml.Node{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = paramsFromNode(&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "x"})
	assert.Error(t, err)
}

func TestStepConfig_IsEnabled(t *testing.T) {
	off := false
	assert.True(t, StepConfig{}.IsEnabled())
	assert.False(t, StepConfig{Enabled: &off}.IsEnabled())
}
