package application

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PipelineConfig is the declarative form of a pipeline, read from a YAML or
// JSON file. JSON documents are accepted because yaml.v3 parses them.
type PipelineConfig struct {
	// StopOnError overrides the orchestrator setting when present.
	StopOnError *bool `yaml:"stop_on_error,omitempty" json:"stop_on_error,omitempty"`
	// Steps run in declaration order.
	Steps []StepConfig `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// StepConfig declares one step of a pipeline.
type StepConfig struct {
	// Module is the registered module name the step runs.
	Module string `yaml:"module" json:"module" validate:"required,modulename"`
	// Name identifies the step in reports. It defaults to the module name.
	Name string `yaml:"name,omitempty" json:"name,omitempty" validate:"omitempty,stepname"`
	// Params are handed to the module's factory. Mapping order is preserved
	// for nested values such as slang dictionaries.
	Params yaml.Node `yaml:"params,omitempty" json:"params,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the step should run.
func (s StepConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

var (
	moduleNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)
	stepNamePattern   = regexp.MustCompile(`^\S(.*\S)?$`)
)

// registerPipelineValidators adds the validation tags used by the pipeline
// configuration types.
func registerPipelineValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modulename", validateModuleName); err != nil {
		return fmt.Errorf("failed to register modulename validator: %w", err)
	}
	if err := v.RegisterValidation("stepname", validateStepName); err != nil {
		return fmt.Errorf("failed to register stepname validator: %w", err)
	}
	return nil
}

// validateModuleName accepts names a plugin directory could carry: a
// leading letter or digit followed by letters, digits, '_', '.', or '-'.
func validateModuleName(fl validator.FieldLevel) bool {
	return moduleNamePattern.MatchString(fl.Field().String())
}

// validateStepName rejects names with leading or trailing whitespace.
func validateStepName(fl validator.FieldLevel) bool {
	return stepNamePattern.MatchString(fl.Field().String())
}

// paramsFromNode converts a params node into a factory parameter map.
// Nested mappings are kept as *yaml.Node so that their key order survives
// until the transform decodes them; every other value is decoded to its
// natural Go type. An absent or null node yields an empty map.
func paramsFromNode(node *yaml.Node) (map[string]any, error) {
	params := make(map[string]any)
	if node == nil || node.Kind == 0 {
		return params, nil
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return params, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("params must be a mapping, got %s", nodeKindName(node.Kind))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return nil, fmt.Errorf("param key at line %d: %w", keyNode.Line, err)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("duplicate param %q", key)
		}
		if valueNode.Kind == yaml.AliasNode {
			valueNode = valueNode.Alias
		}
		if valueNode.Kind == yaml.MappingNode {
			params[key] = valueNode
			continue
		}
		var value any
		if err := valueNode.Decode(&value); err != nil {
			return nil, fmt.Errorf("param %q: %w", key, err)
		}
		params[key] = value
	}
	return params, nil
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
