package application

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/infrastructure/transforms"
	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// ManifestFile is the file a plugin directory must contain.
const ManifestFile = "module.yaml"

// ModuleRegistry maps module names to transform factories.
// Built-in transforms are registered by NewModuleRegistry; further modules
// come from explicit Register calls or from plugin manifests found by Scan.
// ModuleRegistry is safe for concurrent use.
type ModuleRegistry struct {
	mu        sync.RWMutex
	factories map[string]ports.TransformFactory
	// plugins maps plugin module names to the directory they came from so
	// that rescanning the same directory is idempotent.
	plugins map[string]string
	// entryPoints are the factories a manifest may reference by name.
	entryPoints  map[string]ports.TransformFactory
	descriptions map[string]string

	logger    *slog.Logger
	llmClient ports.LLMClient
	audit     ports.AuditSink
}

// RegistryOption configures a ModuleRegistry.
type RegistryOption func(*ModuleRegistry)

// WithRegistryLogger sets the logger used for scan diagnostics.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ModuleRegistry) { r.logger = logger }
}

// WithLLMClient binds the client used by the LLM-backed normalizer. Without
// one the normalizer runs in passthrough mode.
func WithLLMClient(client ports.LLMClient) RegistryOption {
	return func(r *ModuleRegistry) { r.llmClient = client }
}

// WithRegistryAuditSink sets the sink handed to transforms that audit
// their own usage.
func WithRegistryAuditSink(sink ports.AuditSink) RegistryOption {
	return func(r *ModuleRegistry) { r.audit = sink }
}

// NewModuleRegistry creates a registry with the built-in transforms
// registered under their module names.
func NewModuleRegistry(opts ...RegistryOption) *ModuleRegistry {
	r := &ModuleRegistry{
		factories: make(map[string]ports.TransformFactory),
		plugins:   make(map[string]string),
		logger:    slog.Default(),
		descriptions: map[string]string{
			transforms.ModuleImputer:       "fill missing values (mean, median, mode, knn, constant)",
			transforms.ModuleNormalizer:    "clean free text (case, punctuation, slang, stopwords)",
			transforms.ModuleOutlier:       "remove or flag outliers (iqr, zscore, isolation, lof)",
			transforms.ModuleLLMNormalizer: "normalize text with a language model",
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.entryPoints = map[string]ports.TransformFactory{
		transforms.ModuleImputer:    transforms.CreateImputer,
		transforms.ModuleNormalizer: transforms.CreateNormalizer,
		transforms.ModuleOutlier:    transforms.CreateOutlierDetector,
		transforms.ModuleLLMNormalizer: transforms.NewLLMNormalizerFactory(r.llmClient,
			transforms.WithNormalizerLogger(r.logger),
			transforms.WithNormalizerAudit(r.audit)),
	}
	maps.Copy(r.factories, r.entryPoints)
	return r
}

// Register adds a factory under name. Names must be non-empty and unique.
func (r *ModuleRegistry) Register(name string, factory ports.TransformFactory) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if factory == nil {
		return ErrNilFactory
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}
	r.factories[name] = factory
	return nil
}

// Get returns the factory registered under name.
func (r *ModuleRegistry) Get(name string) (ports.TransformFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// List returns a snapshot of every registration.
func (r *ModuleRegistry) List() map[string]ports.TransformFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.factories)
}

// Names returns the registered module names in sorted order.
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

// Describe returns the one-line description of a module, if it has one.
func (r *ModuleRegistry) Describe(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.descriptions[name]
}

// Suggest returns the registered name closest to name by edit distance, or
// the empty string when nothing is close enough to be a likely typo.
func (r *ModuleRegistry) Suggest(name string) string {
	best, bestDist := "", -1
	for _, candidate := range r.Names() {
		if name != "" && strings.Contains(candidate, name) {
			return candidate
		}
		d := levenshtein.ComputeDistance(name, candidate)
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if bestDist < 0 || bestDist > max(3, len(name)/3) {
		return ""
	}
	return best
}

// ScanResult reports the outcome of a plugin scan.
type ScanResult struct {
	// Loaded lists the module names registered, in visit order.
	Loaded []string
	// Warnings describes every skipped candidate and missing root.
	Warnings []string
}

// pluginManifest is the content of a plugin's module.yaml.
type pluginManifest struct {
	// Process names the entry point the plugin runs.
	Process string `yaml:"process"`
	// Description is free text shown by module listings.
	Description string `yaml:"description"`
	// Params are defaults merged under each step's own params.
	Params yaml.Node `yaml:"params"`
}

// Scan registers every plugin found under roots. A plugin is an immediate
// subdirectory whose name does not start with "_" or "." and that holds a
// module.yaml naming a known entry point in its process field. Invalid
// candidates are skipped with a warning and never abort the scan.
// Directories are visited in sorted order.
func (r *ModuleRegistry) Scan(roots ...string) ScanResult {
	var result ScanResult
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		result.Warnings = append(result.Warnings, msg)
		r.logger.Warn("plugin scan", "warning", msg)
	}

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				warn("plugin directory %s does not exist", root)
			} else {
				warn("cannot read plugin directory %s: %v", root, err)
			}
			continue
		}

		// os.ReadDir returns entries sorted by filename.
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
				continue
			}
			dir := filepath.Join(root, name)

			manifest, preset, err := readManifest(dir)
			if err != nil {
				warn("skipping plugin %s: %v", name, err)
				continue
			}
			base, ok := r.entryPoints[manifest.Process]
			if !ok {
				warn("skipping plugin %s: unknown entry point %q", name, manifest.Process)
				continue
			}

			if err := r.registerPlugin(name, dir, manifest.Description, withPreset(base, preset)); err != nil {
				warn("skipping plugin %s: %v", name, err)
				continue
			}
			result.Loaded = append(result.Loaded, name)
			r.logger.Info("loaded plugin", "module", name, "entry_point", manifest.Process, "dir", dir)
		}
	}
	return result
}

func (r *ModuleRegistry) registerPlugin(name, dir, description string, factory ports.TransformFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists && r.plugins[name] != dir {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}
	r.factories[name] = factory
	r.plugins[name] = dir
	if description == "" {
		description = "plugin: " + dir
	}
	r.descriptions[name] = description
	return nil
}

func readManifest(dir string) (*pluginManifest, map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("no %s", ManifestFile)
		}
		return nil, nil, err
	}

	var m pluginManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}
	if strings.TrimSpace(m.Process) == "" {
		return nil, nil, fmt.Errorf("%s has no process entry point", ManifestFile)
	}
	preset, err := paramsFromNode(&m.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s params: %w", ManifestFile, err)
	}
	return &m, preset, nil
}

// withPreset wraps base so that preset params apply unless the step
// overrides them.
func withPreset(base ports.TransformFactory, preset map[string]any) ports.TransformFactory {
	if len(preset) == 0 {
		return base
	}
	return func(params map[string]any) (ports.Transform, error) {
		merged := maps.Clone(preset)
		maps.Copy(merged, params)
		return base(merged)
	}
}
