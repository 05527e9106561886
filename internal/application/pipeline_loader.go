package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// Pipeline is a loaded pipeline ready to hand to the orchestrator.
type Pipeline struct {
	// StopOnError is nil when the file does not set it.
	StopOnError *bool
	Steps       []Step
	// Warnings lists steps skipped while resolving modules.
	Warnings []string
}

// PipelineLoader parses, validates, and resolves pipeline files against a
// module registry. Parsed configurations are cached by the SHA-256 of
// their normalized encoding; steps are resolved on every load so that
// modules registered after the first load are visible.
type PipelineLoader struct {
	validator *validator.Validate
	registry  *ModuleRegistry
	logger    *slog.Logger
	// skipUnknown turns unknown modules into warnings instead of errors.
	skipUnknown bool

	// cache maps config hashes to parsed configurations.
	// Cached configs must not be mutated.
	cache   map[string]*PipelineConfig
	cacheMu sync.RWMutex
	sf      singleflight.Group
}

// LoaderOption configures a PipelineLoader.
type LoaderOption func(*PipelineLoader)

// WithSkipUnknown makes unknown modules a warning. The step is dropped.
func WithSkipUnknown(skip bool) LoaderOption {
	return func(l *PipelineLoader) { l.skipUnknown = skip }
}

// WithLoaderLogger sets the logger for skipped-step warnings.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *PipelineLoader) { l.logger = logger }
}

// NewPipelineLoader creates a loader resolving modules through registry.
// NewPipelineLoader returns an error if validator registration fails.
func NewPipelineLoader(registry *ModuleRegistry, opts ...LoaderOption) (*PipelineLoader, error) {
	v := validator.New()
	if err := registerPipelineValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	l := &PipelineLoader{
		validator: v,
		registry:  registry,
		logger:    slog.Default(),
		cache:     make(map[string]*PipelineConfig),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadFromFile loads a pipeline from a YAML or JSON file.
func (l *PipelineLoader) LoadFromFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.Load(data)
}

// LoadFromReader loads a pipeline from r.
func (l *PipelineLoader) LoadFromReader(r io.Reader) (*Pipeline, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return l.Load(data)
}

// Load parses data and resolves its steps.
func (l *PipelineLoader) Load(data []byte) (*Pipeline, error) {
	config, err := l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}

	// Hash the normalized form so formatting differences share an entry.
	hash, err := configHash(config)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := l.sf.Do(hash, func() (any, error) {
		if cached, ok := l.cached(hash); ok {
			return cached, nil
		}
		if err := l.validate(config); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		l.store(hash, config)
		return config, nil
	})
	if err != nil {
		return nil, err
	}

	return l.resolve(v.(*PipelineConfig))
}

func (l *PipelineLoader) parse(data []byte) (*PipelineConfig, error) {
	var config PipelineConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty document")
		}
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

func (l *PipelineLoader) validate(config *PipelineConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}

	names := make(map[string]int, len(config.Steps))
	for i, step := range config.Steps {
		if _, err := paramsFromNode(&step.Params); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Module, err)
		}
		if step.Name == "" {
			continue
		}
		if prev, dup := names[step.Name]; dup {
			return fmt.Errorf("%w: %q used by steps %d and %d", ErrDuplicateStep, step.Name, prev, i)
		}
		names[step.Name] = i
	}
	return nil
}

// resolve binds every step to its factory. Unnamed steps take the module
// name, suffixed with their ordinal when that name is already taken.
func (l *PipelineLoader) resolve(config *PipelineConfig) (*Pipeline, error) {
	p := &Pipeline{StopOnError: config.StopOnError}

	taken := make(map[string]struct{}, len(config.Steps))
	for _, s := range config.Steps {
		if s.Name != "" {
			taken[s.Name] = struct{}{}
		}
	}

	for i, s := range config.Steps {
		factory, ok := l.registry.Get(s.Module)
		if !ok {
			unknown := &UnknownModuleError{Module: s.Module, Suggestion: l.registry.Suggest(s.Module)}
			if !l.skipUnknown {
				return nil, fmt.Errorf("step %d: %w", i, unknown)
			}
			msg := fmt.Sprintf("skipping step %d: %v", i, unknown)
			p.Warnings = append(p.Warnings, msg)
			l.logger.Warn("pipeline step skipped", "step", i, "module", s.Module, "suggestion", unknown.Suggestion)
			continue
		}

		params, err := paramsFromNode(&s.Params)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Module, err)
		}

		name := s.Name
		if name == "" {
			name = s.Module
			for n := 2; ; n++ {
				if _, clash := taken[name]; !clash {
					break
				}
				name = s.Module + "_" + strconv.Itoa(n)
			}
			taken[name] = struct{}{}
		}

		p.Steps = append(p.Steps, Step{
			Name:    name,
			Module:  s.Module,
			Factory: factory,
			Params:  params,
			Enabled: s.IsEnabled(),
		})
	}
	return p, nil
}

// configHash returns the hex SHA-256 of config re-encoded with fixed
// indentation.
func configHash(config *PipelineConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (l *PipelineLoader) cached(hash string) (*PipelineConfig, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()

	config, ok := l.cache[hash]
	return config, ok
}

func (l *PipelineLoader) store(hash string, config *PipelineConfig) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()

	l.cache[hash] = config
}

// CacheSize returns the number of cached configurations.
func (l *PipelineLoader) CacheSize() int {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()

	return len(l.cache)
}
