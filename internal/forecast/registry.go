package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/born-ml/tsexport/internal/loader"
	"github.com/born-ml/tsexport/internal/ttm"
)

// ErrUnknownFamily is returned for checkpoints whose model_type has no
// registered loader.
var ErrUnknownFamily = errors.New("unknown model family")

// LoadOptions are the lengths the caller needs from a checkpoint.
type LoadOptions struct {
	ContextLength    int
	PredictionLength int
}

// LoadFunc loads a checkpoint directory as a Forecaster in evaluation mode.
type LoadFunc func(dir string, opts LoadOptions) (Forecaster, error)

// Registry maps model_type values to family loaders.
type Registry struct {
	loaders map[string]LoadFunc
}

// NewRegistry creates a registry with every built-in family.
func NewRegistry() *Registry {
	r := &Registry{
		loaders: make(map[string]LoadFunc),
	}
	r.Register(ttm.ModelType, loadTTM)
	return r
}

// Register adds or replaces the loader of a family.
func (r *Registry) Register(modelType string, fn LoadFunc) {
	r.loaders[modelType] = fn
}

// Families returns the registered model types, sorted.
func (r *Registry) Families() []string {
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load dispatches on the model_type field of dir/config.json.
func (r *Registry) Load(dir string, opts LoadOptions) (Forecaster, error) {
	modelType, err := ReadModelType(dir)
	if err != nil {
		return nil, err
	}

	fn, ok := r.loaders[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFamily, modelType, r.Families())
	}
	return fn(dir, opts)
}

// ReadModelType returns the model_type field of dir/config.json.
func ReadModelType(dir string) (string, error) {
	//nolint:gosec // G304: model directories are located by the resolver
	data, err := os.ReadFile(filepath.Join(dir, loader.ConfigFile))
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	var head struct {
		ModelType string `json:"model_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	return head.ModelType, nil
}

func loadTTM(dir string, opts LoadOptions) (Forecaster, error) {
	model, err := ttm.Load(dir, ttm.LoadOptions{
		ContextLength:    opts.ContextLength,
		PredictionLength: opts.PredictionLength,
	})
	if err != nil {
		return nil, err
	}
	return NewTTMAdapter(model), nil
}
