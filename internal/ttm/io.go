package ttm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/born-ml/tsexport/internal/loader"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
)

// ErrIncompatible is returned when a checkpoint cannot serve the requested
// context and prediction lengths.
var ErrIncompatible = errors.New("incompatible checkpoint")

// LoadOptions selects the lengths the caller needs. Zero values accept the
// checkpoint's own lengths.
type LoadOptions struct {
	ContextLength    int
	PredictionLength int
}

// ReadConfig reads and validates dir/config.json.
func ReadConfig(dir string) (Config, error) {
	//nolint:gosec // G304: model directories are located by the resolver
	data, err := os.ReadFile(filepath.Join(dir, loader.ConfigFile))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// Load reads a checkpoint directory and returns the model in evaluation
// mode.
//
// A checkpoint trained for a longer horizon than requested is narrowed to
// the requested horizon. A different context length is an error.
func Load(dir string, opts LoadOptions) (*Model, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}

	if opts.ContextLength > 0 && opts.ContextLength != cfg.ContextLength {
		return nil, fmt.Errorf("%w: context length %d, checkpoint has %d",
			ErrIncompatible, opts.ContextLength, cfg.ContextLength)
	}
	if opts.PredictionLength > 0 {
		if opts.PredictionLength > cfg.PredictionLength {
			return nil, fmt.Errorf("%w: prediction length %d exceeds checkpoint horizon %d",
				ErrIncompatible, opts.PredictionLength, cfg.PredictionLength)
		}
		cfg.PredictionFilterLength = 0
		if opts.PredictionLength < cfg.PredictionLength {
			cfg.PredictionFilterLength = opts.PredictionLength
		}
	}

	// Initial values are overwritten by the checkpoint.
	model, err := New(cfg, tensor.NewRand(0))
	if err != nil {
		return nil, err
	}

	state, arch, err := loader.LoadWeights(dir)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	if arch != loader.ArchitectureTTM {
		return nil, fmt.Errorf("load weights: %s does not hold %s weights", dir, ModelType)
	}
	if err := nn.LoadStateDict(model, state); err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	nn.Eval(model)
	return model, nil
}

// Save writes config.json and model.safetensors to dir, creating it if
// needed.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, loader.ConfigFile), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := loader.SaveWeights(dir, loader.NewTTMMapper(), nn.StateDict(m)); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}
