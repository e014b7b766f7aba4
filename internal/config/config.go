// Package config holds the build-time settings of the export.
//
// Settings come from an embedded YAML document validated against an
// embedded JSON schema. There is no user configuration file: the model
// identity and lengths are fixed at build time, and only the ambient
// settings (paths, logging) may be overridden by command-line flags.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed schema.json
var schemaJSON string

// ErrInvalid is returned for settings the schema or Validate rejects.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the main configuration for the application.
type Config struct {
	Model   ModelConfig   `json:"model"   yaml:"model"`
	Export  ExportConfig  `json:"export"  yaml:"export"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ModelConfig identifies the pretrained model and the lengths it is
// exported for.
type ModelConfig struct {
	ID               string `json:"id"                yaml:"id"`
	ContextLength    int    `json:"context_length"    yaml:"context_length"`
	PredictionLength int    `json:"prediction_length" yaml:"prediction_length"`
}

// ExportConfig controls the artifact.
type ExportConfig struct {
	Output          string  `json:"output"            yaml:"output"`
	TritonConfig    bool    `json:"triton_config"     yaml:"triton_config"`
	TritonModelName string  `json:"triton_model_name" yaml:"triton_model_name"`
	MaxBatchSize    int     `json:"max_batch_size"    yaml:"max_batch_size"`
	Seed            uint64  `json:"seed"              yaml:"seed"`
	CheckInputs     int     `json:"check_inputs"      yaml:"check_inputs"`
	Tolerance       float64 `json:"tolerance"         yaml:"tolerance"`
}

// StorageConfig holds configuration for caching and auto-download.
type StorageConfig struct {
	ModelsDir  string        `json:"models_dir"  yaml:"models_dir"`
	Download   bool          `json:"download"    yaml:"download"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `json:"timeout"     yaml:"timeout"`
}

// LoggingConfig selects the log level and an optional log file.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file"  yaml:"file"`
}

// Default returns the embedded defaults. An empty models directory is
// replaced by DefaultModelsPath.
func Default() (*Config, error) {
	cfg, err := Parse(defaultsYAML)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.ModelsDir == "" {
		cfg.Storage.ModelsDir = DefaultModelsPath()
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %w", ErrInvalid, err)
	}

	schema, err := jsonschema.CompileString("schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal into Config struct: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that flags can change after Parse.
func (c *Config) Validate() error {
	switch {
	case c.Model.ID == "":
		return fmt.Errorf("%w: empty model id", ErrInvalid)
	case c.Model.ContextLength <= 0 || c.Model.PredictionLength <= 0:
		return fmt.Errorf("%w: lengths must be positive", ErrInvalid)
	case c.Export.Output == "":
		return fmt.Errorf("%w: empty output path", ErrInvalid)
	case c.Export.CheckInputs < 0:
		return fmt.Errorf("%w: check_inputs %d", ErrInvalid, c.Export.CheckInputs)
	case c.Storage.Timeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	return nil
}
