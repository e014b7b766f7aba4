package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Checkpoint file names inside a model directory.
const (
	WeightsFile = "model.safetensors"
	ConfigFile  = "config.json"
)

// ErrNoWeights is returned when a model directory holds no weights file.
var ErrNoWeights = errors.New("no weights file")

// ModelFormat represents the model weight format.
type ModelFormat int

// Supported model formats.
const (
	FormatUnknown ModelFormat = iota
	FormatSafeTensors
)

// String returns the format name.
func (f ModelFormat) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	default:
		return "Unknown"
	}
}

// DetectFormat returns the weight format implied by a file name.
func DetectFormat(path string) ModelFormat {
	if filepath.Ext(path) == ".safetensors" {
		return FormatSafeTensors
	}
	return FormatUnknown
}

// LoadWeights reads every tensor of a model directory (or a single weights
// file) and renames it with the mapper of the detected architecture.
//
// Names of unknown architectures are returned as stored.
func LoadWeights(path string) (map[string]*tensor.RawTensor, string, error) {
	file, err := weightsPath(path)
	if err != nil {
		return nil, "", err
	}

	reader, err := NewSafeTensorsReader(file)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := reader.LoadAll()
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", file, err)
	}

	arch := DetectArchitecture(reader.TensorNames())
	mapper := GetMapper(arch)
	if mapper == nil {
		return raw, arch, nil
	}

	mapped := make(map[string]*tensor.RawTensor, len(raw))
	for name, t := range raw {
		mapped[mapper.MapName(name)] = t
	}
	return mapped, arch, nil
}

// SaveWeights writes module parameters to dir in checkpoint naming.
func SaveWeights(dir string, mapper WeightMapper, state map[string]*tensor.RawTensor) error {
	out := make(map[string]*tensor.RawTensor, len(state))
	for name, t := range state {
		out[mapper.CheckpointName(name)] = t
	}
	return WriteSafeTensors(filepath.Join(dir, WeightsFile), out, map[string]string{"format": "pt"})
}

func weightsPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		if DetectFormat(path) != FormatSafeTensors {
			return "", fmt.Errorf("%s: unsupported weights format", path)
		}
		return path, nil
	}

	file := filepath.Join(path, WeightsFile)
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrNoWeights)
		}
		return "", err
	}
	return file, nil
}
