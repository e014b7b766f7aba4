package loader

import (
	"strings"
)

// Architecture names, as found in the model_type field of config.json.
const (
	ArchitectureTTM = "tinytimemixer"
)

// WeightMapper maps checkpoint weight names to module parameter names.
type WeightMapper interface {
	// MapName converts a checkpoint weight name to a parameter name.
	MapName(name string) string

	// CheckpointName is the inverse of MapName.
	CheckpointName(name string) string

	// Architecture returns the architecture name (e.g., "tinytimemixer").
	Architecture() string
}

// rewrite replaces a fragment of a weight name. Prefix rules only match at
// the start of the name.
type rewrite struct {
	checkpoint string
	module     string
	prefix     bool
}

// TTMMapper maps TinyTimeMixer checkpoint names to module names.
//
// Checkpoint format:
//   - backbone.encoder.patcher.weight -> encoder.patcher.weight
//   - backbone.encoder.mlp_mixer_encoder.mixers.{i}.patch_mixer.norm.norm.weight
//     -> encoder.mixers.{i}.patch_mixer.norm.weight
//   - with adaptive patching each mixer nests its layers:
//     ...mixers.{i}.mixer_layers.{j}.patch_mixer... -> encoder.mixers.{i}.mixer_layers.{j}.patch_mixer...
//   - ...feature_mixer.gating_block.attn_layer.weight -> ...feature_mixer.gate.attn_layer.weight
//   - decoder.decoder_block.mixers.{i}... -> decoder.mixers.{i}...
//   - head.base_forecast_block.weight -> head.projection.weight
type TTMMapper struct {
	rules []rewrite
}

// NewTTMMapper creates a new TinyTimeMixer weight mapper.
func NewTTMMapper() *TTMMapper {
	return &TTMMapper{
		rules: []rewrite{
			{checkpoint: "backbone.encoder.mlp_mixer_encoder.mixers.", module: "encoder.mixers.", prefix: true},
			{checkpoint: "backbone.encoder.patcher.", module: "encoder.patcher.", prefix: true},
			{checkpoint: "decoder.decoder_block.mixers.", module: "decoder.mixers.", prefix: true},
			{checkpoint: "head.base_forecast_block.", module: "head.projection.", prefix: true},
			{checkpoint: ".norm.norm.", module: ".norm."},
			{checkpoint: ".gating_block.", module: ".gate."},
		},
	}
}

// MapName converts a checkpoint name. Unknown names pass through unchanged
// so that strict state loading can report them.
func (m *TTMMapper) MapName(name string) string {
	for _, r := range m.rules {
		name = apply(name, r.checkpoint, r.module, r.prefix)
	}
	return name
}

// CheckpointName converts a module parameter name back to checkpoint form.
func (m *TTMMapper) CheckpointName(name string) string {
	for _, r := range m.rules {
		name = apply(name, r.module, r.checkpoint, r.prefix)
	}
	return name
}

// Architecture returns "tinytimemixer".
func (m *TTMMapper) Architecture() string {
	return ArchitectureTTM
}

func apply(name, from, to string, prefix bool) string {
	if prefix {
		if rest, ok := strings.CutPrefix(name, from); ok {
			return to + rest
		}
		return name
	}
	return strings.Replace(name, from, to, 1)
}

// DetectArchitecture attempts to detect model architecture from weight names.
func DetectArchitecture(names []string) string {
	for _, name := range names {
		if strings.HasPrefix(name, "backbone.encoder.patcher.") ||
			strings.HasPrefix(name, "encoder.patcher.") {
			return ArchitectureTTM
		}
	}
	return ""
}

// GetMapper returns the weight mapper for an architecture, or nil when the
// architecture is unknown.
func GetMapper(architecture string) WeightMapper {
	switch architecture {
	case ArchitectureTTM:
		return NewTTMMapper()
	default:
		return nil
	}
}
