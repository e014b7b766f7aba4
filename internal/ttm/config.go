package ttm

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ModelType is the model_type value of TinyTimeMixer checkpoints.
const ModelType = "tinytimemixer"

//go:embed schema.json
var schemaJSON string

// ErrInvalidConfig is returned for configurations that fail validation.
var ErrInvalidConfig = errors.New("invalid ttm config")

// Scaling selects the input normalization.
type Scaling string

// Supported scalers.
const (
	ScalingStd  Scaling = "std"
	ScalingNone Scaling = "none"
)

// ModeCommonChannel mixes patches and features of each channel
// independently. It is the only mixing mode implemented here.
const ModeCommonChannel = "common_channel"

// NormLayerNorm is the only norm_mlp variant implemented here.
const NormLayerNorm = "LayerNorm"

// UnmarshalJSON accepts the boolean and null forms used by older
// checkpoints: true means "std", false and null mean "none".
func (s *Scaling) UnmarshalJSON(data []byte) error {
	var enabled *bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		if enabled != nil && *enabled {
			*s = ScalingStd
		} else {
			*s = ScalingNone
		}
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("scaling: %w", err)
	}
	*s = Scaling(name)
	return nil
}

// Config mirrors the fields of a TinyTimeMixer config.json that affect
// inference.
//
// Keys that select architecture variants without an implementation here
// are decoded too, so Validate can reject them instead of running a
// different network than the checkpoint was trained as.
type Config struct {
	ModelType              string  `json:"model_type"`
	ContextLength          int     `json:"context_length"`
	PredictionLength       int     `json:"prediction_length"`
	PredictionFilterLength int     `json:"prediction_filter_length,omitempty"`
	PatchLength            int     `json:"patch_length"`
	PatchStride            int     `json:"patch_stride"`
	NumInputChannels       int     `json:"num_input_channels"`
	DModel                 int     `json:"d_model"`
	NumLayers              int     `json:"num_layers"`
	AdaptivePatchingLevels int     `json:"adaptive_patching_levels"`
	DecoderDModel          int     `json:"decoder_d_model"`
	DecoderNumLayers       int     `json:"decoder_num_layers"`
	DecoderAdaptiveLevels  int     `json:"decoder_adaptive_patching_levels"`
	ExpansionFactor        int     `json:"expansion_factor"`
	GatedAttn              bool    `json:"gated_attn"`
	Dropout                float64 `json:"dropout"`
	HeadDropout            float64 `json:"head_dropout"`
	NormEps                float64 `json:"norm_eps"`
	Scaling                Scaling `json:"scaling"`

	// Architecture selectors. Only the values set by DefaultConfig are
	// supported.
	Mode                        string `json:"mode"`
	DecoderMode                 string `json:"decoder_mode"`
	NormMLP                     string `json:"norm_mlp"`
	UseDecoder                  bool   `json:"use_decoder"`
	DecoderRawResidual          bool   `json:"decoder_raw_residual"`
	SelfAttn                    bool   `json:"self_attn"`
	UsePositionalEncoding       bool   `json:"use_positional_encoding"`
	ResolutionPrefixTuning      bool   `json:"resolution_prefix_tuning"`
	EnableForecastChannelMixing bool   `json:"enable_forecast_channel_mixing"`
	PredictionChannelIndices    []int  `json:"prediction_channel_indices"`
	ExogenousChannelIndices     []int  `json:"exogenous_channel_indices"`
	CategoricalVocabSizeList    []int  `json:"categorical_vocab_size_list"`
}

// DefaultConfig returns the settings of the r2 512-96 release.
func DefaultConfig() Config {
	return Config{
		ModelType:              ModelType,
		ContextLength:          512,
		PredictionLength:       96,
		PatchLength:            64,
		PatchStride:            64,
		NumInputChannels:       1,
		DModel:                 192,
		NumLayers:              2,
		AdaptivePatchingLevels: 3,
		DecoderDModel:          128,
		DecoderNumLayers:       2,
		ExpansionFactor:        2,
		GatedAttn:              true,
		Dropout:                0.2,
		HeadDropout:            0.2,
		NormEps:                1e-5,
		Scaling:                ScalingStd,
		Mode:                   ModeCommonChannel,
		DecoderMode:            ModeCommonChannel,
		NormMLP:                NormLayerNorm,
		UseDecoder:             true,
	}
}

// ParseConfig validates data against the embedded schema and decodes it on
// top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	schema, err := jsonschema.CompileString("schema.json", schemaJSON)
	if err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()
	// Checkpoints without an explicit stride use non-overlapping patches.
	cfg.PatchStride = 0
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.PatchStride == 0 {
		cfg.PatchStride = cfg.PatchLength
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints the schema cannot express.
func (c Config) Validate() error {
	switch {
	case c.ModelType != ModelType:
		return fmt.Errorf("%w: model_type %q", ErrInvalidConfig, c.ModelType)
	case c.ContextLength <= 0 || c.PredictionLength <= 0 || c.PatchLength <= 0:
		return fmt.Errorf("%w: lengths must be positive", ErrInvalidConfig)
	case c.PatchStride != c.PatchLength:
		return fmt.Errorf("%w: patch_stride %d must equal patch_length %d", ErrInvalidConfig, c.PatchStride, c.PatchLength)
	case c.ContextLength%c.PatchLength != 0:
		return fmt.Errorf("%w: context_length %d is not a multiple of patch_length %d", ErrInvalidConfig, c.ContextLength, c.PatchLength)
	case c.PredictionFilterLength < 0 || c.PredictionFilterLength > c.PredictionLength:
		return fmt.Errorf("%w: prediction_filter_length %d outside [0, %d]", ErrInvalidConfig, c.PredictionFilterLength, c.PredictionLength)
	case c.NumInputChannels <= 0 || c.DModel <= 0 || c.NumLayers <= 0 || c.DecoderDModel <= 0 || c.ExpansionFactor <= 0:
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	case c.DecoderNumLayers < 0:
		return fmt.Errorf("%w: decoder_num_layers %d", ErrInvalidConfig, c.DecoderNumLayers)
	case c.AdaptivePatchingLevels < 0 || c.DecoderAdaptiveLevels < 0:
		return fmt.Errorf("%w: adaptive patching levels must not be negative", ErrInvalidConfig)
	case c.Dropout < 0 || c.Dropout >= 1 || c.HeadDropout < 0 || c.HeadDropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1)", ErrInvalidConfig)
	case c.NormEps <= 0:
		return fmt.Errorf("%w: norm_eps must be positive", ErrInvalidConfig)
	case c.Scaling != ScalingStd && c.Scaling != ScalingNone:
		return fmt.Errorf("%w: scaling %q", ErrInvalidConfig, c.Scaling)
	}

	for _, level := range []struct {
		key    string
		width  int
		levels int
	}{
		{"d_model", c.DModel, c.AdaptivePatchingLevels},
		{"decoder_d_model", c.DecoderDModel, c.DecoderAdaptiveLevels},
	} {
		for i := range level.levels {
			if f := patchFactor(level.width, i); level.width%f != 0 {
				return fmt.Errorf("%w: %s %d is not divisible by %d", ErrInvalidConfig, level.key, level.width, f)
			}
		}
	}
	return c.checkSupported()
}

// checkSupported rejects architecture variants this package does not build.
func (c Config) checkSupported() error {
	unsupported := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format+" is not supported", append([]any{ErrIncompatible}, args...)...)
	}

	switch {
	case c.Mode != ModeCommonChannel:
		return unsupported("mode %q", c.Mode)
	case c.DecoderMode != ModeCommonChannel:
		return unsupported("decoder_mode %q", c.DecoderMode)
	case c.NormMLP != NormLayerNorm:
		return unsupported("norm_mlp %q", c.NormMLP)
	case !c.UseDecoder:
		return unsupported("use_decoder false")
	case c.DecoderRawResidual:
		return unsupported("decoder_raw_residual")
	case c.SelfAttn:
		return unsupported("self_attn")
	case c.UsePositionalEncoding:
		return unsupported("use_positional_encoding")
	case c.ResolutionPrefixTuning:
		return unsupported("resolution_prefix_tuning")
	case c.EnableForecastChannelMixing:
		return unsupported("enable_forecast_channel_mixing")
	case len(c.PredictionChannelIndices) > 0:
		return unsupported("prediction_channel_indices")
	case len(c.ExogenousChannelIndices) > 0:
		return unsupported("exogenous_channel_indices")
	case len(c.CategoricalVocabSizeList) > 0:
		return unsupported("categorical_vocab_size_list")
	}
	return nil
}

// patchFactor returns how many sub-patches each patch is split into at an
// adaptive patching level. Levels that would leave 4 or fewer features per
// sub-patch fall back to a factor of 1.
func patchFactor(width, level int) int {
	f := 1 << level
	if width/f <= 4 {
		return 1
	}
	return f
}

// NumPatches returns the number of patches the context is split into.
func (c Config) NumPatches() int {
	return c.ContextLength / c.PatchLength
}

// Horizon returns the number of forecast steps the model emits.
func (c Config) Horizon() int {
	if c.PredictionFilterLength > 0 {
		return c.PredictionFilterLength
	}
	return c.PredictionLength
}
