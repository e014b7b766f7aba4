package ttm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/tsexport/internal/backend/cpu"
	"github.com/born-ml/tsexport/internal/loader"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.ContextLength = 16
	cfg.PredictionLength = 6
	cfg.PatchLength = 4
	cfg.PatchStride = 4
	cfg.NumInputChannels = 2
	cfg.DModel = 8
	cfg.NumLayers = 1
	cfg.DecoderDModel = 4
	cfg.DecoderNumLayers = 1
	cfg.Dropout = 0.1
	cfg.HeadDropout = 0.1
	return cfg
}

func newSmall(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(cfg, tensor.NewRand(7))
	require.NoError(t, err)
	nn.Eval(m)
	return m
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"model_type": "tinytimemixer",
		"context_length": 512,
		"prediction_length": 96,
		"patch_length": 64,
		"num_input_channels": 3,
		"scaling": true
	}`))
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.PatchStride)
	assert.Equal(t, 3, cfg.NumInputChannels)
	assert.Equal(t, ScalingStd, cfg.Scaling)
	assert.Equal(t, 8, cfg.NumPatches())
	assert.Equal(t, 96, cfg.Horizon())
	// Unset fields keep their defaults
	assert.Equal(t, 192, cfg.DModel)
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{`},
		{"missing context", `{"model_type": "tinytimemixer", "prediction_length": 96, "patch_length": 64}`},
		{"wrong family", `{"model_type": "patchtst", "context_length": 512, "prediction_length": 96, "patch_length": 64}`},
		{"negative length", `{"model_type": "tinytimemixer", "context_length": -1, "prediction_length": 96, "patch_length": 64}`},
		{"unknown scaler", `{"model_type": "tinytimemixer", "context_length": 512, "prediction_length": 96, "patch_length": 64, "scaling": "mean"}`},
		{"ragged patches", `{"model_type": "tinytimemixer", "context_length": 500, "prediction_length": 96, "patch_length": 64}`},
		{"overlapping patches", `{"model_type": "tinytimemixer", "context_length": 512, "prediction_length": 96, "patch_length": 64, "patch_stride": 32}`},
		{"filter too long", `{"model_type": "tinytimemixer", "context_length": 512, "prediction_length": 96, "patch_length": 64, "prediction_filter_length": 100}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.json))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// r2Config is the config.json key set of the granite-timeseries-ttm-r2
// 512-96 release.
const r2Config = `{
	"adaptive_patching_levels": 3,
	"architectures": ["TinyTimeMixerForPrediction"],
	"categorical_vocab_size_list": null,
	"context_length": 512,
	"d_model": 192,
	"decoder_adaptive_patching_levels": 0,
	"decoder_d_model": 128,
	"decoder_mode": "common_channel",
	"decoder_num_layers": 2,
	"decoder_raw_residual": false,
	"distribution_output": "student_t",
	"dropout": 0.2,
	"enable_forecast_channel_mixing": false,
	"exogenous_channel_indices": null,
	"expansion_factor": 2,
	"fcm_context_length": 1,
	"fcm_gated_attn": true,
	"fcm_mix_layers": 2,
	"fcm_prepend_past": true,
	"fcm_use_mixer": false,
	"frequency_token_vocab_size": 5,
	"gated_attn": true,
	"head_dropout": 0.2,
	"init_embed": "pytorch",
	"init_linear": "pytorch",
	"init_processing": true,
	"init_std": 0.02,
	"loss": "mse",
	"mode": "common_channel",
	"model_type": "tinytimemixer",
	"norm_eps": 1e-05,
	"norm_mlp": "LayerNorm",
	"num_input_channels": 1,
	"num_layers": 2,
	"num_parallel_samples": 100,
	"num_patches": 8,
	"patch_last": true,
	"patch_length": 64,
	"patch_stride": 64,
	"positional_encoding_type": "sincos",
	"post_init": false,
	"prediction_channel_indices": null,
	"prediction_filter_length": null,
	"prediction_length": 96,
	"resolution_prefix_tuning": false,
	"scaling": "std",
	"self_attn": false,
	"self_attn_heads": 1,
	"stride_ratio": 1,
	"torch_dtype": "float32",
	"transformers_version": "4.37.2",
	"use_decoder": true,
	"use_positional_encoding": false
}`

func TestParseConfigR2(t *testing.T) {
	cfg, err := ParseConfig([]byte(r2Config))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigUnsupportedVariants(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"channel mixing", "mode", "mix_channel"},
		{"decoder channel mixing", "decoder_mode", "mix_channel"},
		{"batch norm", "norm_mlp", "BatchNorm"},
		{"self attention", "self_attn", true},
		{"positional encoding", "use_positional_encoding", true},
		{"resolution prefix", "resolution_prefix_tuning", true},
		{"no decoder", "use_decoder", false},
		{"raw residual", "decoder_raw_residual", true},
		{"forecast channel mixing", "enable_forecast_channel_mixing", true},
		{"exogenous channels", "exogenous_channel_indices", []int{1}},
		{"prediction channels", "prediction_channel_indices", []int{0}},
		{"categorical inputs", "categorical_vocab_size_list", []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields map[string]any
			require.NoError(t, json.Unmarshal([]byte(r2Config), &fields))
			fields[tt.key] = tt.value
			data, err := json.Marshal(fields)
			require.NoError(t, err)

			_, err = ParseConfig(data)
			assert.ErrorIs(t, err, ErrIncompatible)
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestAdaptivePatchingLayout(t *testing.T) {
	m, err := New(DefaultConfig(), tensor.NewRand(1))
	require.NoError(t, err)
	state := nn.StateDict(m)

	// Level 2 first: 8 patches of 192 become 32 sub-patches of 48.
	tests := []struct {
		name  string
		shape tensor.Shape
	}{
		{"encoder.mixers.0.mixer_layers.0.patch_mixer.mlp.fc1.weight", tensor.Shape{64, 32}},
		{"encoder.mixers.0.mixer_layers.1.feature_mixer.mlp.fc1.weight", tensor.Shape{96, 48}},
		{"encoder.mixers.0.mixer_layers.0.feature_mixer.norm.weight", tensor.Shape{48}},
		{"encoder.mixers.1.mixer_layers.0.patch_mixer.gate.attn_layer.weight", tensor.Shape{16, 16}},
		{"encoder.mixers.1.mixer_layers.1.feature_mixer.mlp.fc2.weight", tensor.Shape{96, 192}},
		{"encoder.mixers.2.mixer_layers.0.patch_mixer.mlp.fc1.weight", tensor.Shape{16, 8}},
		{"encoder.mixers.2.mixer_layers.1.feature_mixer.mlp.fc1.weight", tensor.Shape{384, 192}},
		{"decoder.mixers.1.patch_mixer.mlp.fc1.weight", tensor.Shape{16, 8}},
		{"head.projection.weight", tensor.Shape{96, 8 * 128}},
	}
	for _, tt := range tests {
		w, ok := state[tt.name]
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.shape, w.Shape(), tt.name)
	}
	assert.NotContains(t, state, "encoder.mixers.3.mixer_layers.0.patch_mixer.mlp.fc1.weight")
	assert.NotContains(t, state, "encoder.mixers.0.patch_mixer.mlp.fc1.weight")
	assert.NotContains(t, state, "decoder.mixers.0.mixer_layers.0.patch_mixer.mlp.fc1.weight")
}

func TestAdaptivePatchingForward(t *testing.T) {
	cfg := smallConfig()
	cfg.DModel = 16
	cfg.AdaptivePatchingLevels = 2
	cfg.DecoderDModel = 16
	cfg.DecoderAdaptiveLevels = 2
	m := newSmall(t, cfg)
	b := cpu.New()

	past := tensor.Randn(tensor.Shape{2, 16, 2}, tensor.NewRand(2))
	out := m.Forward(b, past)
	assert.Equal(t, tensor.Shape{2, 6, 2}, out.PredictionOutputs.Shape())
	assert.Equal(t, tensor.Shape{2, 2, 4, 16}, out.BackboneHidden.Shape())

	// Level 1 splits 4 patches of 16 into 8 sub-patches of 8.
	state := nn.StateDict(m)
	assert.Equal(t, tensor.Shape{16, 8}, state["encoder.mixers.0.mixer_layers.0.patch_mixer.mlp.fc1.weight"].Shape())
	assert.Equal(t, tensor.Shape{8}, state["decoder.mixers.0.mixer_layers.0.feature_mixer.norm.bias"].Shape())
	assert.Equal(t, tensor.Shape{8, 4}, state["encoder.mixers.1.mixer_layers.0.patch_mixer.mlp.fc1.weight"].Shape())

	dir := t.TempDir()
	require.NoError(t, m.Save(dir))
	loaded, err := Load(dir, LoadOptions{ContextLength: 16, PredictionLength: 6})
	require.NoError(t, err)
	assert.Equal(t, out.PredictionOutputs.Float32(), loaded.Forward(b, past).PredictionOutputs.Float32())
}

func TestPatchFactor(t *testing.T) {
	assert.Equal(t, 4, patchFactor(192, 2))
	assert.Equal(t, 1, patchFactor(192, 0))
	assert.Equal(t, 1, patchFactor(16, 2), "4 features per sub-patch disables the level")
	assert.Equal(t, 2, patchFactor(16, 1))

	cfg := DefaultConfig()
	cfg.DModel = 198
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "198 is not divisible by 4")
}

func TestScalingForms(t *testing.T) {
	const base = `"model_type": "tinytimemixer", "context_length": 8, "prediction_length": 2, "patch_length": 4`

	tests := []struct {
		value string
		want  Scaling
	}{
		{`"std"`, ScalingStd},
		{`true`, ScalingStd},
		{`false`, ScalingNone},
		{`null`, ScalingNone},
		{`"none"`, ScalingNone},
	}
	for _, tt := range tests {
		cfg, err := ParseConfig([]byte(`{` + base + `, "scaling": ` + tt.value + `}`))
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want, cfg.Scaling, tt.value)
	}
}

func TestForwardShapes(t *testing.T) {
	cfg := smallConfig()
	m := newSmall(t, cfg)
	b := cpu.New()

	past := tensor.Randn(tensor.Shape{3, 16, 2}, tensor.NewRand(1))
	out := m.Forward(b, past)

	assert.Equal(t, tensor.Shape{3, 6, 2}, out.PredictionOutputs.Shape())
	assert.Equal(t, tensor.Shape{3, 2, 4, 8}, out.BackboneHidden.Shape())
	assert.Equal(t, tensor.Shape{3, 1, 2}, out.Loc.Shape())
	assert.Equal(t, tensor.Shape{3, 1, 2}, out.Scale.Shape())

	cfg.Scaling = ScalingNone
	cfg.PredictionFilterLength = 4
	cfg.GatedAttn = false
	out = newSmall(t, cfg).Forward(b, past)
	assert.Equal(t, tensor.Shape{3, 4, 2}, out.PredictionOutputs.Shape())
	assert.Nil(t, out.Loc)
	assert.Nil(t, out.Scale)
}

func TestForwardRejectsWrongInput(t *testing.T) {
	m := newSmall(t, smallConfig())
	assert.Panics(t, func() {
		m.Forward(cpu.New(), tensor.Zeros(tensor.Shape{1, 15, 2}))
	})
	assert.Panics(t, func() {
		m.Forward(cpu.New(), tensor.Zeros(tensor.Shape{1, 16, 1}))
	})
}

func TestForwardIsAffineEquivariant(t *testing.T) {
	m := newSmall(t, smallConfig())
	b := cpu.New()

	past := tensor.Randn(tensor.Shape{1, 16, 2}, tensor.NewRand(3))
	shifted := b.Add(b.Mul(past, tensor.Scalar(2)), tensor.Scalar(3))

	base := m.Forward(b, past).PredictionOutputs.Float32()
	got := m.Forward(b, shifted).PredictionOutputs.Float32()
	for i := range base {
		assert.InDelta(t, 2*base[i]+3, got[i], 1e-2)
	}
}

func TestEvalModeIsDeterministic(t *testing.T) {
	m, err := New(smallConfig(), tensor.NewRand(7))
	require.NoError(t, err)
	b := cpu.New()
	past := tensor.Randn(tensor.Shape{1, 16, 2}, tensor.NewRand(4))

	assert.True(t, m.Training())
	first := m.Forward(b, past).PredictionOutputs.Float32()
	second := m.Forward(b, past).PredictionOutputs.Float32()
	assert.NotEqual(t, first, second, "dropout should be active in training mode")

	nn.Eval(m)
	assert.False(t, m.Training())
	first = m.Forward(b, past).PredictionOutputs.Float32()
	second = m.Forward(b, past).PredictionOutputs.Float32()
	assert.Equal(t, first, second)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	m := newSmall(t, smallConfig())
	require.NoError(t, m.Save(dir))

	loaded, err := Load(dir, LoadOptions{ContextLength: 16, PredictionLength: 6})
	require.NoError(t, err)
	assert.False(t, loaded.Training())
	assert.Equal(t, nn.CountParameters(m), nn.CountParameters(loaded))

	b := cpu.New()
	past := tensor.Randn(tensor.Shape{2, 16, 2}, tensor.NewRand(5))
	assert.Equal(t,
		m.Forward(b, past).PredictionOutputs.Float32(),
		loaded.Forward(b, past).PredictionOutputs.Float32())
}

func TestLoadNarrowsHorizon(t *testing.T) {
	dir := t.TempDir()
	m := newSmall(t, smallConfig())
	require.NoError(t, m.Save(dir))

	loaded, err := Load(dir, LoadOptions{ContextLength: 16, PredictionLength: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Config().Horizon())

	b := cpu.New()
	past := tensor.Randn(tensor.Shape{1, 16, 2}, tensor.NewRand(6))
	full := m.Forward(b, past).PredictionOutputs
	narrow := loaded.Forward(b, past).PredictionOutputs
	require.Equal(t, tensor.Shape{1, 3, 2}, narrow.Shape())
	assert.Equal(t, full.Float32()[:6], narrow.Float32())
}

func TestLoadIncompatible(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, newSmall(t, smallConfig()).Save(dir))

	_, err := Load(dir, LoadOptions{ContextLength: 32})
	assert.ErrorIs(t, err, ErrIncompatible)

	_, err = Load(dir, LoadOptions{ContextLength: 16, PredictionLength: 12})
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(t.TempDir(), LoadOptions{})
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, newSmall(t, smallConfig()).Save(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, loader.WeightsFile)))
	_, err = Load(dir, LoadOptions{})
	assert.ErrorIs(t, err, loader.ErrNoWeights)

	// Weights of a different shape
	other := smallConfig()
	other.DModel = 16
	wrong := newSmall(t, other)
	require.NoError(t, loader.SaveWeights(dir, loader.NewTTMMapper(), nn.StateDict(wrong)))
	_, err = Load(dir, LoadOptions{})
	assert.ErrorContains(t, err, "shape mismatch")
}
