// Package ttm implements the TinyTimeMixer forecasting model family.
//
// A TinyTimeMixer splits each channel's context window into patches, mixes
// information across patches and across features with small MLP blocks, and
// projects the flattened result onto the forecast horizon. Inputs are
// normalized per channel and forecasts are mapped back to the input scale.
package ttm

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
)

// minScale keeps the standard scaler away from division by zero on
// constant series.
const minScale = 1e-5

// Output is the structured result of a forward pass.
type Output struct {
	// PredictionOutputs is the forecast, [batch, horizon, channels], in the
	// scale of the input.
	PredictionOutputs *tensor.RawTensor

	// BackboneHidden is the encoder state, [batch, channels, patches, d_model].
	BackboneHidden *tensor.RawTensor

	// Loc and Scale are the per-channel statistics used to normalize the
	// input, [batch, 1, channels]. Both are nil when scaling is disabled.
	Loc   *tensor.RawTensor
	Scale *tensor.RawTensor
}

// Model is a TinyTimeMixer forecaster.
type Model struct {
	cfg Config

	patcher     *nn.Linear
	encoder     mixerStack
	adapter     *nn.Linear
	decoder     mixerStack
	headDropout *nn.Dropout
	head        *nn.Linear
}

// New builds a model with freshly initialized weights. Like any new module
// it starts in training mode.
func New(cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.NumPatches()
	return &Model{
		cfg:         cfg,
		patcher:     nn.NewLinear("encoder.patcher", cfg.PatchLength, cfg.DModel, rng),
		encoder:     newMixerStack("encoder.mixers", cfg.AdaptivePatchingLevels, cfg.NumLayers, cfg.DModel, n, cfg, rng),
		adapter:     nn.NewLinear("decoder.adapter", cfg.DModel, cfg.DecoderDModel, rng),
		decoder:     newMixerStack("decoder.mixers", cfg.DecoderAdaptiveLevels, cfg.DecoderNumLayers, cfg.DecoderDModel, n, cfg, rng),
		headDropout: nn.NewDropout(float32(cfg.HeadDropout), rng),
		head:        nn.NewLinear("head.projection", n*cfg.DecoderDModel, cfg.PredictionLength, rng),
	}, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Forward runs the model on past values of shape [batch, context, channels].
//
// Panics if the input does not match the configured context length and
// channel count.
func (m *Model) Forward(b tensor.Backend, past *tensor.RawTensor) Output {
	shape := past.Shape()
	if len(shape) != 3 || shape[1] != m.cfg.ContextLength || shape[2] != m.cfg.NumInputChannels {
		panic(fmt.Sprintf("ttm: expected input [batch, %d, %d], got %v",
			m.cfg.ContextLength, m.cfg.NumInputChannels, shape))
	}

	var out Output
	x := past
	if m.cfg.Scaling == ScalingStd {
		x, out.Loc, out.Scale = standardize(b, past)
	}

	// [B, L, C] -> [B, C, N, P]
	patches := b.Reshape(b.Transpose(x, 0, 2, 1), tensor.Shape{0, 0, m.cfg.NumPatches(), m.cfg.PatchLength})

	hidden := m.encoder.Forward(b, m.patcher.Forward(b, patches))
	out.BackboneHidden = hidden

	decoded := m.decoder.Forward(b, m.adapter.Forward(b, hidden))

	// [B, C, N, D] -> [B, C, N*D] -> [B, C, H]
	flat := m.headDropout.Forward(b, b.Reshape(decoded, tensor.Shape{0, 0, -1}))
	forecast := m.head.Forward(b, flat)
	if m.cfg.PredictionFilterLength > 0 {
		forecast = b.Narrow(forecast, 2, 0, m.cfg.PredictionFilterLength)
	}
	forecast = b.Transpose(forecast, 0, 2, 1)

	if out.Scale != nil {
		forecast = b.Add(b.Mul(forecast, out.Scale), out.Loc)
	}
	out.PredictionOutputs = forecast
	return out
}

// standardize normalizes each channel over time to zero mean and unit
// variance.
func standardize(b tensor.Backend, x *tensor.RawTensor) (normalized, loc, scale *tensor.RawTensor) {
	loc = b.MeanDim(x, 1, true)
	centered := b.Sub(x, loc)
	variance := b.MeanDim(b.Mul(centered, centered), 1, true)
	scale = b.Sqrt(b.Add(variance, tensor.Scalar(minScale)))
	return b.Div(centered, scale), loc, scale
}

// Parameters returns every weight of the model in a fixed order.
func (m *Model) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, m.patcher.Parameters()...)
	params = append(params, m.encoder.Parameters()...)
	params = append(params, m.adapter.Parameters()...)
	params = append(params, m.decoder.Parameters()...)
	params = append(params, m.head.Parameters()...)
	return params
}

// SetTraining switches every dropout layer.
func (m *Model) SetTraining(training bool) {
	m.encoder.SetTraining(training)
	m.decoder.SetTraining(training)
	m.headDropout.SetTraining(training)
}

// Training reports whether the model is in training mode.
func (m *Model) Training() bool {
	return m.headDropout.Training()
}
