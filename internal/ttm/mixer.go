package ttm

import (
	"math/rand/v2"
	"strconv"

	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
)

// mixerBlock is one residual MLP block. With transpose set it mixes across
// patches instead of features.
//
//	x -> LayerNorm -> [swap patch/feature axes] -> MLP -> gate -> [swap back] -> + x
type mixerBlock struct {
	norm      *nn.LayerNorm
	mlp       *nn.MLP
	gate      *nn.GatedAttention // nil unless gated_attn
	transpose bool
}

func newMixerBlock(name string, width, numPatches int, transpose bool, cfg Config, rng *rand.Rand) *mixerBlock {
	features := width
	if transpose {
		features = numPatches
	}

	blk := &mixerBlock{
		norm:      nn.NewLayerNorm(nn.Join(name, "norm"), width, float32(cfg.NormEps)),
		mlp:       nn.NewMLP(nn.Join(name, "mlp"), features, features, cfg.ExpansionFactor, float32(cfg.Dropout), rng),
		transpose: transpose,
	}
	if cfg.GatedAttn {
		blk.gate = nn.NewGatedAttention(nn.Join(name, "gate"), features, rng)
	}
	return blk
}

// Forward maps [B, C, N, D] to [B, C, N, D].
func (m *mixerBlock) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	h := m.norm.Forward(b, x)
	if m.transpose {
		h = b.Transpose(h, 0, 1, 3, 2)
	}
	h = m.mlp.Forward(b, h)
	if m.gate != nil {
		h = m.gate.Forward(b, h)
	}
	if m.transpose {
		h = b.Transpose(h, 0, 1, 3, 2)
	}
	return b.Add(h, x)
}

func (m *mixerBlock) Parameters() []*nn.Parameter {
	params := append(m.norm.Parameters(), m.mlp.Parameters()...)
	if m.gate != nil {
		params = append(params, m.gate.Parameters()...)
	}
	return params
}

func (m *mixerBlock) SetTraining(training bool) {
	m.mlp.SetTraining(training)
}

// mixerLayer mixes across patches, then across features.
type mixerLayer struct {
	patchMixer   *mixerBlock
	featureMixer *mixerBlock
}

func newMixerLayer(name string, width, numPatches int, cfg Config, rng *rand.Rand) *mixerLayer {
	return &mixerLayer{
		patchMixer:   newMixerBlock(nn.Join(name, "patch_mixer"), width, numPatches, true, cfg, rng),
		featureMixer: newMixerBlock(nn.Join(name, "feature_mixer"), width, numPatches, false, cfg, rng),
	}
}

func (l *mixerLayer) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return l.featureMixer.Forward(b, l.patchMixer.Forward(b, x))
}

func (l *mixerLayer) Parameters() []*nn.Parameter {
	return append(l.patchMixer.Parameters(), l.featureMixer.Parameters()...)
}

func (l *mixerLayer) SetTraining(training bool) {
	l.patchMixer.SetTraining(training)
	l.featureMixer.SetTraining(training)
}

// mixer is one entry of a mixer stack: a plain mixerLayer or an
// adaptivePatching block.
type mixer interface {
	nn.Module
	nn.Trainable
}

// adaptivePatching runs its layers on a finer patch grid: each of the N
// patches of width D is split into factor sub-patches of width D/factor.
//
//	[B, C, N, D] -> [B, C, N*factor, D/factor] -> layers -> [B, C, N, D]
type adaptivePatching struct {
	factor     int
	numPatches int
	width      int
	layers     mixerStack
}

func newAdaptivePatching(name string, level, depth, width, numPatches int, cfg Config, rng *rand.Rand) *adaptivePatching {
	f := patchFactor(width, level)
	return &adaptivePatching{
		factor:     f,
		numPatches: numPatches,
		width:      width,
		layers:     newLayerStack(nn.Join(name, "mixer_layers"), depth, width/f, numPatches*f, cfg, rng),
	}
}

func (a *adaptivePatching) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	if a.factor == 1 {
		return a.layers.Forward(b, x)
	}
	h := b.Reshape(x, tensor.Shape{0, 0, a.numPatches * a.factor, a.width / a.factor})
	h = a.layers.Forward(b, h)
	return b.Reshape(h, tensor.Shape{0, 0, a.numPatches, a.width})
}

func (a *adaptivePatching) Parameters() []*nn.Parameter {
	return a.layers.Parameters()
}

func (a *adaptivePatching) SetTraining(training bool) {
	a.layers.SetTraining(training)
}

// mixerStack applies mixers in order.
type mixerStack []mixer

// newMixerStack builds the mixers of an encoder or decoder. Without
// adaptive patching it holds depth plain layers. With it, it holds one
// adaptivePatching block per level, coarsest split first, each with depth
// layers.
func newMixerStack(name string, levels, depth, width, numPatches int, cfg Config, rng *rand.Rand) mixerStack {
	if levels == 0 {
		return newLayerStack(name, depth, width, numPatches, cfg, rng)
	}
	stack := make(mixerStack, levels)
	for i := range stack {
		stack[i] = newAdaptivePatching(nn.Join(name, strconv.Itoa(i)), levels-1-i, depth, width, numPatches, cfg, rng)
	}
	return stack
}

func newLayerStack(name string, depth, width, numPatches int, cfg Config, rng *rand.Rand) mixerStack {
	stack := make(mixerStack, depth)
	for i := range stack {
		stack[i] = newMixerLayer(nn.Join(name, strconv.Itoa(i)), width, numPatches, cfg, rng)
	}
	return stack
}

func (s mixerStack) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	for _, m := range s {
		x = m.Forward(b, x)
	}
	return x
}

func (s mixerStack) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, m := range s {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s mixerStack) SetTraining(training bool) {
	for _, m := range s {
		m.SetTraining(training)
	}
}
