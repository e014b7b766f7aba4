package nn

import (
	"math"
	"testing"

	"github.com/born-ml/tsexport/internal/backend/cpu"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

func TestLinearForward(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear("proj", 3, 2, tensor.NewRand(1))

	w, err := tensor.FromSlice([]float32{1, 0, -1, 2, 1, 0}, tensor.Shape{2, 3})
	require.NoError(t, err)
	bias, err := tensor.FromSlice([]float32{0.5, -0.5}, tensor.Shape{2})
	require.NoError(t, err)
	require.NoError(t, LoadStateDict(layer, map[string]*tensor.RawTensor{
		"proj.weight": w,
		"proj.bias":   bias,
	}))

	// Rank-3 input: linear acts on the last axis only
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3})
	require.NoError(t, err)

	out := layer.Forward(backend, x)
	assert.Equal(t, tensor.Shape{1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{-1.5, 3.5, -1.5, 12.5}, out.Float32())
}

func TestLinearRejectsWrongFeatures(t *testing.T) {
	layer := NewLinear("proj", 3, 2, tensor.NewRand(1))
	assert.Panics(t, func() {
		layer.Forward(cpu.New(), tensor.Zeros(tensor.Shape{2, 4}))
	})
}

func TestLayerNormNormalizes(t *testing.T) {
	backend := cpu.New()
	ln := NewLayerNorm("norm", 4, 1e-5)
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, -3, 0, 3, 6}, tensor.Shape{2, 4})
	require.NoError(t, err)

	out := ln.Forward(backend, x).Float32()
	for row := 0; row < 2; row++ {
		var mean, sq float64
		for _, v := range out[row*4 : row*4+4] {
			mean += float64(v)
		}
		mean /= 4
		for _, v := range out[row*4 : row*4+4] {
			sq += (float64(v) - mean) * (float64(v) - mean)
		}
		assert.InDelta(t, 0, mean, 1e-5)
		assert.InDelta(t, 1, sq/4, 1e-3)
	}
}

func TestGELU(t *testing.T) {
	backend := cpu.New()
	x, err := tensor.FromSlice([]float32{-2, -0.5, 0, 0.5, 2}, tensor.Shape{5})
	require.NoError(t, err)

	out := NewGELU().Forward(backend, x).Float32()
	for i, v := range []float64{-2, -0.5, 0, 0.5, 2} {
		assert.InDelta(t, gelu(v), out[i], 1e-6)
	}
}

func TestDropoutModes(t *testing.T) {
	backend := cpu.New()
	d := NewDropout(0.5, tensor.NewRand(4))
	x := tensor.Ones(tensor.Shape{1000})

	out := d.Forward(backend, x).Float32()
	zeros := 0
	for _, v := range out {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, float32(2), v)
		}
	}
	assert.InDelta(t, 500, zeros, 100)

	Eval(d)
	assert.False(t, d.Training())
	assert.Same(t, x, d.Forward(backend, x))
}

func TestMLPEvalPropagates(t *testing.T) {
	backend := cpu.New()
	mlp := NewMLP("mlp", 8, 4, 2, 0.3, tensor.NewRand(5))
	x := tensor.Randn(tensor.Shape{2, 3, 8}, tensor.NewRand(6))

	Eval(mlp)
	first := mlp.Forward(backend, x)
	second := mlp.Forward(backend, x)

	assert.Equal(t, tensor.Shape{2, 3, 4}, first.Shape())
	assert.Equal(t, first.Float32(), second.Float32())
	assert.Len(t, mlp.Parameters(), 4)
}

func TestGatedAttentionShape(t *testing.T) {
	backend := cpu.New()
	gate := NewGatedAttention("gate", 6, tensor.NewRand(7))
	x := tensor.Randn(tensor.Shape{2, 5, 6}, tensor.NewRand(8))

	out := gate.Forward(backend, x)
	assert.Equal(t, x.Shape(), out.Shape())
	assert.Equal(t, "gate.attn_layer.weight", gate.Parameters()[0].Name())
}

func TestLoadStateDictStrict(t *testing.T) {
	layer := NewLinear("proj", 2, 2, tensor.NewRand(1))

	err := LoadStateDict(layer, map[string]*tensor.RawTensor{
		"proj.weight": tensor.Zeros(tensor.Shape{2, 2}),
		"proj.extra":  tensor.Zeros(tensor.Shape{1}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing [proj.bias]")
	assert.Contains(t, err.Error(), "unexpected [proj.extra]")

	err = LoadStateDict(layer, map[string]*tensor.RawTensor{
		"proj.weight": tensor.Zeros(tensor.Shape{3, 2}),
		"proj.bias":   tensor.Zeros(tensor.Shape{2}),
	})
	assert.ErrorContains(t, err, "shape mismatch")
}

func TestStateDictAndCount(t *testing.T) {
	mlp := NewMLP("mixer", 4, 4, 2, 0, tensor.NewRand(2))
	state := StateDict(mlp)

	assert.Contains(t, state, "mixer.fc1.weight")
	assert.Contains(t, state, "mixer.fc2.bias")
	assert.Equal(t, 4*8+8+8*4+4, CountParameters(mlp))
}
