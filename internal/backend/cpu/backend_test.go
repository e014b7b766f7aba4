package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/tsexport/internal/parallel"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return x
}

func TestBinaryBroadcast(t *testing.T) {
	backend := New()
	a := mustSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	row := mustSlice(t, []float32{10, 20, 30}, tensor.Shape{3})
	col := mustSlice(t, []float32{100, 200}, tensor.Shape{2, 1})

	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, backend.Add(a, row).Float32())
	assert.Equal(t, []float32{99, 98, 97, 196, 195, 194}, backend.Sub(col, a).Float32())
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, backend.Mul(a, tensor.Scalar(2)).Float32())
	assert.Equal(t, []float32{0.5, 1, 1.5, 2, 2.5, 3}, backend.Div(a, tensor.Scalar(2)).Float32())
}

func TestBinaryLeavesOperandsUntouched(t *testing.T) {
	backend := New()
	a := mustSlice(t, []float32{1, 2}, tensor.Shape{2})
	b := mustSlice(t, []float32{3, 4}, tensor.Shape{2})

	out := backend.Add(a, b)
	assert.NotSame(t, a, out)
	assert.Equal(t, []float32{1, 2}, a.Float32())
}

func TestBinaryIncompatiblePanics(t *testing.T) {
	backend := New()
	assert.Panics(t, func() {
		backend.Add(tensor.Zeros(tensor.Shape{2, 3}), tensor.Zeros(tensor.Shape{2, 4}))
	})
}

func TestMatMul(t *testing.T) {
	backend := New()
	a := mustSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustSlice(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	out := backend.MatMul(a, b)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.Float32())
}

func TestMatMulBroadcastsWeight(t *testing.T) {
	backend := New()
	// Two batches of the same 2x3 matrix against one shared 3x2 weight
	a := mustSlice(t, []float32{1, 2, 3, 4, 5, 6, 1, 2, 3, 4, 5, 6}, tensor.Shape{2, 2, 3})
	w := mustSlice(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	out := backend.MatMul(a, w)
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154, 58, 64, 139, 154}, out.Float32())
}

func TestTranspose(t *testing.T) {
	backend := New()
	x := mustSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	out := backend.Transpose(x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Float32())

	y := mustSlice(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, tensor.Shape{2, 2, 2})
	out = backend.Transpose(y, 0, 2, 1)
	assert.Equal(t, []float32{0, 2, 1, 3, 4, 6, 5, 7}, out.Float32())

	assert.Panics(t, func() { backend.Transpose(y, 0, 0, 1) })
}

func TestReshapeCopiesAndInfers(t *testing.T) {
	backend := New()
	x := tensor.Zeros(tensor.Shape{4, 3, 16})

	out := backend.Reshape(x, tensor.Shape{0, 0, 2, 8})
	assert.Equal(t, tensor.Shape{4, 3, 2, 8}, out.Shape())

	out = backend.Reshape(out, tensor.Shape{0, -1})
	assert.Equal(t, tensor.Shape{4, 48}, out.Shape())
}

func TestNarrow(t *testing.T) {
	backend := New()
	x := mustSlice(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, tensor.Shape{2, 4})

	out := backend.Narrow(x, 1, 1, 2)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 5, 6}, out.Float32())

	assert.Panics(t, func() { backend.Narrow(x, 1, 3, 2) })
}

func TestMeanDim(t *testing.T) {
	backend := New()
	x := mustSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	out := backend.MeanDim(x, -1, true)
	assert.Equal(t, tensor.Shape{2, 1}, out.Shape())
	assert.Equal(t, []float32{2, 5}, out.Float32())

	out = backend.MeanDim(x, 0, false)
	assert.Equal(t, tensor.Shape{3}, out.Shape())
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, out.Float32())
}

func TestSoftmax(t *testing.T) {
	backend := New()
	x := mustSlice(t, []float32{1, 2, 3, 1000, 1000, 1000}, tensor.Shape{2, 3})

	out := backend.Softmax(x, -1).Float32()
	var sum float32
	for _, v := range out[:3] {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Greater(t, out[2], out[1])
	for _, v := range out[3:] {
		assert.InDelta(t, 1.0/3.0, v, 1e-6, "large inputs stay finite")
	}
}

func TestUnaryMath(t *testing.T) {
	backend := New()
	x := mustSlice(t, []float32{0, 1, 4}, tensor.Shape{3})

	assert.Equal(t, []float32{0, 1, 2}, backend.Sqrt(x).Float32())
	erf := backend.Erf(x).Float32()
	assert.InDelta(t, 0, erf[0], 1e-7)
	assert.InDelta(t, math.Erf(1), erf[1], 1e-6)
}

func TestDeterministic(t *testing.T) {
	backend := New()
	rng := tensor.NewRand(3)
	a := tensor.Randn(tensor.Shape{3, 17, 9}, rng)
	w := tensor.Randn(tensor.Shape{9, 5}, rng)

	first := backend.Softmax(backend.MatMul(a, w), -1)
	second := backend.Softmax(backend.MatMul(a, w), -1)
	assert.Equal(t, first.Float32(), second.Float32())
}

func TestMatMulParallelMatchesSequential(t *testing.T) {
	rng := tensor.NewRand(5)
	a := tensor.Randn(tensor.Shape{2, 7, 12, 16}, rng)
	w := tensor.Randn(tensor.Shape{7, 16, 3}, rng)

	seq := NewWithConfig(parallel.Sequential()).MatMul(a, w)
	par := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}).MatMul(a, w)

	require.Equal(t, tensor.Shape{2, 7, 12, 3}, par.Shape())
	assert.Equal(t, seq.Float32(), par.Float32())
}

func TestBroadcastIndexing(t *testing.T) {
	out := tensor.Shape{2, 3, 4}
	assert.Equal(t, []int{0, 1, 0}, broadcastStrides(tensor.Shape{3, 1}, out))
	assert.Equal(t, []int{12, 4, 1}, broadcastStrides(out, out))
	assert.Equal(t, []int{0, 0, 0}, broadcastStrides(tensor.Shape{}, out))

	outStrides := out.ComputeStrides()
	// Element [1, 2, 3] reads row 2 of a [3, 1] column.
	assert.Equal(t, 2, sourceIndex(23, outStrides, broadcastStrides(tensor.Shape{3, 1}, out)))
	assert.Equal(t, 23, sourceIndex(23, outStrides, outStrides))
}
