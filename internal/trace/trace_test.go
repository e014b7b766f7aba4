package trace

import (
	"testing"

	"github.com/born-ml/tsexport/internal/backend/cpu"
	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mlpFunc(m *nn.MLP) Func {
	return func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		return m.Forward(b, x)
	}
}

func TestTraceMLP(t *testing.T) {
	rng := tensor.NewRand(1)
	m := nn.NewMLP("mlp", 4, 3, 2, 0.1, rng)
	nn.Eval(m)

	opts := DefaultOptions()
	opts.Params = m.Parameters()
	example := tensor.Randn(tensor.Shape{1, 4}, rng)

	g, err := Trace(cpu.New(), mlpFunc(m), example, opts)
	require.NoError(t, err)

	require.Len(t, g.Inputs, 1)
	assert.Equal(t, "input", g.Inputs[0].Name)
	assert.Equal(t, []graph.Dim{{Value: 1, Param: BatchParam}, {Value: 4}}, g.Inputs[0].Shape)
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "output", g.Outputs[0].Name)
	assert.Equal(t, []graph.Dim{{Value: 1, Param: BatchParam}, {Value: 3}}, g.Outputs[0].Shape)

	// Weight transposes are folded into named initializers
	assert.Contains(t, g.Initializers, "mlp.fc1.weight.transpose")
	assert.Contains(t, g.Initializers, "mlp.fc2.bias")
	assert.NotContains(t, g.Initializers, "mlp.fc1.weight")
	assert.Zero(t, g.OpHistogram()["Transpose"])
	assert.Equal(t, 2, g.OpHistogram()["MatMul"])

	exec, err := graph.NewExecutor(g, cpu.New())
	require.NoError(t, err)
	x := tensor.Randn(tensor.Shape{5, 4}, rng)
	got, err := exec.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, m.Forward(cpu.New(), x).Float32(), got.Float32())
}

func TestTraceStaticBatch(t *testing.T) {
	m := nn.NewMLP("mlp", 2, 2, 1, 0, tensor.NewRand(1))
	opts := DefaultOptions()
	opts.StaticBatch = true

	g, err := Trace(cpu.New(), mlpFunc(m), tensor.Ones(tensor.Shape{2, 2}), opts)
	require.NoError(t, err)
	assert.Empty(t, g.Inputs[0].Shape[0].Param)

	exec, err := graph.NewExecutor(g, cpu.New())
	require.NoError(t, err)
	_, err = exec.Forward(tensor.Ones(tensor.Shape{3, 2}))
	assert.Error(t, err)
}

func TestTraceUnboundConstants(t *testing.T) {
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		return b.Mul(b.Add(x, tensor.Scalar(1)), tensor.Scalar(3))
	}
	g, err := Trace(cpu.New(), fn, tensor.Ones(tensor.Shape{1, 2}), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"const_0", "const_1"}, g.InitializerNames())
	assert.Len(t, g.Nodes, 2)
}

func TestTraceDataDependent(t *testing.T) {
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		h := b.Mul(x, x)
		if b.Values(h)[0] > 0.5 {
			return b.Add(h, tensor.Scalar(1))
		}
		return h
	}
	_, err := Trace(cpu.New(), fn, tensor.Ones(tensor.Shape{1, 2}), DefaultOptions())
	assert.ErrorIs(t, err, ErrDataDependent)
}

func TestTraceParameterReadbackIsAllowed(t *testing.T) {
	w := nn.NewParameter("w", tensor.Full(tensor.Shape{2}, 2))
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		if b.Values(w.Tensor())[0] > 1 {
			return b.Mul(x, w.Tensor())
		}
		return b.Add(x, w.Tensor())
	}

	opts := DefaultOptions()
	opts.Params = []*nn.Parameter{w}
	g, err := Trace(cpu.New(), fn, tensor.Ones(tensor.Shape{1, 2}), opts)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Mul": 1}, g.OpHistogram())
}

func TestTraceNotTraced(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
	}{
		{"constant", func(b tensor.Backend, _ *tensor.RawTensor) *tensor.RawTensor {
			return b.Add(tensor.Scalar(1), tensor.Scalar(2))
		}},
		{"untracked", func(_ tensor.Backend, _ *tensor.RawTensor) *tensor.RawTensor {
			return tensor.Zeros(tensor.Shape{1, 2})
		}},
		{"identity", func(_ tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
			return x
		}},
		{"nil", func(_ tensor.Backend, _ *tensor.RawTensor) *tensor.RawTensor {
			return nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Trace(cpu.New(), tt.fn, tensor.Ones(tensor.Shape{1, 2}), DefaultOptions())
			assert.ErrorIs(t, err, ErrNotTraced)
		})
	}
}

func TestTraceTrainingDropoutFailsCheck(t *testing.T) {
	drop := nn.NewDropout(0.5, tensor.NewRand(3))
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		return drop.Forward(b, b.Mul(x, tensor.Scalar(2)))
	}
	example := tensor.Randn(tensor.Shape{1, 64}, tensor.NewRand(4))

	_, err := Trace(cpu.New(), fn, example, DefaultOptions())
	assert.ErrorIs(t, err, ErrCheckFailed)

	drop.SetTraining(false)
	_, err = Trace(cpu.New(), fn, example, DefaultOptions())
	assert.NoError(t, err)
}

func TestTraceHiddenBranchFailsCheck(t *testing.T) {
	// The branch reads Go-side state the tape cannot see.
	calls := 0
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		calls++
		if calls > 1 {
			return b.Add(x, x)
		}
		return b.Mul(x, x)
	}
	_, err := Trace(cpu.New(), fn, tensor.Full(tensor.Shape{1, 2}, 3), DefaultOptions())
	assert.ErrorIs(t, err, ErrCheckFailed)
}

func TestTracePanicsBecomeErrors(t *testing.T) {
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		return b.MatMul(x, tensor.Zeros(tensor.Shape{5, 5}))
	}
	_, err := Trace(cpu.New(), fn, tensor.Ones(tensor.Shape{1, 2}), DefaultOptions())
	assert.ErrorIs(t, err, ErrTraceFailed)

	_, err = Trace(cpu.New(), fn, tensor.Scalar(1), DefaultOptions())
	assert.ErrorIs(t, err, ErrTraceFailed)
}

func TestTracingBackendRecordsOnlyWhileRecording(t *testing.T) {
	tape := NewTape("g")
	b := New(cpu.New(), tape)
	assert.Equal(t, "Trace(CPU)", b.Name())

	x := tensor.Ones(tensor.Shape{2})
	tape.Input("x", x)
	b.Add(x, x)
	assert.Empty(t, tape.Graph().Nodes)

	tape.StartRecording()
	y := b.Transpose(tensor.Ones(tensor.Shape{2, 3}))
	tape.StopRecording()

	require.Len(t, tape.Graph().Nodes, 1)
	assert.Equal(t, []int64{1, 0}, tape.Graph().Nodes[0].AttrInts("perm"))
	_, ok := tape.Name(y)
	assert.True(t, ok)
	assert.False(t, tape.Derived(y))
}
