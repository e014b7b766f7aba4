package trace

import (
	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/tensor"
)

// TracingBackend wraps a Backend and records every operation on a Tape
// while computing it with the wrapped backend.
//
// Type parameter B must satisfy the tensor.Backend interface.
type TracingBackend[B tensor.Backend] struct {
	inner B
	tape  *Tape
}

// New creates a TracingBackend recording onto tape.
func New[B tensor.Backend](backend B, tape *Tape) *TracingBackend[B] {
	return &TracingBackend[B]{
		inner: backend,
		tape:  tape,
	}
}

// Tape returns the tape for manual control.
func (b *TracingBackend[B]) Tape() *Tape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *TracingBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *TracingBackend[B]) Name() string {
	return "Trace(" + b.inner.Name() + ")"
}

// Add performs element-wise addition and records the operation.
func (b *TracingBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	b.tape.Record("Add", []*tensor.RawTensor{a, c}, result)
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *TracingBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(a, c)
	b.tape.Record("Sub", []*tensor.RawTensor{a, c}, result)
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *TracingBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(a, c)
	b.tape.Record("Mul", []*tensor.RawTensor{a, c}, result)
	return result
}

// Div performs element-wise division and records the operation.
func (b *TracingBackend[B]) Div(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(a, c)
	b.tape.Record("Div", []*tensor.RawTensor{a, c}, result)
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *TracingBackend[B]) MatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(a, c)
	b.tape.Record("MatMul", []*tensor.RawTensor{a, c}, result)
	return result
}

// Transpose permutes axes and records the operation with an explicit perm.
func (b *TracingBackend[B]) Transpose(x *tensor.RawTensor, perm ...int) *tensor.RawTensor {
	result := b.inner.Transpose(x, perm...)
	if len(perm) == 0 {
		perm = make([]int, x.Rank())
		for i := range perm {
			perm[i] = x.Rank() - 1 - i
		}
	}
	b.tape.Record("Transpose", []*tensor.RawTensor{x}, result, ints("perm", perm...))
	return result
}

// Reshape records the requested shape as given, so 0 and -1 entries keep
// the graph valid for other batch sizes.
func (b *TracingBackend[B]) Reshape(x *tensor.RawTensor, spec tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(x, spec)
	b.tape.Record("Reshape", []*tensor.RawTensor{x}, result, ints("shape", spec...))
	return result
}

// Narrow records a unit-step Slice along dim.
func (b *TracingBackend[B]) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	result := b.inner.Narrow(x, dim, start, length)
	b.tape.Record("Slice", []*tensor.RawTensor{x}, result,
		ints("starts", start),
		ints("ends", start+length),
		ints("axes", dim),
	)
	return result
}

// MeanDim records a single-axis ReduceMean.
func (b *TracingBackend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.MeanDim(x, dim, keepDim)
	keep := int64(0)
	if keepDim {
		keep = 1
	}
	b.tape.Record("ReduceMean", []*tensor.RawTensor{x}, result,
		ints("axes", dim),
		graph.Attribute{Name: "keepdims", Type: graph.AttrInt, I: keep},
	)
	return result
}

// Sqrt computes square root and records the operation.
func (b *TracingBackend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sqrt(x)
	b.tape.Record("Sqrt", []*tensor.RawTensor{x}, result)
	return result
}

// Erf computes the error function and records the operation.
func (b *TracingBackend[B]) Erf(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Erf(x)
	b.tape.Record("Erf", []*tensor.RawTensor{x}, result)
	return result
}

// Softmax computes softmax along dim and records the operation.
func (b *TracingBackend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Softmax(x, dim)
	b.tape.Record("Softmax", []*tensor.RawTensor{x}, result,
		graph.Attribute{Name: "axis", Type: graph.AttrInt, I: int64(dim)})
	return result
}

// Values reads x back to the host. The read is flagged when x depends on
// the traced input.
func (b *TracingBackend[B]) Values(x *tensor.RawTensor) []float32 {
	b.tape.Readback(x)
	return b.inner.Values(x)
}

func ints(name string, values ...int) graph.Attribute {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return graph.Attribute{Name: name, Type: graph.AttrInts, Ints: out}
}
