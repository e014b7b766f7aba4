// Package cpu implements the pure-Go CPU backend.
//
// Every operation allocates its result and iterates in a fixed order, so the
// same inputs always produce bit-identical outputs. Export relies on this to
// compare eager and traced execution.
package cpu

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/parallel"
	"github.com/born-ml/tsexport/internal/tensor"
)

// matmulGrain is the minimum number of multiply-adds handed to one goroutine.
const matmulGrain = 1 << 16

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	par parallel.Config
}

// New creates a new CPU backend that spreads batched matmuls over all CPUs.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
// Results do not depend on cfg; only wall time does.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// Values returns a copy of the tensor data.
func (cpu *CPUBackend) Values(x *tensor.RawTensor) []float32 {
	out := make([]float32, x.NumElements())
	copy(out, x.Float32())
	return out
}

// binary applies op element-wise over the broadcast shape of a and b.
func binary(name string, a, b *tensor.RawTensor, op func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result := tensor.MustRaw(outShape)
	dst := result.Float32()
	ad, bd := a.Float32(), b.Float32()

	// Fast path: same shape, no index arithmetic
	if !needsBroadcast {
		for i := range dst {
			dst[i] = op(ad[i], bd[i])
		}
		return result
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	for i := range dst {
		dst[i] = op(ad[sourceIndex(i, outStrides, aStrides)], bd[sourceIndex(i, outStrides, bStrides)])
	}
	return result
}

// broadcastStrides returns the strides that read a tensor of shape in as if
// it had shape out. Missing leading axes and axes of size 1 get stride 0.
func broadcastStrides(in, out tensor.Shape) []int {
	strides := make([]int, len(out))
	inStrides := in.ComputeStrides()
	offset := len(out) - len(in)
	for i := range out {
		if j := i - offset; j >= 0 && in[j] != 1 {
			strides[i] = inStrides[j]
		}
	}
	return strides
}

// sourceIndex maps flat index i of a tensor with row-major strides
// outStrides to the flat index addressed by srcStrides.
func sourceIndex(i int, outStrides, srcStrides []int) int {
	src := 0
	for axis, stride := range outStrides {
		src += (i / stride) * srcStrides[axis]
		i %= stride
	}
	return src
}
