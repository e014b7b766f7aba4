package cpu

import (
	"math"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Sqrt computes element-wise square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Erf computes the element-wise Gauss error function.
func (cpu *CPUBackend) Erf(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Erf(float64(v))) })
}

func unary(x *tensor.RawTensor, op func(float32) float32) *tensor.RawTensor {
	result := tensor.MustRaw(x.Shape())
	src, dst := x.Float32(), result.Float32()
	for i, v := range src {
		dst[i] = op(v)
	}
	return result
}
