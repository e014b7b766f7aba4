package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/tsexport/internal/tensor"
)

// reduceLayout splits a shape around axis into outer, axis and inner sizes.
func reduceLayout(shape tensor.Shape, axis int) (outer, size, inner int) {
	outer, inner = 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	return outer, shape[axis], inner
}

// MeanDim computes the mean along dim.
// Accumulates in float64 for stability.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(dim, len(shape))
	if err != nil {
		panic(fmt.Sprintf("meanDim: %v", err))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != axis:
			outShape = append(outShape, d)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}

	result := tensor.MustRaw(outShape)
	outer, size, inner := reduceLayout(shape, axis)
	src, dst := x.Float32(), result.Float32()

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var sum float64
			base := o*size*inner + in
			for s := 0; s < size; s++ {
				sum += float64(src[base+s*inner])
			}
			dst[o*inner+in] = float32(sum / float64(size))
		}
	}
	return result
}

// Softmax computes a numerically stable softmax along dim.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(dim, len(shape))
	if err != nil {
		panic(fmt.Sprintf("softmax: %v", err))
	}

	result := tensor.MustRaw(shape)
	outer, size, inner := reduceLayout(shape, axis)
	src, dst := x.Float32(), result.Float32()

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in

			maxVal := float32(math.Inf(-1))
			for s := 0; s < size; s++ {
				maxVal = max(maxVal, src[base+s*inner])
			}

			var sum float64
			for s := 0; s < size; s++ {
				e := math.Exp(float64(src[base+s*inner] - maxVal))
				dst[base+s*inner] = float32(e)
				sum += e
			}
			for s := 0; s < size; s++ {
				dst[base+s*inner] = float32(float64(dst[base+s*inner]) / sum)
			}
		}
	}
	return result
}
