package cpu

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Transpose permutes the axes of x. Without perm the axes are reversed.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, perm ...int) *tensor.RawTensor {
	shape := x.Shape()
	rank := len(shape)

	if len(perm) == 0 {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		panic(fmt.Sprintf("transpose: perm %v does not match rank %d", perm, rank))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			panic(fmt.Sprintf("transpose: invalid perm %v for rank %d", perm, rank))
		}
		seen[p] = true
		outShape[i] = shape[p]
	}

	result := tensor.MustRaw(outShape)
	src, dst := x.Float32(), result.Float32()
	inStrides := x.Strides()
	outStrides := outShape.ComputeStrides()

	// Stride of each output axis within the source buffer
	srcStrides := make([]int, rank)
	for i, p := range perm {
		srcStrides[i] = inStrides[p]
	}

	for i := range dst {
		dst[i] = src[sourceIndex(i, outStrides, srcStrides)]
	}
	return result
}

// Reshape returns x under a new shape.
// spec may use 0 (copy input dimension) and -1 (infer).
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, spec tensor.Shape) *tensor.RawTensor {
	outShape, err := tensor.ResolveReshape(x.Shape(), spec)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	result, err := x.View(outShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return result
}

// Narrow returns the slice [start, start+length) of x along dim.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(dim, len(shape))
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}
	if start < 0 || length <= 0 || start+length > shape[axis] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dimension %d (size %d)", start, start+length, axis, shape[axis]))
	}

	outShape := shape.Clone()
	outShape[axis] = length
	result := tensor.MustRaw(outShape)

	// outer x [axis] x inner blocks
	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[axis+1:] {
		inner *= d
	}

	src, dst := x.Float32(), result.Float32()
	for o := 0; o < outer; o++ {
		from := (o*shape[axis] + start) * inner
		copy(dst[o*length*inner:(o+1)*length*inner], src[from:from+length*inner])
	}
	return result
}
