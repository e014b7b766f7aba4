package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Shapes are compared right to left; two dimensions are compatible when they
// are equal or one of them is 1. Missing leading dimensions count as 1.
//
// Returns the broadcasted shape, a flag indicating if broadcasting is needed,
// and an error if the shapes are incompatible.
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, Error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	needsBroadcast := len(a) != len(b)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
			needsBroadcast = true
		case bDim == 1:
			result[maxLen-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}

// ResolveReshape turns a reshape request into a concrete shape.
//
// The request follows ONNX Reshape semantics so that a traced graph stays
// valid for other batch sizes: 0 copies the dimension at the same index of
// the input, and a single -1 is inferred from the remaining elements.
//
//	ResolveReshape({4, 3, 512}, {0, 0, 8, 64}) → {4, 3, 8, 64}
//	ResolveReshape({4, 3, 8, 16}, {0, 0, -1}) → {4, 3, 128}
func ResolveReshape(in, spec Shape) (Shape, error) {
	out := make(Shape, len(spec))
	inferAt := -1
	known := 1

	for i, dim := range spec {
		switch {
		case dim == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("reshape %v: dimension %d copies a missing input dimension (input %v)", spec, i, in)
			}
			out[i] = in[i]
		case dim == -1:
			if inferAt >= 0 {
				return nil, fmt.Errorf("reshape %v: more than one inferred dimension", spec)
			}
			inferAt = i
			continue
		case dim < 0:
			return nil, fmt.Errorf("reshape %v: invalid dimension %d", spec, dim)
		default:
			out[i] = dim
		}
		known *= out[i]
	}

	total := in.NumElements()
	if inferAt >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("reshape %v: cannot infer dimension for %d elements", spec, total)
		}
		out[inferAt] = total / known
	}

	if out.NumElements() != total {
		return nil, fmt.Errorf("reshape %v: %d elements do not fit input %v (%d elements)", spec, out.NumElements(), in, total)
	}
	return out, nil
}

// NormalizeAxis maps a possibly negative axis onto [0, rank).
func NormalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}
