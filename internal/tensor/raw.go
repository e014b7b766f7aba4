package tensor

import (
	"fmt"
	"math"
)

// RawTensor is the low-level tensor representation: a shape over a
// contiguous row-major float32 buffer.
//
// Tensors produced by a backend are never written to afterwards, which is
// what lets the tracer identify values by pointer.
type RawTensor struct {
	shape  Shape
	stride []int
	data   []float32
}

// NewRaw creates a zero-filled RawTensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   make([]float32, shape.NumElements()),
	}, nil
}

// MustRaw is NewRaw for shapes already known to be valid.
func MustRaw(shape Shape) *RawTensor {
	raw, err := NewRaw(shape)
	if err != nil {
		panic(err)
	}
	return raw
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// Rank returns the number of dimensions.
func (r *RawTensor) Rank() int {
	return len(r.shape)
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * 4
}

// Float32 returns the tensor data.
// WARNING: Direct access to underlying memory. Backends rely on results
// staying unmodified once returned.
func (r *RawTensor) Float32() []float32 {
	return r.data
}

// Bytes returns the data as little-endian IEEE-754 bytes.
func (r *RawTensor) Bytes() []byte {
	out := make([]byte, 4*len(r.data))
	for i, v := range r.data {
		bits := math.Float32bits(v)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (r *RawTensor) At(indices ...int) float32 {
	if len(indices) != len(r.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(r.shape), len(indices)))
	}

	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= r.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, r.shape[i]))
		}
		offset += idx * r.stride[i]
	}
	return r.data[offset]
}

// Clone creates a deep copy of the RawTensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		data:   data,
	}
}

// View returns a tensor sharing this tensor's data under another shape with
// the same number of elements.
func (r *RawTensor) View(shape Shape) (*RawTensor, error) {
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("view %v: %d elements, tensor %v has %d", shape, shape.NumElements(), r.shape, r.NumElements())
	}
	return &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   r.data,
	}, nil
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("Tensor[float32]%v", r.shape)
}
