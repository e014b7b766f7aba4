package tensor

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	return MustRaw(shape)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t := MustRaw(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *RawTensor {
	return Full(shape, 1)
}

// Scalar creates a 0-D tensor holding value.
// Scalars broadcast against any shape.
func Scalar(value float32) *RawTensor {
	return Full(Shape{}, value)
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	t, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	copy(t.data, data)
	return t, nil
}

// Randn creates a tensor filled with samples from N(0, 1).
//
// The caller owns the random source, so the same seed always yields the
// same tensor.
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	t := MustRaw(shape)
	data := t.data

	// Box-Muller transform
	for i := 0; i < len(data); i += 2 {
		u1 := 1 - rng.Float64() // (0, 1], keeps Log finite
		u2 := rng.Float64()
		r := math.Sqrt(-2.0 * math.Log(u1))
		data[i] = float32(r * math.Cos(2.0*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(r * math.Sin(2.0*math.Pi*u2))
		}
	}
	return t
}

// Uniform creates a tensor filled with samples from U(low, high).
func Uniform(shape Shape, low, high float32, rng *rand.Rand) *RawTensor {
	t := MustRaw(shape)
	span := high - low
	for i := range t.data {
		t.data[i] = low + span*rng.Float32()
	}
	return t
}

// NewRand returns a deterministic random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
