package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x has shape [..., in_features]
//   - W has shape [out_features, in_features]
//   - b has shape [out_features]
//   - y has shape [..., out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
}

// NewLinear creates a new Linear layer whose parameters are named
// "<name>.weight" and "<name>.bias".
func NewLinear(name string, inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng)
	bias := tensor.Zeros(tensor.Shape{outFeatures})

	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(Join(name, "weight"), weight),
		bias:        NewParameter(Join(name, "bias"), bias),
	}
}

// Forward computes x @ W.T + b over the last axis of input.
func (l *Linear) Forward(b tensor.Backend, input *tensor.RawTensor) *tensor.RawTensor {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("Linear.Forward: expected input of rank >= 2, got shape %v", shape))
	}
	if shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, shape[len(shape)-1]))
	}

	// [..., in] @ [in, out] = [..., out]
	wT := b.Transpose(l.weight.Tensor(), 1, 0)
	output := b.MatMul(input, wT)

	// Bias [out] broadcasts over every leading axis
	return b.Add(output, l.bias.Tensor())
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
