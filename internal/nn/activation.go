package nn

import (
	"math"

	"github.com/born-ml/tsexport/internal/tensor"
)

// GELU is the Gaussian Error Linear Unit in its exact erf form:
//
//	GELU(x) = 0.5 * x * (1 + erf(x / sqrt(2)))
type GELU struct{}

// NewGELU creates a GELU activation module.
func NewGELU() *GELU {
	return &GELU{}
}

// Forward applies GELU element-wise.
func (g *GELU) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	erf := b.Erf(b.Div(x, tensor.Scalar(math.Sqrt2)))
	return b.Mul(b.Mul(x, tensor.Scalar(0.5)), b.Add(erf, tensor.Scalar(1)))
}

// Parameters returns nil (GELU has no parameters).
func (g *GELU) Parameters() []*Parameter {
	return nil
}
