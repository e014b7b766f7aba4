package nn

import (
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/tensor"
)

// GatedAttention re-weights features with a learned softmax gate:
//
//	y = x * softmax(Linear(x), -1)
type GatedAttention struct {
	attn *Linear
}

// NewGatedAttention creates a gate over features-wide inputs.
func NewGatedAttention(name string, features int, rng *rand.Rand) *GatedAttention {
	return &GatedAttention{
		attn: NewLinear(Join(name, "attn_layer"), features, features, rng),
	}
}

// Forward applies the gate over the last axis.
func (g *GatedAttention) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	weights := b.Softmax(g.attn.Forward(b, x), -1)
	return b.Mul(x, weights)
}

// Parameters returns the gate projection parameters.
func (g *GatedAttention) Parameters() []*Parameter {
	return g.attn.Parameters()
}
