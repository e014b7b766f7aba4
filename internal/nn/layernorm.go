package nn

import (
	"github.com/born-ml/tsexport/internal/tensor"
)

// LayerNorm applies Layer Normalization over the last dimension.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
//
// gamma and beta are stored as "<name>.weight" and "<name>.bias" so that
// checkpoints exported from PyTorch load without renaming.
type LayerNorm struct {
	Gamma   *Parameter // learnable scale [d_model]
	Beta    *Parameter // learnable shift [d_model]
	Epsilon float32    // numerical stability constant
}

// NewLayerNorm creates a LayerNorm with gamma = 1 and beta = 0.
func NewLayerNorm(name string, normalizedShape int, epsilon float32) *LayerNorm {
	return &LayerNorm{
		Gamma:   NewParameter(Join(name, "weight"), tensor.Ones(tensor.Shape{normalizedShape})),
		Beta:    NewParameter(Join(name, "bias"), tensor.Zeros(tensor.Shape{normalizedShape})),
		Epsilon: epsilon,
	}
}

// Forward normalizes x over its last axis.
func (l *LayerNorm) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	mean := b.MeanDim(x, -1, true)
	xCentered := b.Sub(x, mean)

	variance := b.MeanDim(b.Mul(xCentered, xCentered), -1, true)
	std := b.Sqrt(b.Add(variance, tensor.Scalar(l.Epsilon)))
	xNorm := b.Div(xCentered, std)

	// gamma/beta [d_model] broadcast against [..., d_model]
	return b.Add(b.Mul(xNorm, l.Gamma.Tensor()), l.Beta.Tensor())
}

// Parameters returns [gamma, beta].
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Gamma, l.Beta}
}
