package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Dropout zeroes elements with probability p during training and scales the
// survivors by 1/(1-p). In evaluation mode it is the identity.
type Dropout struct {
	p        float32
	training bool
	rng      *rand.Rand
}

// NewDropout creates a Dropout layer in training mode.
func NewDropout(p float32, rng *rand.Rand) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("Dropout: probability must be in [0, 1), got %v", p))
	}
	return &Dropout{p: p, training: true, rng: rng}
}

// Forward applies dropout according to the current mode.
func (d *Dropout) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	if !d.training || d.p == 0 {
		return x
	}

	mask := tensor.Uniform(x.Shape(), 0, 1, d.rng)
	keep := 1 / (1 - d.p)
	data := mask.Float32()
	for i, u := range data {
		if u < d.p {
			data[i] = 0
		} else {
			data[i] = keep
		}
	}
	return b.Mul(x, mask)
}

// SetTraining switches between training and evaluation behaviour.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Training reports whether dropout is active.
func (d *Dropout) Training() bool {
	return d.training
}

// Parameters returns nil (Dropout has no parameters).
func (d *Dropout) Parameters() []*Parameter {
	return nil
}
