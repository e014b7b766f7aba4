package nn

import (
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/tensor"
)

// MLP is the two-layer perceptron used by mixer blocks:
//
//	fc1 (in → in*expansion) → GELU → dropout → fc2 (→ out) → dropout
type MLP struct {
	fc1      *Linear
	act      *GELU
	dropout1 *Dropout
	fc2      *Linear
	dropout2 *Dropout
}

// NewMLP creates an MLP whose parameters live under name.
func NewMLP(name string, inFeatures, outFeatures, expansion int, dropout float32, rng *rand.Rand) *MLP {
	hidden := inFeatures * expansion
	return &MLP{
		fc1:      NewLinear(Join(name, "fc1"), inFeatures, hidden, rng),
		act:      NewGELU(),
		dropout1: NewDropout(dropout, rng),
		fc2:      NewLinear(Join(name, "fc2"), hidden, outFeatures, rng),
		dropout2: NewDropout(dropout, rng),
	}
}

// Forward applies the perceptron over the last axis.
func (m *MLP) Forward(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	h := m.dropout1.Forward(b, m.act.Forward(b, m.fc1.Forward(b, x)))
	return m.dropout2.Forward(b, m.fc2.Forward(b, h))
}

// Parameters returns fc1 and fc2 parameters.
func (m *MLP) Parameters() []*Parameter {
	return append(m.fc1.Parameters(), m.fc2.Parameters()...)
}

// SetTraining propagates the mode to both dropout layers.
func (m *MLP) SetTraining(training bool) {
	m.dropout1.SetTraining(training)
	m.dropout2.SetTraining(training)
}
