// Package nn provides the neural-network layers used by the forecasting
// models.
//
// Layers take the backend as an argument to Forward instead of storing it,
// so one model instance can run eagerly on the CPU backend or under the
// tracing backend without being rebuilt.
package nn

import (
	"github.com/born-ml/tsexport/internal/tensor"
)

// Parameterized is anything that owns named parameters.
type Parameterized interface {
	// Parameters returns all parameters, including those of nested
	// modules. Names are fully qualified ("mixers.0.fc1.weight").
	Parameters() []*Parameter
}

// Module is the base interface for all neural network components.
type Module interface {
	Parameterized

	// Forward computes the output of the module given an input tensor.
	Forward(b tensor.Backend, input *tensor.RawTensor) *tensor.RawTensor
}

// Trainable is implemented by modules whose behaviour differs between
// training and evaluation (dropout).
type Trainable interface {
	SetTraining(training bool)
}

// Eval switches m and everything below it to evaluation mode.
func Eval(m any) {
	if t, ok := m.(Trainable); ok {
		t.SetTraining(false)
	}
}

// Train switches m and everything below it to training mode.
func Train(m any) {
	if t, ok := m.(Trainable); ok {
		t.SetTraining(true)
	}
}

// Join builds a dotted parameter name.
func Join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
