package nn

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Parameter is a named weight tensor owned by a module.
type Parameter struct {
	name   string
	tensor *tensor.RawTensor
}

// NewParameter creates a parameter with the given fully qualified name.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Load replaces the parameter value with a copy of t.
// The shape must match exactly.
func (p *Parameter) Load(t *tensor.RawTensor) error {
	if !t.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("%s: shape mismatch: expected %v, got %v", p.name, p.tensor.Shape(), t.Shape())
	}
	p.tensor = t.Clone()
	return nil
}
