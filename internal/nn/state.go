package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/tsexport/internal/tensor"
)

// StateDict returns a map of parameter names to tensors.
func StateDict(m Parameterized) map[string]*tensor.RawTensor {
	params := m.Parameters()
	state := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		state[p.Name()] = p.Tensor()
	}
	return state
}

// LoadStateDict copies tensors from state into the module's parameters.
//
// Loading is strict: every parameter must be present with the exact shape,
// and state may not contain names the module does not know.
func LoadStateDict(m Parameterized, state map[string]*tensor.RawTensor) error {
	known := make(map[string]bool)
	var missing []string

	for _, p := range m.Parameters() {
		known[p.Name()] = true
		t, ok := state[p.Name()]
		if !ok {
			missing = append(missing, p.Name())
			continue
		}
		if err := p.Load(t); err != nil {
			return err
		}
	}

	var unexpected []string
	for name := range state {
		if !known[name] {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("state dict mismatch: missing [%s], unexpected [%s]",
			strings.Join(missing, ", "), strings.Join(unexpected, ", "))
	}
	return nil
}

// CountParameters returns the total number of scalar weights in m.
func CountParameters(m Parameterized) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
