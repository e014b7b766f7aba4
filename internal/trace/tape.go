package trace

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/tensor"
)

// Tape records backend operations into a graph.
//
// Values are identified by tensor pointer. Operands the tape has never
// seen are captured as initializers: under the name given to Bind for
// parameters, or as anonymous constants otherwise.
type Tape struct {
	graph     *graph.Graph
	names     map[*tensor.RawTensor]string // every value the graph can refer to
	derived   map[*tensor.RawTensor]bool   // values computed from a graph input
	params    map[*tensor.RawTensor]string // bound parameter names
	recording bool
	nodes     int
	consts    int
	err       error // first hazard
}

// NewTape creates an empty tape for a graph called name.
func NewTape(name string) *Tape {
	return &Tape{
		graph:   graph.New(name),
		names:   make(map[*tensor.RawTensor]string),
		derived: make(map[*tensor.RawTensor]bool),
		params:  make(map[*tensor.RawTensor]string),
	}
}

// StartRecording enables operation recording.
func (t *Tape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *Tape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *Tape) IsRecording() bool {
	return t.recording
}

// Bind names a tensor that will be captured as a weight.
func (t *Tape) Bind(name string, x *tensor.RawTensor) {
	t.params[x] = name
}

// Input declares x as a graph input. Everything computed from it is
// input-derived.
func (t *Tape) Input(name string, x *tensor.RawTensor) {
	t.names[x] = name
	t.derived[x] = true
	t.graph.Inputs = append(t.graph.Inputs, graph.ValueInfo{Name: name})
}

// Record appends a node computing out from inputs.
func (t *Tape) Record(op string, inputs []*tensor.RawTensor, out *tensor.RawTensor, attrs ...graph.Attribute) {
	if !t.recording {
		return
	}
	if _, seen := t.names[out]; seen {
		// The backend returned an operand unchanged.
		return
	}

	node := graph.Node{
		Name:       fmt.Sprintf("%s_%d", op, t.nodes),
		OpType:     op,
		Inputs:     make([]string, len(inputs)),
		Attributes: attrs,
	}
	t.nodes++

	derived := false
	for i, in := range inputs {
		node.Inputs[i] = t.ref(in)
		derived = derived || t.derived[in]
	}

	name := node.Name + "_output"
	node.Outputs = []string{name}
	t.names[out] = name
	if derived {
		t.derived[out] = true
	}
	t.graph.Nodes = append(t.graph.Nodes, node)
}

// ref returns the value name of x, capturing it as an initializer first if
// the tape has not seen it.
func (t *Tape) ref(x *tensor.RawTensor) string {
	if name, ok := t.names[x]; ok {
		return name
	}

	name, ok := t.params[x]
	if !ok {
		name = fmt.Sprintf("const_%d", t.consts)
		t.consts++
	}
	t.names[x] = name
	t.graph.Initializers[name] = x
	return name
}

// Readback notes a host read of x. Reading an input-derived value means
// the caller may branch on data the graph cannot represent.
func (t *Tape) Readback(x *tensor.RawTensor) {
	if !t.recording || !t.derived[x] || t.err != nil {
		return
	}
	name := t.names[x]
	t.err = fmt.Errorf("%w: host read of %s %v", ErrDataDependent, name, x.Shape())
}

// Err returns the first hazard seen while recording.
func (t *Tape) Err() error {
	return t.err
}

// Name returns the value name of x, if the tape knows it.
func (t *Tape) Name(x *tensor.RawTensor) (string, bool) {
	name, ok := t.names[x]
	return name, ok
}

// Derived reports whether x was computed from a graph input.
func (t *Tape) Derived(x *tensor.RawTensor) bool {
	return t.derived[x]
}

// Graph returns the recorded graph.
func (t *Tape) Graph() *graph.Graph {
	return t.graph
}
