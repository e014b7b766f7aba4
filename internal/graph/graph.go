// Package graph holds the static computation graph produced by tracing.
//
// Nodes use ONNX operator names and attribute conventions, so a graph maps
// one to one onto an ONNX GraphProto. Values are identified by name; a name
// is defined by exactly one of: a graph input, an initializer, or a node
// output.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/tsexport/internal/tensor"
)

// ErrInvalidGraph is returned by Validate and by operations that need a
// well-formed graph.
var ErrInvalidGraph = errors.New("invalid graph")

// Attribute types, numbered like AttributeProto.AttributeType.
const (
	AttrFloat = 1
	AttrInt   = 2
	AttrInts  = 7
)

// Attribute is a node attribute.
type Attribute struct {
	Name string
	Type int32
	F    float32
	I    int64
	Ints []int64
}

// Node is one operation.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// AttrInt returns an integer attribute or defaultVal.
func (n *Node) AttrInt(name string, defaultVal int64) int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].I
		}
	}
	return defaultVal
}

// AttrInts returns an integer list attribute, or nil.
func (n *Node) AttrInts(name string) []int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].Ints
		}
	}
	return nil
}

// Dim is one dimension of a value. A non-empty Param marks the dimension
// as dynamic; Value is then the size seen at trace time.
type Dim struct {
	Value int
	Param string
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name  string
	Shape []Dim
}

// StaticShape returns the shape with dynamic dimensions at their traced
// size.
func (v ValueInfo) StaticShape() tensor.Shape {
	shape := make(tensor.Shape, len(v.Shape))
	for i, d := range v.Shape {
		shape[i] = d.Value
	}
	return shape
}

// Accepts reports whether shape fits v, treating dynamic dimensions as
// wildcards.
func (v ValueInfo) Accepts(shape tensor.Shape) bool {
	if len(shape) != len(v.Shape) {
		return false
	}
	for i, d := range v.Shape {
		if d.Param == "" && d.Value != shape[i] {
			return false
		}
	}
	return true
}

// Graph is a static dataflow graph over float32 tensors.
type Graph struct {
	Name         string
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers map[string]*tensor.RawTensor
	Nodes        []Node
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		Name:         name,
		Initializers: make(map[string]*tensor.RawTensor),
	}
}

// InitializerNames returns initializer names, sorted.
func (g *Graph) InitializerNames() []string {
	names := make([]string, 0, len(g.Initializers))
	for name := range g.Initializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpHistogram counts nodes per operator type.
func (g *Graph) OpHistogram() map[string]int {
	hist := make(map[string]int)
	for i := range g.Nodes {
		hist[g.Nodes[i].OpType]++
	}
	return hist
}

// NumParameters returns the number of scalar weights held in initializers.
func (g *Graph) NumParameters() int {
	n := 0
	for _, t := range g.Initializers {
		n += t.NumElements()
	}
	return n
}

// Validate checks that every value is defined exactly once, that every
// node input is defined, that graph outputs are produced, and that the
// nodes form no cycle.
func (g *Graph) Validate() error {
	defined := make(map[string]string)
	define := func(name, by string) error {
		if name == "" {
			return fmt.Errorf("%w: empty value name in %s", ErrInvalidGraph, by)
		}
		if prev, ok := defined[name]; ok {
			return fmt.Errorf("%w: %q defined by both %s and %s", ErrInvalidGraph, name, prev, by)
		}
		defined[name] = by
		return nil
	}

	for _, in := range g.Inputs {
		if err := define(in.Name, "input"); err != nil {
			return err
		}
	}
	for _, name := range g.InitializerNames() {
		if err := define(name, "initializer"); err != nil {
			return err
		}
	}
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			if err := define(out, "node "+g.Nodes[i].Name); err != nil {
				return err
			}
		}
	}

	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			if _, ok := defined[in]; !ok {
				return fmt.Errorf("%w: node %s reads undefined value %q", ErrInvalidGraph, g.Nodes[i].Name, in)
			}
		}
	}
	for _, out := range g.Outputs {
		if _, ok := defined[out.Name]; !ok {
			return fmt.Errorf("%w: output %q is never produced", ErrInvalidGraph, out.Name)
		}
	}

	_, err := g.TopologicalOrder()
	return err
}

// TopologicalOrder returns node indices so that every node comes after the
// producers of its inputs. Ties keep the stored order.
func (g *Graph) TopologicalOrder() ([]int, error) {
	producer := make(map[string]int)
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			producer[out] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.Nodes))
	order := make([]int, 0, len(g.Nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: cycle through node %s", ErrInvalidGraph, g.Nodes[i].Name)
		}
		state[i] = visiting
		for _, in := range g.Nodes[i].Inputs {
			if dep, ok := producer[in]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, i)
		return nil
	}

	for i := range g.Nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Prune drops nodes and initializers that no graph output depends on.
// It returns the number of nodes removed.
func (g *Graph) Prune() int {
	producer := make(map[string]int)
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			producer[out] = i
		}
	}

	liveNodes := make([]bool, len(g.Nodes))
	liveValues := make(map[string]bool)
	stack := make([]string, 0, len(g.Outputs))
	for _, out := range g.Outputs {
		stack = append(stack, out.Name)
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if liveValues[name] {
			continue
		}
		liveValues[name] = true
		if i, ok := producer[name]; ok && !liveNodes[i] {
			liveNodes[i] = true
			stack = append(stack, g.Nodes[i].Inputs...)
		}
	}

	kept := g.Nodes[:0]
	for i := range g.Nodes {
		if liveNodes[i] {
			kept = append(kept, g.Nodes[i])
		}
	}
	removed := len(g.Nodes) - len(kept)
	g.Nodes = kept

	for name := range g.Initializers {
		if !liveValues[name] {
			delete(g.Initializers, name)
		}
	}
	return removed
}

// Rename replaces every use and definition of value from with to.
func (g *Graph) Rename(from, to string) {
	for i := range g.Inputs {
		if g.Inputs[i].Name == from {
			g.Inputs[i].Name = to
		}
	}
	for i := range g.Outputs {
		if g.Outputs[i].Name == from {
			g.Outputs[i].Name = to
		}
	}
	if t, ok := g.Initializers[from]; ok {
		delete(g.Initializers, from)
		g.Initializers[to] = t
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for j := range n.Inputs {
			if n.Inputs[j] == from {
				n.Inputs[j] = to
			}
		}
		for j := range n.Outputs {
			if n.Outputs[j] == from {
				n.Outputs[j] = to
			}
		}
	}
}
