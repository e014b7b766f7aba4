package graph

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/tensor"
)

// Executor runs a graph on a backend.
type Executor struct {
	graph    *Graph
	registry *Registry
	backend  tensor.Backend
	order    []int
}

// NewExecutor validates g and prepares it for execution on b.
func NewExecutor(g *Graph, b tensor.Backend) (*Executor, error) {
	return NewExecutorWithRegistry(g, b, NewRegistry())
}

// NewExecutorWithRegistry is NewExecutor with a custom operator set.
func NewExecutorWithRegistry(g *Graph, b tensor.Backend, registry *Registry) (*Executor, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	for i := range g.Nodes {
		if _, ok := registry.Get(g.Nodes[i].OpType); !ok {
			return nil, fmt.Errorf("%w: node %s: unsupported operator %s", ErrInvalidGraph, g.Nodes[i].Name, g.Nodes[i].OpType)
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	return &Executor{
		graph:    g,
		registry: registry,
		backend:  b,
		order:    order,
	}, nil
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// Forward runs a single-input, single-output graph.
func (e *Executor) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(e.graph.Inputs) != 1 {
		return nil, fmt.Errorf("graph has %d inputs, use Run", len(e.graph.Inputs))
	}
	if len(e.graph.Outputs) != 1 {
		return nil, fmt.Errorf("graph has %d outputs, use Run", len(e.graph.Outputs))
	}

	outputs, err := e.Run(map[string]*tensor.RawTensor{
		e.graph.Inputs[0].Name: input,
	})
	if err != nil {
		return nil, err
	}
	return outputs[e.graph.Outputs[0].Name], nil
}

// Run executes the graph with named inputs and returns the named outputs.
// Backend panics are returned as errors.
func (e *Executor) Run(inputs map[string]*tensor.RawTensor) (outputs map[string]*tensor.RawTensor, err error) {
	values := make(map[string]*tensor.RawTensor, len(e.graph.Initializers)+len(inputs)+len(e.graph.Nodes))
	for name, t := range e.graph.Initializers {
		values[name] = t
	}
	for _, in := range e.graph.Inputs {
		t, ok := inputs[in.Name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", in.Name)
		}
		if !in.Accepts(t.Shape()) {
			return nil, fmt.Errorf("input %s: shape %v does not match %v", in.Name, t.Shape(), formatDims(in.Shape))
		}
		values[in.Name] = t
	}

	ctx := &Context{Backend: e.backend}
	var current *Node
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("node %s (%s): %v", current.Name, current.OpType, r)
		}
	}()

	for _, idx := range e.order {
		current = &e.graph.Nodes[idx]
		args := make([]*tensor.RawTensor, len(current.Inputs))
		for i, name := range current.Inputs {
			args[i] = values[name]
		}

		out, err := e.registry.Execute(ctx, current, args)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", current.Name, current.OpType, err)
		}
		values[current.Outputs[0]] = out
	}

	outputs = make(map[string]*tensor.RawTensor, len(e.graph.Outputs))
	for _, out := range e.graph.Outputs {
		outputs[out.Name] = values[out.Name]
	}
	return outputs, nil
}

func formatDims(dims []Dim) string {
	s := "["
	for i, d := range dims {
		if i > 0 {
			s += " "
		}
		if d.Param != "" {
			s += d.Param
		} else {
			s += fmt.Sprint(d.Value)
		}
	}
	return s + "]"
}
