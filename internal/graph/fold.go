package graph

import (
	"fmt"
	"strings"

	"github.com/born-ml/tsexport/internal/tensor"
)

// FoldConstants evaluates every node whose inputs are all initializers and
// stores its result as an initializer instead. Folded values are named
// after their first input when that name is free ("w" → "w.transpose").
//
// It returns the number of nodes folded.
func (g *Graph) FoldConstants(b tensor.Backend) (folded int, err error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return 0, err
	}

	registry := NewRegistry()
	ctx := &Context{Backend: b}
	outputs := make(map[string]bool, len(g.Outputs))
	for _, out := range g.Outputs {
		outputs[out.Name] = true
	}

	var current *Node
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fold %s (%s): %v", current.Name, current.OpType, r)
		}
	}()

	remove := make([]bool, len(g.Nodes))
	type rename struct{ from, to string }
	var renames []rename
	claimed := make(map[string]bool)
	for _, idx := range order {
		current = &g.Nodes[idx]
		if outputs[current.Outputs[0]] || !g.allConstant(current.Inputs) {
			continue
		}

		args := make([]*tensor.RawTensor, len(current.Inputs))
		for i, name := range current.Inputs {
			args[i] = g.Initializers[name]
		}
		value, err := registry.Execute(ctx, current, args)
		if err != nil {
			return folded, fmt.Errorf("fold %s (%s): %w", current.Name, current.OpType, err)
		}

		g.Initializers[current.Outputs[0]] = value
		remove[idx] = true
		folded++

		if len(current.Inputs) > 0 {
			name := current.Inputs[0] + "." + strings.ToLower(current.OpType)
			if _, taken := g.Initializers[name]; !taken && !claimed[name] {
				claimed[name] = true
				renames = append(renames, rename{from: current.Outputs[0], to: name})
			}
		}
	}

	kept := g.Nodes[:0]
	for i := range g.Nodes {
		if !remove[i] {
			kept = append(kept, g.Nodes[i])
		}
	}
	g.Nodes = kept

	for _, r := range renames {
		if _, taken := g.Initializers[r.to]; !taken {
			g.Rename(r.from, r.to)
		}
	}
	return folded, nil
}

func (g *Graph) allConstant(names []string) bool {
	for _, name := range names {
		if _, ok := g.Initializers[name]; !ok {
			return false
		}
	}
	return true
}
