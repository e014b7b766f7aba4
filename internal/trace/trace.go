// Package trace turns a Go function over tensors into a static graph.
//
// The function runs once on an example input with a TracingBackend, which
// computes every operation with the wrapped backend and records it on a
// Tape. Anything the function does outside the backend (Go control flow,
// host-side arithmetic) is frozen into the graph at its traced value, so a
// trace is only as good as the function's independence from its data.
// Trace detects the cases it can and, when asked, re-runs the graph against
// the function on fresh inputs to catch the rest.
package trace

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
)

var (
	// ErrDataDependent is returned when the function reads an
	// input-derived value back to the host during tracing.
	ErrDataDependent = errors.New("data-dependent trace")

	// ErrNotTraced is returned when the output was not computed from the
	// input by traced operations.
	ErrNotTraced = errors.New("output not traced")

	// ErrCheckFailed is returned when the graph and the function disagree
	// on a check input.
	ErrCheckFailed = errors.New("trace check failed")

	// ErrTraceFailed is returned when the function panics while tracing.
	ErrTraceFailed = errors.New("trace failed")
)

// BatchParam names the dynamic leading dimension of inputs and outputs.
const BatchParam = "batch"

// Func is a traceable function of one tensor.
type Func func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor

// Options control tracing.
type Options struct {
	Name       string
	InputName  string
	OutputName string

	// Params are captured under their own names; other constants get
	// generated names.
	Params []*nn.Parameter

	// StaticBatch keeps the leading dimension fixed at its traced size.
	StaticBatch bool

	// Check re-runs the graph against the function on the example and on
	// CheckInputs random inputs, one of them with a different batch size
	// unless StaticBatch is set.
	Check       bool
	CheckInputs int
	Tolerance   float64
	Rand        *rand.Rand
}

// DefaultOptions returns options with checking enabled.
func DefaultOptions() Options {
	return Options{
		Name:        "main",
		InputName:   "input",
		OutputName:  "output",
		Check:       true,
		CheckInputs: 3,
		Tolerance:   1e-5,
	}
}

// Trace records fn applied to example and returns the pruned, constant
// folded graph.
func Trace(inner tensor.Backend, fn Func, example *tensor.RawTensor, opts Options) (*graph.Graph, error) {
	if example.Rank() == 0 {
		return nil, fmt.Errorf("%w: example input must have a batch dimension", ErrTraceFailed)
	}

	tape := NewTape(opts.Name)
	for _, p := range opts.Params {
		tape.Bind(p.Name(), p.Tensor())
	}
	tape.Input(opts.InputName, example)

	tb := New(inner, tape)
	tape.StartRecording()
	out, err := call(fn, tb, example)
	tape.StopRecording()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}
	if err := tape.Err(); err != nil {
		return nil, err
	}

	if out == nil {
		return nil, fmt.Errorf("%w: function returned nil", ErrNotTraced)
	}
	if out == example {
		return nil, fmt.Errorf("%w: function returned its input", ErrNotTraced)
	}
	outName, ok := tape.Name(out)
	if !ok {
		return nil, fmt.Errorf("%w: output %v was created outside the traced backend", ErrNotTraced, out.Shape())
	}
	if !tape.Derived(out) {
		return nil, fmt.Errorf("%w: output %v does not depend on the input", ErrNotTraced, out.Shape())
	}

	g := tape.Graph()
	g.Inputs[0].Shape = dims(example.Shape(), !opts.StaticBatch)
	g.Outputs = []graph.ValueInfo{{Name: outName, Shape: dims(out.Shape(), !opts.StaticBatch)}}
	g.Rename(outName, opts.OutputName)

	g.Prune()
	if _, err := g.FoldConstants(inner); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}
	g.Prune()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}

	if opts.Check {
		if err := check(inner, fn, g, example, opts); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// check compares the graph with eager execution of fn.
func check(inner tensor.Backend, fn Func, g *graph.Graph, example *tensor.RawTensor, opts Options) error {
	exec, err := graph.NewExecutor(g, inner)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	rng := opts.Rand
	if rng == nil {
		rng = tensor.NewRand(0)
	}

	inputs := []*tensor.RawTensor{example}
	for i := range opts.CheckInputs {
		shape := example.Shape().Clone()
		if i == opts.CheckInputs-1 && !opts.StaticBatch {
			shape[0]++
		}
		inputs = append(inputs, tensor.Randn(shape, rng))
	}

	for i, x := range inputs {
		want, err := call(fn, inner, x)
		if err != nil {
			return fmt.Errorf("%w: input %d: eager run: %w", ErrCheckFailed, i, err)
		}
		got, err := exec.Forward(x)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrCheckFailed, i, err)
		}
		if err := compare(want, got, opts.Tolerance); err != nil {
			return fmt.Errorf("%w: input %d %v: %w", ErrCheckFailed, i, x.Shape(), err)
		}
	}
	return nil
}

// compare checks |want - got| <= tol * (1 + |want|) element-wise.
func compare(want, got *tensor.RawTensor, tol float64) error {
	if !want.Shape().Equal(got.Shape()) {
		return fmt.Errorf("shape %v, eager %v", got.Shape(), want.Shape())
	}

	w, g := want.Float32(), got.Float32()
	for i := range w {
		a, b := float64(w[i]), float64(g[i])
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if diff := math.Abs(a - b); !(diff <= tol*(1+math.Abs(a))) {
			return fmt.Errorf("element %d: graph %g, eager %g", i, b, a)
		}
	}
	return nil
}

// call runs fn, turning backend panics into errors.
func call(fn Func, b tensor.Backend, x *tensor.RawTensor) (out *tensor.RawTensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(b, x), nil
}

func dims(shape tensor.Shape, dynamicBatch bool) []graph.Dim {
	out := make([]graph.Dim, len(shape))
	for i, d := range shape {
		out[i] = graph.Dim{Value: d}
	}
	if dynamicBatch && len(out) > 0 {
		out[0].Param = BatchParam
	}
	return out
}
