package graph

import (
	"fmt"
	"sort"

	"github.com/born-ml/tsexport/internal/tensor"
)

// OpHandler evaluates a node on its input tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error)

// Context provides the backend operators run on.
type Context struct {
	Backend tensor.Backend
}

// Registry maps operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every operator a traced graph can
// contain.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerMathOps()
	r.registerShapeOps()
	r.registerReduceOps()

	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	return handler(ctx, node, inputs)
}

// SupportedOps returns all supported operator types, sorted.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Registry) registerMathOps() {
	r.Register("Add", binaryOp("add", tensor.Backend.Add))
	r.Register("Sub", binaryOp("sub", tensor.Backend.Sub))
	r.Register("Mul", binaryOp("mul", tensor.Backend.Mul))
	r.Register("Div", binaryOp("div", tensor.Backend.Div))
	r.Register("MatMul", binaryOp("matMul", tensor.Backend.MatMul))
	r.Register("Sqrt", unaryOp("sqrt", tensor.Backend.Sqrt))
	r.Register("Erf", unaryOp("erf", tensor.Backend.Erf))
	r.Register("Softmax", handleSoftmax)
}

func (r *Registry) registerShapeOps() {
	r.Register("Transpose", handleTranspose)
	r.Register("Reshape", handleReshape)
	r.Register("Slice", handleSlice)
}

func (r *Registry) registerReduceOps() {
	r.Register("ReduceMean", handleReduceMean)
}

func binaryOp(name string, op func(tensor.Backend, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("%s requires 2 inputs, got %d", name, len(inputs))
		}
		return op(ctx.Backend, inputs[0], inputs[1]), nil
	}
}

func unaryOp(name string, op func(tensor.Backend, *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%s requires 1 input, got %d", name, len(inputs))
		}
		return op(ctx.Backend, inputs[0]), nil
	}
}

// handleSoftmax follows opset 13+: axis defaults to -1.
func handleSoftmax(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax requires 1 input, got %d", len(inputs))
	}
	axis := node.AttrInt("axis", -1)
	return ctx.Backend.Softmax(inputs[0], int(axis)), nil
}

func handleTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("transpose requires 1 input, got %d", len(inputs))
	}
	return ctx.Backend.Transpose(inputs[0], toInts(node.AttrInts("perm"))...), nil
}

// handleReshape reads the target shape from the "shape" attribute. The ONNX
// codec moves it to and from the second input.
func handleReshape(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("reshape requires 1 input, got %d", len(inputs))
	}
	spec := node.AttrInts("shape")
	if spec == nil {
		return nil, fmt.Errorf("reshape: missing shape")
	}
	if _, err := tensor.ResolveReshape(inputs[0].Shape(), tensor.Shape(toInts(spec))); err != nil {
		return nil, err
	}
	return ctx.Backend.Reshape(inputs[0], tensor.Shape(toInts(spec))), nil
}

// handleSlice supports unit steps. starts, ends and axes are attributes, as
// for Reshape.
func handleSlice(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("slice requires 1 input, got %d", len(inputs))
	}

	x := inputs[0]
	starts, ends, axes := node.AttrInts("starts"), node.AttrInts("ends"), node.AttrInts("axes")
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("slice: %d starts, %d ends", len(starts), len(ends))
	}
	if axes == nil {
		axes = make([]int64, len(starts))
		for i := range axes {
			axes[i] = int64(i)
		}
	}
	if len(axes) != len(starts) {
		return nil, fmt.Errorf("slice: %d axes, %d starts", len(axes), len(starts))
	}
	for _, step := range node.AttrInts("steps") {
		if step != 1 {
			return nil, fmt.Errorf("slice: step %d not supported", step)
		}
	}

	for i, a := range axes {
		axis, err := tensor.NormalizeAxis(int(a), x.Rank())
		if err != nil {
			return nil, fmt.Errorf("slice: %w", err)
		}
		dim := int64(x.Shape()[axis])
		start, end := clampIndex(starts[i], dim), clampIndex(ends[i], dim)
		if end <= start {
			return nil, fmt.Errorf("slice: empty range [%d, %d) on axis %d", start, end, axis)
		}
		x = ctx.Backend.Narrow(x, axis, int(start), int(end-start))
	}
	return x, nil
}

// clampIndex resolves a negative index and clamps it to [0, dim].
func clampIndex(idx, dim int64) int64 {
	if idx < 0 {
		idx += dim
	}
	return min(max(idx, 0), dim)
}

// handleReduceMean follows opset 17: axes is an attribute, keepdims
// defaults to 1, and no axes means every axis.
func handleReduceMean(ctx *Context, node *Node, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("reduceMean requires 1 input, got %d", len(inputs))
	}

	x := inputs[0]
	keep := node.AttrInt("keepdims", 1) != 0
	axes := toInts(node.AttrInts("axes"))
	if len(axes) == 0 {
		axes = make([]int, x.Rank())
		for i := range axes {
			axes[i] = i
		}
	}
	for i, a := range axes {
		axis, err := tensor.NormalizeAxis(a, x.Rank())
		if err != nil {
			return nil, fmt.Errorf("reduceMean: %w", err)
		}
		axes[i] = axis
	}

	// Highest axis first so the remaining indices stay valid without keepdims.
	sort.Sort(sort.Reverse(sort.IntSlice(axes)))
	for _, axis := range axes {
		x = ctx.Backend.MeanDim(x, axis, keep)
	}
	return x, nil
}

func toInts(values []int64) []int {
	if values == nil {
		return nil
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}
