package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu: Pure Go reference backend
//   - trace: Decorator that records every call into a static graph
//
// Every method returns a fresh tensor and leaves its operands untouched.
// Shape errors panic, as they are programming errors in the model code.
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies the last two dimensions and broadcasts the leading
	// ones: [..., M, K] @ [..., K, N] -> [..., M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Transpose(x *RawTensor, perm ...int) *RawTensor // permute axes; no perm reverses them
	Reshape(x *RawTensor, spec Shape) *RawTensor    // spec uses ResolveReshape semantics
	Narrow(x *RawTensor, dim, start, length int) *RawTensor

	// Reductions.
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Element-wise math.
	Sqrt(x *RawTensor) *RawTensor
	Erf(x *RawTensor) *RawTensor

	// Softmax along dimension.
	Softmax(x *RawTensor, dim int) *RawTensor

	// Values copies the tensor back to host memory.
	// Any Go-side decision taken on the result is invisible to a graph
	// recorder, so tracing backends treat this call as a hazard.
	Values(x *RawTensor) []float32

	// Metadata
	Name() string
}
