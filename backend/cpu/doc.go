// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// # Overview
//
// The backend implements every operation a traced forecaster records:
//   - Element-wise arithmetic with NumPy-compatible broadcasting
//   - Batched matrix multiplication
//   - Transpose, Reshape (ONNX 0/-1 semantics) and Narrow
//   - Mean reductions, Sqrt, Erf and Softmax
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/tsexport/backend/cpu"
//	    "github.com/born-ml/tsexport/onnx"
//	)
//
//	func main() {
//	    model, err := onnx.Load("model.onnx", cpu.New())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Determinism
//
// Every output element is accumulated in a fixed order, so equal inputs
// give bit-identical outputs. Batched matrix products are split across
// goroutines by batch entry, which changes wall time but never the result.
// Exported artifacts are verified against this backend.
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Each tensor operation
// is isolated and does not share mutable state.
package cpu
