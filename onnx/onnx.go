// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package onnx loads and runs ONNX artifacts produced by tsexport.
//
// The artifacts hold a float32 graph with one input ("past_values",
// [batch, context, channels]) and one output ("prediction_outputs",
// [batch, horizon, channels]). The batch dimension is symbolic, so any
// batch size is accepted.
//
// # Example Usage
//
//	import (
//	    "github.com/born-ml/tsexport/backend/cpu"
//	    "github.com/born-ml/tsexport/onnx"
//	)
//
//	model, err := onnx.Load("model.onnx", cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	forecast, err := model.Forward(past)
//
// # Supported Operators
//
// Add, Sub, Mul, Div, MatMul, Transpose, Reshape, Slice, ReduceMean,
// Sqrt, Erf and Softmax, from the default domain at opset 13 or later.
// Use [ListSupportedOps] for the authoritative list.
package onnx

import (
	internalonnx "github.com/born-ml/tsexport/internal/onnx"
	"github.com/born-ml/tsexport/internal/tensor"
)

// Load loads an ONNX model from file and prepares it for inference.
//
// Example:
//
//	model, err := onnx.Load("model.onnx", cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Inputs:", model.InputNames())
//	fmt.Println("Opset:", model.OpsetVersion())
func Load(path string, backend tensor.Backend) (Model, error) {
	return internalonnx.Load(path, backend)
}

// LoadFromBytes loads an ONNX model from raw bytes.
func LoadFromBytes(data []byte, backend tensor.Backend) (Model, error) {
	return internalonnx.LoadFromBytes(data, backend)
}

// ModelInfo contains metadata about an ONNX model without preparing it
// for execution.
type ModelInfo = internalonnx.ModelInfo

// GetModelInfo extracts metadata from an ONNX file.
//
// Example:
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Operators: %v\n", info.OpHistogram)
func GetModelInfo(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// ListSupportedOps returns the ONNX operators the executor supports.
func ListSupportedOps() []string {
	return internalonnx.ListSupportedOps()
}
