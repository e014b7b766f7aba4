// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package onnx

import "github.com/born-ml/tsexport/internal/tensor"

// Model represents a loaded ONNX model ready for inference.
//
// The interface hides the internal implementation so callers can mock
// it in tests.
type Model interface {
	// Forward runs inference with a single input tensor.
	// For models with multiple inputs, use ForwardNamed.
	Forward(input *tensor.RawTensor) (*tensor.RawTensor, error)

	// ForwardNamed runs inference with named inputs and returns a map of
	// output name to tensor.
	ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error)

	// InputNames returns the names of model inputs.
	InputNames() []string

	// OutputNames returns the names of model outputs.
	OutputNames() []string

	// OpsetVersion returns the ONNX opset version used by the model.
	OpsetVersion() int64

	// Metadata returns model metadata as key-value pairs.
	//
	// Keys written by tsexport:
	//   - "producer_name", "producer_version"
	//   - "model_id", "revision"
	//   - "context_length", "prediction_length", "channels"
	//   - "trace_seed"
	Metadata() map[string]string
}
