// Package onnx reads and writes ONNX models.
//
// ONNX (Open Neural Network Exchange) is the interchange format inference
// servers such as Triton load. The package covers the float32 subset the
// tracer produces: opset 17 default-domain operators over float tensors,
// with a dynamic batch dimension expressed as a dim_param.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: wire structures
//   - Encode, Decode: protobuf codec built on protowire
//   - FromGraph, ToGraph: conversion to and from graph.Graph
//   - WriteFile: atomic replacement of an artifact on disk
//   - Load: a runnable Model backed by graph.Executor
//
// Example usage:
//
//	m, err := onnx.FromGraph(g, onnx.ExportOptions{ProducerVersion: version})
//	if err != nil {
//	    return err
//	}
//	if err := onnx.WriteFile("model.onnx", m); err != nil {
//	    return err
//	}
//
//	model, err := onnx.Load("model.onnx", cpu.New())
//	out, err := model.Forward(input)
package onnx
