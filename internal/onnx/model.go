package onnx

import (
	"fmt"

	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/tensor"
)

// Model represents a loaded ONNX model ready for inference.
// It executes the computation graph using the provided backend.
type Model struct {
	proto *ModelProto
	exec  *graph.Executor
}

// Load loads an ONNX model from file and prepares it for inference.
// The backend is used for tensor operations during inference.
//
// Example:
//
//	model, err := onnx.Load("model.onnx", cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := model.Forward(input)
func Load(path string, backend tensor.Backend) (*Model, error) {
	proto, err := ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}
	return LoadFromProto(proto, backend)
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, backend tensor.Backend) (*Model, error) {
	proto, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return LoadFromProto(proto, backend)
}

// LoadFromProto loads a model from parsed ModelProto.
func LoadFromProto(proto *ModelProto, backend tensor.Backend) (*Model, error) {
	g, err := ToGraph(proto)
	if err != nil {
		return nil, err
	}
	exec, err := graph.NewExecutor(g, backend)
	if err != nil {
		return nil, err
	}
	return &Model{proto: proto, exec: exec}, nil
}

// Graph returns the executable graph.
func (m *Model) Graph() *graph.Graph {
	return m.exec.Graph()
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return valueNames(m.exec.Graph().Inputs)
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return valueNames(m.exec.Graph().Outputs)
}

// OpsetVersion returns the default-domain ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.proto.Opset("")
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	return meta
}

// Forward runs inference with a single input tensor.
// For models with multiple inputs, use ForwardNamed.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	return m.exec.Forward(input)
}

// ForwardNamed runs inference with named inputs.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	return m.exec.Run(inputs)
}

// Opset returns the imported version of domain, or 0 if it is not
// imported. "ai.onnx" and "" both name the default domain.
func (m *ModelProto) Opset(domain string) int64 {
	if domain == "ai.onnx" {
		domain = ""
	}
	for _, o := range m.OpsetImport {
		d := o.Domain
		if d == "ai.onnx" {
			d = ""
		}
		if d == domain {
			return o.Version
		}
	}
	return 0
}

// ModelInfo contains basic information about an ONNX model.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string
	Inputs          []graph.ValueInfo
	Outputs         []graph.ValueInfo
	NodeCount       int
	WeightCount     int
	ParameterCount  int
	OpHistogram     map[string]int
	Metadata        map[string]string
}

// GetModelInfo returns basic information about an ONNX file without
// preparing it for execution.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := ToGraph(proto)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(proto.MetadataProps))
	for _, prop := range proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	return &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.Opset(""),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		GraphName:       g.Name,
		Inputs:          g.Inputs,
		Outputs:         g.Outputs,
		NodeCount:       len(g.Nodes),
		WeightCount:     len(g.Initializers),
		ParameterCount:  g.NumParameters(),
		OpHistogram:     g.OpHistogram(),
		Metadata:        meta,
	}, nil
}

// ListSupportedOps returns the operator types the executor can run.
func ListSupportedOps() []string {
	return graph.NewRegistry().SupportedOps()
}

func valueNames(values []graph.ValueInfo) []string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Name
	}
	return names
}
