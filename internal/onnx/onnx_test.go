package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/tsexport/internal/backend/cpu"
	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/born-ml/tsexport/internal/trace"
	"github.com/born-ml/tsexport/internal/ttm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// tracedTTM traces a small TTM with a narrowed horizon, so the graph holds
// Reshape, Slice and ReduceMean nodes.
func tracedTTM(t *testing.T) (*ttm.Model, *graph.Graph) {
	t.Helper()
	cfg := ttm.DefaultConfig()
	cfg.ContextLength = 16
	cfg.PredictionLength = 6
	cfg.PredictionFilterLength = 4
	cfg.PatchLength = 4
	cfg.PatchStride = 4
	cfg.NumInputChannels = 1
	cfg.DModel = 8
	cfg.NumLayers = 1
	cfg.DecoderDModel = 4
	cfg.DecoderNumLayers = 1

	m, err := ttm.New(cfg, tensor.NewRand(3))
	require.NoError(t, err)
	nn.Eval(m)

	opts := trace.DefaultOptions()
	opts.InputName = "past_values"
	opts.OutputName = "prediction_outputs"
	opts.Params = m.Parameters()
	fn := func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		return m.Forward(b, x).PredictionOutputs
	}
	g, err := trace.Trace(cpu.New(), fn, tensor.Randn(tensor.Shape{1, 16, 1}, tensor.NewRand(4)), opts)
	require.NoError(t, err)
	return m, g
}

func TestFromGraph(t *testing.T) {
	_, g := tracedTTM(t)
	m, err := FromGraph(g, ExportOptions{
		ProducerVersion: "test",
		Metadata:        map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(IRVersion), m.IRVersion)
	assert.Equal(t, int64(OpsetVersion), m.Opset(""))
	assert.Equal(t, int64(OpsetVersion), m.Opset("ai.onnx"))
	assert.Equal(t, ProducerName, m.ProducerName)
	assert.Equal(t, []StringStringEntry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, m.MetadataProps)

	require.Len(t, m.Graph.Inputs, 1)
	dims := m.Graph.Inputs[0].Type.TensorType.Shape.Dims
	assert.Equal(t, []DimensionProto{{DimParam: trace.BatchParam}, {DimValue: 16}, {DimValue: 1}}, dims)

	for _, n := range m.Graph.Nodes {
		switch n.OpType {
		case "Reshape":
			require.Len(t, n.Inputs, 2)
			assert.Equal(t, n.Name+"_shape", n.Inputs[1])
			assert.Empty(t, n.Attributes)
		case "Slice":
			require.Len(t, n.Inputs, 4)
			assert.Equal(t, n.Name+"_axes", n.Inputs[3])
		}
	}

	var kinds []int32
	for _, init := range m.Graph.Initializers {
		kinds = append(kinds, init.DataType)
	}
	assert.Contains(t, kinds, int32(TensorProtoInt64))
	assert.Contains(t, kinds, int32(TensorProtoFloat))
}

func TestRoundTrip(t *testing.T) {
	model, g := tracedTTM(t)
	proto, err := FromGraph(g, ExportOptions{})
	require.NoError(t, err)

	data := Encode(proto)
	require.NotEmpty(t, data)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, data, Encode(decoded))

	back, err := ToGraph(decoded)
	require.NoError(t, err)
	assert.Equal(t, g.OpHistogram(), back.OpHistogram())
	assert.Equal(t, g.InitializerNames(), back.InitializerNames())
	assert.Equal(t, g.NumParameters(), back.NumParameters())

	loaded, err := LoadFromBytes(data, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"past_values"}, loaded.InputNames())
	assert.Equal(t, []string{"prediction_outputs"}, loaded.OutputNames())

	// A batch size other than the traced one
	x := tensor.Randn(tensor.Shape{3, 16, 1}, tensor.NewRand(9))
	got, err := loaded.Forward(x)
	require.NoError(t, err)
	want := model.Forward(cpu.New(), x).PredictionOutputs
	assert.Equal(t, tensor.Shape{3, 4, 1}, got.Shape())
	assert.InDeltaSlice(t, want.Float32(), got.Float32(), 1e-5)
}

func TestWriteFile(t *testing.T) {
	_, g := tracedTTM(t)
	proto, err := FromGraph(g, ExportOptions{Metadata: map[string]string{"model_id": "small"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))
	require.NoError(t, WriteFile(path, proto))
	require.NoError(t, WriteFile(path, proto))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Encode(proto), data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	info, err := GetModelInfo(path)
	require.NoError(t, err)
	assert.Equal(t, int64(OpsetVersion), info.OpsetVersion)
	assert.Equal(t, "small", info.Metadata["model_id"])
	assert.Equal(t, g.NumParameters(), info.ParameterCount)
	assert.Equal(t, len(g.Nodes), info.NodeCount)
	assert.Equal(t, "prediction_outputs", info.Outputs[0].Name)

	model, err := Load(path, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, int64(OpsetVersion), model.OpsetVersion())
	assert.Equal(t, ProducerName, model.Metadata()["producer_name"])
}

func TestWriteFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "model.onnx")
	assert.Error(t, WriteFile(path, &ModelProto{}))
}

func TestDecodePacked(t *testing.T) {
	// TensorProto with packed dims and packed float_data, as proto3
	// writers emit them.
	var packedDims []byte
	packedDims = protowire.AppendVarint(packedDims, 2)
	packedDims = protowire.AppendVarint(packedDims, 1)
	var packedFloats []byte
	packedFloats = protowire.AppendFixed32(packedFloats, 0x3f800000) // 1
	packedFloats = protowire.AppendFixed32(packedFloats, 0x40000000) // 2

	var tp []byte
	tp = protowire.AppendTag(tp, 1, protowire.BytesType)
	tp = protowire.AppendBytes(tp, packedDims)
	tp = protowire.AppendTag(tp, 2, protowire.VarintType)
	tp = protowire.AppendVarint(tp, TensorProtoFloat)
	tp = protowire.AppendTag(tp, 4, protowire.BytesType)
	tp = protowire.AppendBytes(tp, packedFloats)
	tp = protowire.AppendTag(tp, 8, protowire.BytesType)
	tp = protowire.AppendString(tp, "w")
	// Unknown field, skipped
	tp = protowire.AppendTag(tp, 99, protowire.VarintType)
	tp = protowire.AppendVarint(tp, 1)

	var tensorMsg TensorProto
	require.NoError(t, decodeTensor(tp, &tensorMsg))
	assert.Equal(t, []int64{2, 1}, tensorMsg.Dims)
	assert.Equal(t, []float32{1, 2}, tensorMsg.FloatData)
	assert.Equal(t, "w", tensorMsg.Name)

	raw, err := decodeFloatTensor(&tensorMsg)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1}, raw.Shape())
}

func TestNodeStringsRoundTrip(t *testing.T) {
	// Empty names mark omitted optional inputs and must keep their slot.
	node := &NodeProto{
		Inputs:  []string{"x", "", "axes"},
		Outputs: []string{"y"},
		Name:    "slice_0",
		OpType:  "Slice",
	}

	var got NodeProto
	require.NoError(t, decodeNode(encodeNode(node), &got))
	assert.Equal(t, *node, got)

	_, err := appendStringField(protowire.VarintType, nil, &got.Inputs)
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x0a, 0x05, 'a'})
	assert.Error(t, err, "truncated bytes")

	// graph field with varint wire type
	_, err = Decode([]byte{0x38, 0x01})
	assert.Error(t, err)

	_, err = ReadFile(filepath.Join(t.TempDir(), "absent.onnx"))
	assert.Error(t, err)
}

func TestToGraphRejects(t *testing.T) {
	floatInfo := func(name string) ValueInfoProto {
		return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: []DimensionProto{{DimParam: "batch"}, {DimValue: 2}}},
		}}}
	}
	base := func() *ModelProto {
		return &ModelProto{
			OpsetImport: []OperatorSetID{{Version: OpsetVersion}},
			Graph: &GraphProto{
				Inputs:  []ValueInfoProto{floatInfo("x")},
				Outputs: []ValueInfoProto{floatInfo("y")},
				Nodes:   []NodeProto{{Name: "n", OpType: "Sqrt", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			},
		}
	}

	g, err := ToGraph(base())
	require.NoError(t, err)
	assert.Equal(t, []graph.Dim{{Value: 1, Param: "batch"}, {Value: 2}}, g.Inputs[0].Shape)

	tests := []struct {
		name   string
		modify func(m *ModelProto)
	}{
		{"no graph", func(m *ModelProto) { m.Graph = nil }},
		{"old opset", func(m *ModelProto) { m.OpsetImport[0].Version = 11 }},
		{"foreign domain", func(m *ModelProto) { m.Graph.Nodes[0].Domain = "com.microsoft" }},
		{"int input", func(m *ModelProto) { m.Graph.Inputs[0].Type.TensorType.ElemType = TensorProtoInt64 }},
		{"string attribute", func(m *ModelProto) {
			m.Graph.Nodes[0].Attributes = []AttributeProto{{Name: "mode", Type: AttributeProtoString}}
		}},
		{"int64 data", func(m *ModelProto) {
			m.Graph.Initializers = []TensorProto{{Name: "k", DataType: TensorProtoInt64, Dims: []int64{1}, Int64Data: []int64{1}}}
		}},
		{"dynamic reshape", func(m *ModelProto) {
			m.Graph.Nodes[0] = NodeProto{Name: "n", OpType: "Reshape", Inputs: []string{"x", "x"}, Outputs: []string{"y"}}
		}},
		{"undefined input", func(m *ModelProto) { m.Graph.Nodes[0].Inputs = []string{"z"} }},
		{"bad raw size", func(m *ModelProto) {
			m.Graph.Initializers = []TensorProto{{Name: "w", DataType: TensorProtoFloat, Dims: []int64{2}, RawData: []byte{0, 0}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.modify(m)
			_, err := ToGraph(m)
			assert.Error(t, err)
		})
	}
}

func TestListSupportedOps(t *testing.T) {
	ops := ListSupportedOps()
	for _, op := range []string{"MatMul", "Reshape", "Slice", "ReduceMean", "Erf", "Softmax"} {
		assert.Contains(t, ops, op)
	}
}
