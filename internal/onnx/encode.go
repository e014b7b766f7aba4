package onnx

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes m in the protobuf wire format. Fields are written in
// field-number order and repeated scalars unpacked, as onnx.proto (proto2)
// declares them, so equal models encode to equal bytes.
func Encode(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, encodeGraph(m.Graph))
	}
	for i := range m.OpsetImport {
		b = appendMessage(b, 8, encodeOpset(&m.OpsetImport[i]))
	}
	for i := range m.MetadataProps {
		b = appendMessage(b, 14, encodeEntry(&m.MetadataProps[i]))
	}
	return b
}

// WriteFile encodes m and replaces path with it. The bytes go to a
// temporary file in the same directory first, so path never holds a
// partial model.
func WriteFile(path string, m *ModelProto) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(Encode(m)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync model: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model: %w", err)
	}
	//nolint:gosec // G302: the artifact is read by an inference server
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessage writes an embedded message, even an empty one.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendInt64s(b []byte, num protowire.Number, vs []int64) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement
	}
	return b
}

func appendFloat32(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func encodeGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, encodeNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, encodeTensor(&g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, encodeValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, encodeValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, encodeValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func encodeNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		// Empty names mark omitted optional inputs and must be kept.
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, encodeAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func encodeAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	if a.Type == AttributeProtoFloat {
		b = appendFloat32(b, 2, a.F)
	}
	if a.Type == AttributeProtoInt {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: two's complement
	}
	b = appendBytes(b, 4, a.S)
	for _, f := range a.Floats {
		b = appendFloat32(b, 7, f)
	}
	b = appendInt64s(b, 8, a.Ints)
	b = appendString(b, 13, a.DocString)
	return appendVarint(b, 20, int64(a.Type))
}

func encodeTensor(t *TensorProto) []byte {
	var b []byte
	b = appendInt64s(b, 1, t.Dims)
	b = appendVarint(b, 2, int64(t.DataType))
	for _, f := range t.FloatData {
		b = appendFloat32(b, 4, f)
	}
	b = appendInt64s(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	b = appendBytes(b, 9, t.RawData)
	return appendString(b, 12, t.DocString)
}

func encodeValueInfo(v *ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, v.Name)
	if v.Type != nil {
		b = appendMessage(b, 2, encodeType(v.Type))
	}
	return appendString(b, 3, v.DocString)
}

func encodeType(t *TypeProto) []byte {
	if t.TensorType == nil {
		return nil
	}
	var tt []byte
	tt = appendVarint(tt, 1, int64(t.TensorType.ElemType))
	if s := t.TensorType.Shape; s != nil {
		var shape []byte
		for _, d := range s.Dims {
			var dim []byte
			if d.DimParam != "" {
				dim = appendString(dim, 2, d.DimParam)
			} else {
				dim = protowire.AppendTag(dim, 1, protowire.VarintType)
				dim = protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: dims are non-negative
			}
			shape = appendMessage(shape, 1, dim)
		}
		tt = appendMessage(tt, 2, shape)
	}
	return appendMessage(nil, 1, tt)
}

func encodeOpset(o *OperatorSetID) []byte {
	b := appendString(nil, 1, o.Domain)
	return appendVarint(b, 2, o.Version)
}

func encodeEntry(e *StringStringEntry) []byte {
	b := appendString(nil, 1, e.Key)
	return appendString(b, 2, e.Value)
}
