package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ReadFile parses an ONNX model from file.
func ReadFile(path string) (*ModelProto, error) {
	//nolint:gosec // G304: artifact path is chosen by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Decode(data)
}

// Decode parses an ONNX model from bytes. Unknown fields are skipped.
func Decode(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := decodeModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// fieldFunc handles one field; it returns the number of bytes consumed.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the fields of a message.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func varint(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v) //nolint:gosec // G115: protobuf int64 is two's complement
	return n, nil
}

func int32Field(typ protowire.Type, b []byte, dst *int32) (int, error) {
	var v int64
	n, err := varint(typ, b, &v)
	*dst = int32(v) //nolint:gosec // G115: enum values fit in int32
	return n, err
}

func bytesField(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func stringField(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := bytesField(typ, b)
	*dst = string(v)
	return n, err
}

func appendStringField(typ protowire.Type, b []byte, dst *[]string) (int, error) {
	var s string
	n, err := stringField(typ, b, &s)
	if err == nil {
		*dst = append(*dst, s)
	}
	return n, err
}

// message decodes an embedded message with decode and passes it to add.
func message[T any](typ protowire.Type, b []byte, decode func([]byte, *T) error, add func(T)) (int, error) {
	v, n, err := bytesField(typ, b)
	if err != nil {
		return 0, err
	}
	var msg T
	if err := decode(v, &msg); err != nil {
		return 0, err
	}
	add(msg)
	return n, nil
}

// int64s decodes a repeated int64 field in packed or unpacked form.
func int64s(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	if typ == protowire.VarintType {
		var v int64
		n, err := varint(typ, b, &v)
		if err == nil {
			*dst = append(*dst, v)
		}
		return n, err
	}

	packed, n, err := bytesField(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, int64(v)) //nolint:gosec // G115: two's complement
		packed = packed[m:]
	}
	return n, nil
}

// float32s decodes a repeated float field in packed or unpacked form.
func float32s(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*dst = append(*dst, math.Float32frombits(v))
		return n, nil
	}

	packed, n, err := bytesField(typ, b)
	if err != nil {
		return 0, err
	}
	if len(packed)%4 != 0 {
		return 0, fmt.Errorf("packed floats: %d bytes", len(packed))
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		*dst = append(*dst, math.Float32frombits(v))
		packed = packed[m:]
	}
	return n, nil
}

func decodeModel(b []byte, m *ModelProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return varint(typ, b, &m.IRVersion)
		case 2:
			return stringField(typ, b, &m.ProducerName)
		case 3:
			return stringField(typ, b, &m.ProducerVersion)
		case 4:
			return stringField(typ, b, &m.Domain)
		case 5:
			return varint(typ, b, &m.ModelVersion)
		case 6:
			return stringField(typ, b, &m.DocString)
		case 7:
			return message(typ, b, decodeGraph, func(g GraphProto) { m.Graph = &g })
		case 8:
			return message(typ, b, decodeOpset, func(o OperatorSetID) { m.OpsetImport = append(m.OpsetImport, o) })
		case 14:
			return message(typ, b, decodeEntry, func(e StringStringEntry) { m.MetadataProps = append(m.MetadataProps, e) })
		}
		return 0, nil
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return message(typ, b, decodeNode, func(n NodeProto) { g.Nodes = append(g.Nodes, n) })
		case 2:
			return stringField(typ, b, &g.Name)
		case 5:
			return message(typ, b, decodeTensor, func(t TensorProto) { g.Initializers = append(g.Initializers, t) })
		case 10:
			return stringField(typ, b, &g.DocString)
		case 11:
			return message(typ, b, decodeValueInfo, func(v ValueInfoProto) { g.Inputs = append(g.Inputs, v) })
		case 12:
			return message(typ, b, decodeValueInfo, func(v ValueInfoProto) { g.Outputs = append(g.Outputs, v) })
		case 13:
			return message(typ, b, decodeValueInfo, func(v ValueInfoProto) { g.ValueInfo = append(g.ValueInfo, v) })
		}
		return 0, nil
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return appendStringField(typ, b, &n.Inputs)
		case 2:
			return appendStringField(typ, b, &n.Outputs)
		case 3:
			return stringField(typ, b, &n.Name)
		case 4:
			return stringField(typ, b, &n.OpType)
		case 5:
			return message(typ, b, decodeAttribute, func(a AttributeProto) { n.Attributes = append(n.Attributes, a) })
		case 6:
			return stringField(typ, b, &n.DocString)
		case 7:
			return stringField(typ, b, &n.Domain)
		}
		return 0, nil
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return int64s(typ, b, &t.Dims)
		case 2:
			return int32Field(typ, b, &t.DataType)
		case 4:
			return float32s(typ, b, &t.FloatData)
		case 7:
			return int64s(typ, b, &t.Int64Data)
		case 8:
			return stringField(typ, b, &t.Name)
		case 9:
			v, n, err := bytesField(typ, b)
			t.RawData = v
			return n, err
		case 12:
			return stringField(typ, b, &t.DocString)
		}
		return 0, nil
	})
}

func decodeValueInfo(b []byte, v *ValueInfoProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &v.Name)
		case 2:
			return message(typ, b, decodeType, func(t TypeProto) { v.Type = &t })
		case 3:
			return stringField(typ, b, &v.DocString)
		}
		return 0, nil
	})
}

func decodeType(b []byte, t *TypeProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return message(typ, b, decodeTensorType, func(tt TensorTypeProto) { t.TensorType = &tt })
		}
		return 0, nil
	})
}

func decodeTensorType(b []byte, t *TensorTypeProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return int32Field(typ, b, &t.ElemType)
		case 2:
			return message(typ, b, decodeShape, func(s TensorShapeProto) { t.Shape = &s })
		}
		return 0, nil
	})
}

func decodeShape(b []byte, s *TensorShapeProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return message(typ, b, decodeDim, func(d DimensionProto) { s.Dims = append(s.Dims, d) })
		}
		return 0, nil
	})
}

func decodeDim(b []byte, d *DimensionProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return varint(typ, b, &d.DimValue)
		case 2:
			return stringField(typ, b, &d.DimParam)
		}
		return 0, nil
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &a.Name)
		case 2:
			var fs []float32
			n, err := float32s(typ, b, &fs)
			if len(fs) > 0 {
				a.F = fs[0]
			}
			return n, err
		case 3:
			return varint(typ, b, &a.I)
		case 4:
			v, n, err := bytesField(typ, b)
			a.S = v
			return n, err
		case 7:
			return float32s(typ, b, &a.Floats)
		case 8:
			return int64s(typ, b, &a.Ints)
		case 13:
			return stringField(typ, b, &a.DocString)
		case 20:
			return int32Field(typ, b, &a.Type)
		}
		return 0, nil
	})
}

func decodeOpset(b []byte, o *OperatorSetID) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &o.Domain)
		case 2:
			return varint(typ, b, &o.Version)
		}
		return 0, nil
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &e.Key)
		case 2:
			return stringField(typ, b, &e.Value)
		}
		return 0, nil
	})
}
