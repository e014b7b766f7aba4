package onnx

// ONNX protobuf data structures, limited to the fields a float32 inference
// graph uses. Field numbers follow onnx.proto3.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7
	OpsetImport     []OperatorSetID     // 8
	MetadataProps   []StringStringEntry // 14
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5
	DocString    string           // 10
	Inputs       []ValueInfoProto // 11
	Outputs      []ValueInfoProto // 12
	ValueInfo    []ValueInfoProto // 13
}

// NodeProto represents a single operation.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Dims      []int64   // 1
	DataType  int32     // 2
	FloatData []float32 // 4
	Int64Data []int64   // 7
	Name      string    // 8
	RawData   []byte    // 9
	DocString string    // 12
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2
	DocString string     // 3
}

// TypeProto describes a value type. Only tensor types are supported.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto describes a single dimension.
type DimensionProto struct {
	DimValue int64  // 1, static size
	DimParam string // 2, symbolic name of a dynamic size
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string    // 1
	F         float32   // 2
	I         int64     // 3
	S         []byte    // 4
	Floats    []float32 // 7
	Ints      []int64   // 8
	DocString string    // 13
	Type      int32     // 20
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // 1, empty for the default domain
	Version int64  // 2
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1 // float32
	TensorProtoInt64     = 7 // int64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1 // FLOAT
	AttributeProtoInt       = 2 // INT
	AttributeProtoString    = 3 // STRING
	AttributeProtoFloats    = 6 // FLOATS
	AttributeProtoInts      = 7 // INTS
)
