package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/tensor"
)

// Versions written by FromGraph.
const (
	IRVersion    = 8
	OpsetVersion = 17
	ProducerName = "tsexport"
)

// ErrUnsupported is returned for models outside the subset this package
// can execute: foreign operator domains, non-float data, unknown attribute
// types, or data-dependent shape inputs.
var ErrUnsupported = errors.New("unsupported ONNX construct")

// ExportOptions carries model-level fields for FromGraph.
type ExportOptions struct {
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// shapeInputs lists, per operator, the attributes that opset 13+ takes as
// int64 tensor inputs instead, in input order after the data input.
var shapeInputs = map[string][]string{
	"Reshape": {"shape"},
	"Slice":   {"starts", "ends", "axes", "steps"},
}

// FromGraph converts g into an ONNX model. Nodes are emitted in
// topological order and initializers sorted by name.
func FromGraph(g *graph.Graph, opts ExportOptions) (*ModelProto, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	gp := &GraphProto{Name: g.Name}
	taken := make(map[string]bool, len(g.Initializers))
	for _, name := range g.InitializerNames() {
		taken[name] = true
		gp.Initializers = append(gp.Initializers, floatTensor(name, g.Initializers[name]))
	}
	for _, in := range g.Inputs {
		taken[in.Name] = true
		gp.Inputs = append(gp.Inputs, valueInfo(in))
	}
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			taken[out] = true
		}
	}

	for _, idx := range order {
		n := &g.Nodes[idx]
		np := NodeProto{
			Name:    n.Name,
			OpType:  n.OpType,
			Inputs:  append([]string(nil), n.Inputs...),
			Outputs: append([]string(nil), n.Outputs...),
		}

		moved := shapeInputs[n.OpType]
		for i := range n.Attributes {
			a := &n.Attributes[i]
			if pos := indexOf(moved, a.Name); pos >= 0 {
				continue
			}
			np.Attributes = append(np.Attributes, AttributeProto{
				Name: a.Name,
				Type: a.Type,
				F:    a.F,
				I:    a.I,
				Ints: append([]int64(nil), a.Ints...),
			})
		}

		if moved != nil {
			inputs, consts, err := attrsToInputs(n, moved, taken)
			if err != nil {
				return nil, err
			}
			np.Inputs = append(np.Inputs, inputs...)
			gp.Initializers = append(gp.Initializers, consts...)
		}
		gp.Nodes = append(gp.Nodes, np)
	}

	for _, out := range g.Outputs {
		gp.Outputs = append(gp.Outputs, valueInfo(out))
	}

	m := &ModelProto{
		IRVersion:       IRVersion,
		ProducerName:    ProducerName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.DocString,
		Graph:           gp,
		OpsetImport:     []OperatorSetID{{Version: OpsetVersion}},
	}
	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.MetadataProps = append(m.MetadataProps, StringStringEntry{Key: k, Value: opts.Metadata[k]})
	}
	return m, nil
}

// attrsToInputs turns the named attributes of n into int64 initializers
// called <node>_<attr>. Trailing absent attributes are dropped; absent ones
// before a present one become empty optional inputs.
func attrsToInputs(n *graph.Node, names []string, taken map[string]bool) ([]string, []TensorProto, error) {
	last := -1
	for i, name := range names {
		if n.AttrInts(name) != nil {
			last = i
		}
	}
	if last < 0 {
		return nil, nil, fmt.Errorf("%w: node %s (%s) has no %s", graph.ErrInvalidGraph, n.Name, n.OpType, names[0])
	}

	inputs := make([]string, 0, last+1)
	var consts []TensorProto
	for _, name := range names[:last+1] {
		values := n.AttrInts(name)
		if values == nil {
			inputs = append(inputs, "")
			continue
		}
		cname := n.Name + "_" + name
		if taken[cname] {
			return nil, nil, fmt.Errorf("%w: constant name %q already in use", graph.ErrInvalidGraph, cname)
		}
		taken[cname] = true
		inputs = append(inputs, cname)
		consts = append(consts, TensorProto{
			Name:      cname,
			DataType:  TensorProtoInt64,
			Dims:      []int64{int64(len(values))},
			Int64Data: append([]int64(nil), values...),
		})
	}
	return inputs, consts, nil
}

func floatTensor(name string, t *tensor.RawTensor) TensorProto {
	dims := make([]int64, t.Rank())
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return TensorProto{
		Name:     name,
		DataType: TensorProtoFloat,
		Dims:     dims,
		RawData:  t.Bytes(),
	}
}

func valueInfo(v graph.ValueInfo) ValueInfoProto {
	shape := &TensorShapeProto{Dims: make([]DimensionProto, len(v.Shape))}
	for i, d := range v.Shape {
		if d.Param != "" {
			shape.Dims[i] = DimensionProto{DimParam: d.Param}
		} else {
			shape.Dims[i] = DimensionProto{DimValue: int64(d.Value)}
		}
	}
	return ValueInfoProto{
		Name: v.Name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: TensorProtoFloat, Shape: shape}},
	}
}

// ToGraph converts an ONNX model back into a graph. int64 initializers
// feeding Reshape and Slice become node attributes again. Dynamic
// dimensions get size 1 as their nominal value.
func ToGraph(m *ModelProto) (*graph.Graph, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", graph.ErrInvalidGraph)
	}
	if v := m.Opset(""); v != 0 && v < 13 {
		return nil, fmt.Errorf("%w: opset %d, need 13 or later", ErrUnsupported, v)
	}

	gp := m.Graph
	g := graph.New(gp.Name)
	ints := make(map[string][]int64)
	for i := range gp.Initializers {
		tp := &gp.Initializers[i]
		switch tp.DataType {
		case TensorProtoFloat:
			t, err := decodeFloatTensor(tp)
			if err != nil {
				return nil, err
			}
			g.Initializers[tp.Name] = t
		case TensorProtoInt64:
			values, err := decodeInt64Tensor(tp)
			if err != nil {
				return nil, err
			}
			ints[tp.Name] = values
		default:
			return nil, fmt.Errorf("%w: initializer %s has data type %d", ErrUnsupported, tp.Name, tp.DataType)
		}
	}

	for i := range gp.Inputs {
		if _, ok := g.Initializers[gp.Inputs[i].Name]; ok {
			// IR < 4 lists initializers among the inputs.
			continue
		}
		v, err := fromValueInfo(&gp.Inputs[i])
		if err != nil {
			return nil, err
		}
		g.Inputs = append(g.Inputs, v)
	}
	for i := range gp.Outputs {
		v, err := fromValueInfo(&gp.Outputs[i])
		if err != nil {
			return nil, err
		}
		g.Outputs = append(g.Outputs, v)
	}

	used := make(map[string]bool)
	for i := range gp.Nodes {
		n, err := fromNode(&gp.Nodes[i], ints, used)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	for name := range ints {
		if !used[name] {
			return nil, fmt.Errorf("%w: int64 initializer %s used as data", ErrUnsupported, name)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func fromNode(np *NodeProto, ints map[string][]int64, used map[string]bool) (graph.Node, error) {
	if np.Domain != "" && np.Domain != "ai.onnx" {
		return graph.Node{}, fmt.Errorf("%w: node %s uses domain %s", ErrUnsupported, np.Name, np.Domain)
	}
	if len(np.Outputs) != 1 {
		return graph.Node{}, fmt.Errorf("%w: node %s has %d outputs", ErrUnsupported, np.Name, len(np.Outputs))
	}

	n := graph.Node{
		Name:    np.Name,
		OpType:  np.OpType,
		Outputs: append([]string(nil), np.Outputs...),
	}
	for i := range np.Attributes {
		a := &np.Attributes[i]
		switch a.Type {
		case AttributeProtoFloat, AttributeProtoInt, AttributeProtoInts:
		default:
			return graph.Node{}, fmt.Errorf("%w: node %s attribute %s has type %d", ErrUnsupported, np.Name, a.Name, a.Type)
		}
		n.Attributes = append(n.Attributes, graph.Attribute{
			Name: a.Name,
			Type: a.Type,
			F:    a.F,
			I:    a.I,
			Ints: a.Ints,
		})
	}

	moved := shapeInputs[np.OpType]
	if moved == nil {
		n.Inputs = append([]string(nil), np.Inputs...)
		return n, nil
	}
	if len(np.Inputs) == 0 || len(np.Inputs)-1 > len(moved) {
		return graph.Node{}, fmt.Errorf("%w: node %s (%s) has %d inputs", ErrUnsupported, np.Name, np.OpType, len(np.Inputs))
	}

	n.Inputs = []string{np.Inputs[0]}
	for i, name := range np.Inputs[1:] {
		if name == "" {
			continue
		}
		values, ok := ints[name]
		if !ok {
			return graph.Node{}, fmt.Errorf("%w: node %s reads %s from %s, which is not an int64 constant",
				ErrUnsupported, np.Name, moved[i], name)
		}
		used[name] = true
		n.Attributes = append(n.Attributes, graph.Attribute{
			Name: moved[i],
			Type: graph.AttrInts,
			Ints: values,
		})
	}
	return n, nil
}

func fromValueInfo(v *ValueInfoProto) (graph.ValueInfo, error) {
	if v.Type == nil || v.Type.TensorType == nil {
		return graph.ValueInfo{}, fmt.Errorf("%w: value %s is not a tensor", ErrUnsupported, v.Name)
	}
	tt := v.Type.TensorType
	if tt.ElemType != TensorProtoFloat {
		return graph.ValueInfo{}, fmt.Errorf("%w: value %s has element type %d", ErrUnsupported, v.Name, tt.ElemType)
	}

	info := graph.ValueInfo{Name: v.Name}
	if tt.Shape == nil {
		return info, nil
	}
	for _, d := range tt.Shape.Dims {
		if d.DimParam != "" || d.DimValue <= 0 {
			param := d.DimParam
			if param == "" {
				param = "?"
			}
			info.Shape = append(info.Shape, graph.Dim{Value: 1, Param: param})
			continue
		}
		info.Shape = append(info.Shape, graph.Dim{Value: int(d.DimValue)})
	}
	return info, nil
}

func decodeFloatTensor(tp *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		shape[i] = int(d)
	}

	data := tp.FloatData
	if len(tp.RawData) > 0 {
		if len(tp.RawData) != 4*shape.NumElements() {
			return nil, fmt.Errorf("initializer %s: %d raw bytes for shape %v", tp.Name, len(tp.RawData), shape)
		}
		data = make([]float32, shape.NumElements())
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(tp.RawData[4*i:]))
		}
	}

	t, err := tensor.FromSlice(data, shape)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", tp.Name, err)
	}
	return t, nil
}

func decodeInt64Tensor(tp *TensorProto) ([]int64, error) {
	if len(tp.RawData) == 0 {
		return append([]int64{}, tp.Int64Data...), nil
	}
	if len(tp.RawData)%8 != 0 {
		return nil, fmt.Errorf("initializer %s: %d raw bytes for int64 data", tp.Name, len(tp.RawData))
	}
	values := make([]int64, len(tp.RawData)/8)
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(tp.RawData[8*i:])) //nolint:gosec // G115: two's complement
	}
	return values, nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
