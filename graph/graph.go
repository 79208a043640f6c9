// Package graph implements the data-flow graph intermediate representation:
// nodes, values, attributes, topological ordering, validation, cloning, and
// DOT/binary export.
package graph

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// ValueID and NodeID are the graph's integer identity space. Zero is never
// assigned; it is reserved to mean "no producer" on a Value.
type ValueID uint32
type NodeID uint32

// Value is a graph edge: optional name, shape, dtype, optional constant
// tensor (for initializers), producer node id (0 if none), and the ordered
// set of consumer node ids.
type Value struct {
	ID        ValueID
	Name      string
	Shape     types.Shape
	DType     types.DataType
	Constant  *tensor.Tensor
	Producer  NodeID
	Consumers []NodeID
}

// IsInitializer reports whether the value is a bound constant with no
// producing node.
func (v *Value) IsInitializer() bool {
	return v.Producer == 0 && v.Constant != nil
}

// Node is (op-type, optional name, ordered inputs, ordered outputs,
// attribute map, assigned device).
type Node struct {
	ID      NodeID
	OpType  string
	Name    string
	Inputs  []ValueID
	Outputs []ValueID
	Attrs   map[string]Attribute
	Device  types.Device
}

// Attr looks up an attribute by key, reporting whether it was present.
func (n *Node) Attr(key string) (Attribute, bool) {
	a, ok := n.Attrs[key]
	return a, ok
}

// Graph owns a set of nodes and values and an ordered list of graph inputs
// and outputs (both referencing owned values).
type Graph struct {
	Nodes  map[NodeID]*Node
	Values map[ValueID]*Value
	Inputs []ValueID
	Outputs []ValueID

	nextNodeID  NodeID
	nextValueID ValueID
	// insertOrder records node insertion sequence so topological sort can
	// break ties deterministically.
	insertOrder []NodeID
}

// New returns an empty, mutable graph.
func New() *Graph {
	return &Graph{
		Nodes:  make(map[NodeID]*Node),
		Values: make(map[ValueID]*Value),
	}
}

// AddValue inserts a new value and returns its id.
func (g *Graph) AddValue(name string, shape types.Shape, dtype types.DataType) ValueID {
	g.nextValueID++
	id := g.nextValueID
	g.Values[id] = &Value{ID: id, Name: name, Shape: shape, DType: dtype}
	return id
}

// AddInitializer inserts a constant-bound value with no producer.
func (g *Graph) AddInitializer(name string, t tensor.Tensor) ValueID {
	g.nextValueID++
	id := g.nextValueID
	tc := t
	g.Values[id] = &Value{ID: id, Name: name, Shape: t.Shape(), DType: t.DType(), Constant: &tc}
	return id
}

// AddNode inserts a node, wiring producer/consumer edges on the referenced
// values. Outputs must not already have a producer.
func (g *Graph) AddNode(opType, name string, inputs, outputs []ValueID, attrs map[string]Attribute, device types.Device) (NodeID, error) {
	for _, out := range outputs {
		v, ok := g.Values[out]
		if !ok {
			return 0, errs.Newf(errs.InvalidArgument, "graph: AddNode output value %d does not exist", out)
		}
		if v.Producer != 0 {
			return 0, errs.Newf(errs.InvalidArgument, "graph: value %d already has a producer", out)
		}
	}
	for _, in := range inputs {
		if _, ok := g.Values[in]; !ok {
			return 0, errs.Newf(errs.InvalidArgument, "graph: AddNode input value %d does not exist", in)
		}
	}
	if attrs == nil {
		attrs = make(map[string]Attribute)
	}
	g.nextNodeID++
	id := g.nextNodeID
	n := &Node{
		ID:      id,
		OpType:  opType,
		Name:    name,
		Inputs:  append([]ValueID(nil), inputs...),
		Outputs: append([]ValueID(nil), outputs...),
		Attrs:   attrs,
		Device:  device,
	}
	g.Nodes[id] = n
	g.insertOrder = append(g.insertOrder, id)

	for _, out := range outputs {
		g.Values[out].Producer = id
	}
	for _, in := range inputs {
		v := g.Values[in]
		v.Consumers = append(v.Consumers, id)
	}
	return id, nil
}

// RemoveNode detaches a node from the values it produced/consumed and
// deletes it. It does not delete the values themselves.
func (g *Graph) RemoveNode(id NodeID) error {
	n, ok := g.Nodes[id]
	if !ok {
		return errs.Newf(errs.NotFound, "graph: node %d not found", id)
	}
	for _, out := range n.Outputs {
		if v, ok := g.Values[out]; ok {
			v.Producer = 0
		}
	}
	for _, in := range n.Inputs {
		if v, ok := g.Values[in]; ok {
			v.Consumers = removeID(v.Consumers, id)
		}
	}
	delete(g.Nodes, id)
	for i, nid := range g.insertOrder {
		if nid == id {
			g.insertOrder = append(g.insertOrder[:i], g.insertOrder[i+1:]...)
			break
		}
	}
	return nil
}

func removeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// RemoveValue deletes a value with no remaining producer or consumers.
func (g *Graph) RemoveValue(id ValueID) error {
	v, ok := g.Values[id]
	if !ok {
		return errs.Newf(errs.NotFound, "graph: value %d not found", id)
	}
	if v.Producer != 0 || len(v.Consumers) != 0 {
		return errs.Newf(errs.InvalidArgument, "graph: value %d still has a producer or consumers", id)
	}
	delete(g.Values, id)
	return nil
}

// NodeByName returns the first node (by insertion order) whose Name
// matches, or nil if none match. Names need not be unique.
func (g *Graph) NodeByName(name string) *Node {
	for _, id := range g.insertOrder {
		if n := g.Nodes[id]; n.Name == name {
			return n
		}
	}
	return nil
}

// ValueByName returns the first value (by ascending id) whose Name matches,
// or nil if none match.
func (g *Graph) ValueByName(name string) *Value {
	for id := ValueID(1); id <= g.nextValueID; id++ {
		if v, ok := g.Values[id]; ok && v.Name == name {
			return v
		}
	}
	return nil
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// ValueCount returns the number of live values.
func (g *Graph) ValueCount() int { return len(g.Values) }
