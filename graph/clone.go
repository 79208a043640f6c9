package graph

// Clone performs a deep copy: all nodes, values, and attributes are copied
// and internal producer/consumer pointers are rewritten to reference the
// clone's own node and value maps. Constant tensors (Value.Constant and
// AttrTensor attributes) get their own backing storage via
// tensor.Tensor.DeepClone, so mutating a clone's initializer never touches
// the original graph.
func (g *Graph) Clone() *Graph {
	out := New()
	out.nextNodeID = g.nextNodeID
	out.nextValueID = g.nextValueID

	for id, v := range g.Values {
		nv := &Value{
			ID:        v.ID,
			Name:      v.Name,
			Shape:     v.Shape.Clone(),
			DType:     v.DType,
			Producer:  v.Producer,
			Consumers: append([]NodeID(nil), v.Consumers...),
		}
		if v.Constant != nil {
			tc := v.Constant.DeepClone()
			nv.Constant = &tc
		}
		out.Values[id] = nv
	}
	for id, n := range g.Nodes {
		attrs := make(map[string]Attribute, len(n.Attrs))
		for k, a := range n.Attrs {
			if a.Kind == AttrTensor {
				a.Tensor = a.Tensor.DeepClone()
			}
			attrs[k] = a
		}
		out.Nodes[id] = &Node{
			ID:      n.ID,
			OpType:  n.OpType,
			Name:    n.Name,
			Inputs:  append([]ValueID(nil), n.Inputs...),
			Outputs: append([]ValueID(nil), n.Outputs...),
			Attrs:   attrs,
			Device:  n.Device,
		}
	}
	out.Inputs = append([]ValueID(nil), g.Inputs...)
	out.Outputs = append([]ValueID(nil), g.Outputs...)
	out.insertOrder = append([]NodeID(nil), g.insertOrder...)
	return out
}
