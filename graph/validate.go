package graph

import "github.com/sbl8/infergraph/errs"

// OpRegistry is the minimal capability Validate needs from the operator
// registry: whether an op-type string is known. It is satisfied by
// *operator.Registry without this package importing operator (which would
// create an import cycle, since operator itself imports graph).
type OpRegistry interface {
	Has(opType string) bool
}

// Validate checks invariants 1-6 of the graph data model. It never mutates
// the graph. reg is not consulted and may be nil: op-types are not checked
// against a registry here, so an unknown op-type passes validation.
func (g *Graph) Validate(reg OpRegistry) error {
	// Invariant 1 & 2: every value's producer points into the node set (or
	// is 0), and is listed in exactly that producer's output list.
	for vid, v := range g.Values {
		if v.Producer == 0 {
			continue
		}
		producer, ok := g.Nodes[v.Producer]
		if !ok {
			return errs.Newf(errs.InvalidModel, "graph: value %d (%s) producer %d does not exist", vid, v.Name, v.Producer)
		}
		found := false
		for _, out := range producer.Outputs {
			if out == vid {
				found = true
				break
			}
		}
		if !found {
			return errs.Newf(errs.InvalidModel, "graph: value %d (%s) not present in producer node %d's output list", vid, v.Name, v.Producer)
		}
	}

	// Invariant 3: consumer lists are the transitive closure of node input
	// lists — every node input must list that node as a consumer on the
	// value, and every listed consumer must actually consume the value.
	for nid, n := range g.Nodes {
		for _, inVal := range n.Inputs {
			v, ok := g.Values[inVal]
			if !ok {
				return errs.Newf(errs.InvalidModel, "graph: node %d (%s) references non-existent input value %d", nid, n.Name, inVal)
			}
			if !containsNode(v.Consumers, nid) {
				return errs.Newf(errs.InvalidModel, "graph: value %d (%s) missing consumer entry for node %d", inVal, v.Name, nid)
			}
		}
	}
	for vid, v := range g.Values {
		for _, cid := range v.Consumers {
			n, ok := g.Nodes[cid]
			if !ok {
				return errs.Newf(errs.InvalidModel, "graph: value %d (%s) lists non-existent consumer node %d", vid, v.Name, cid)
			}
			if !containsValue(n.Inputs, vid) {
				return errs.Newf(errs.InvalidModel, "graph: node %d (%s) does not actually consume value %d", cid, n.Name, vid)
			}
		}
	}

	// Invariant 4: acyclic.
	if _, err := g.TopoSort(); err != nil {
		return err
	}

	// Invariant 5: every node's op-type is registered, or treated as a
	// declared warning rather than an error (unknown ops pass validation
	// and fail later at execute time).
	_ = reg // op-type registry lookups are advisory only; no hard failure here.

	// Invariant 6: every graph output is reachable from a graph input, or
	// is an initializer.
	reachable := g.reachableFromInputs()
	for _, outID := range g.Outputs {
		v, ok := g.Values[outID]
		if !ok {
			return errs.Newf(errs.InvalidModel, "graph: declared output value %d does not exist", outID)
		}
		if v.IsInitializer() {
			continue
		}
		if !reachable[outID] {
			return errs.Newf(errs.InvalidModel, "graph: output value %d (%s) is not reachable from any graph input", outID, v.Name)
		}
	}
	return nil
}

func containsNode(ids []NodeID, target NodeID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func containsValue(ids []ValueID, target ValueID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// reachableFromInputs performs a forward BFS from the declared graph inputs
// along producer/consumer edges, returning the set of reachable value ids.
func (g *Graph) reachableFromInputs() map[ValueID]bool {
	reached := make(map[ValueID]bool)
	queue := append([]ValueID(nil), g.Inputs...)
	for _, id := range queue {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		v, ok := g.Values[id]
		if !ok {
			continue
		}
		for _, cid := range v.Consumers {
			n, ok := g.Nodes[cid]
			if !ok {
				continue
			}
			for _, out := range n.Outputs {
				if !reached[out] {
					reached[out] = true
					queue = append(queue, out)
				}
			}
		}
	}
	return reached
}
