package graph

import "github.com/sbl8/infergraph/errs"

// TopoSort returns node ids in a valid execution order using Kahn's
// algorithm. Ties (multiple nodes simultaneously ready) are broken by
// insertion order, so the result is deterministic for a fixed build
// sequence. Fails if the graph contains a cycle.
func (g *Graph) TopoSort() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = 0
	}
	for id, n := range g.Nodes {
		seenProducers := make(map[NodeID]bool)
		for _, inVal := range n.Inputs {
			v, ok := g.Values[inVal]
			if !ok || v.Producer == 0 {
				continue
			}
			if seenProducers[v.Producer] {
				continue
			}
			seenProducers[v.Producer] = true
			inDegree[id]++
		}
	}

	// ready is scanned in insertion order every round rather than using a
	// FIFO queue, so a node that becomes ready later in the same pass is
	// still ordered after earlier-inserted nodes that became ready first.
	visited := make(map[NodeID]bool, len(g.Nodes))
	order := make([]NodeID, 0, len(g.Nodes))

	for len(order) < len(g.Nodes) {
		progressed := false
		for _, id := range g.insertOrder {
			if visited[id] {
				continue
			}
			if inDegree[id] != 0 {
				continue
			}
			visited[id] = true
			order = append(order, id)
			progressed = true
			decremented := make(map[NodeID]bool)
			for _, out := range g.Nodes[id].Outputs {
				v := g.Values[out]
				for _, consumer := range v.Consumers {
					if decremented[consumer] {
						continue
					}
					decremented[consumer] = true
					inDegree[consumer]--
				}
			}
		}
		if !progressed {
			return nil, errs.New(errs.InvalidModel, "graph: cycle detected during topological sort")
		}
	}
	return order, nil
}
