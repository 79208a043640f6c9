package optimizer

import "github.com/sbl8/infergraph/graph"

// deadCodePass removes nodes not reachable (by producing a value that
// feeds forward into) any graph output, then removes values left with
// neither a producer nor a consumer.
type deadCodePass struct{}

func newDeadCodePass() *deadCodePass { return &deadCodePass{} }

func (p *deadCodePass) Name() string          { return "dead_code_elimination" }
func (p *deadCodePass) Dependencies() []string { return []string{"shape_inference"} }
func (p *deadCodePass) IsRepeatable() bool     { return true }

func (p *deadCodePass) Run(g *graph.Graph) (bool, error) {
	live := make(map[graph.NodeID]bool)
	visited := make(map[graph.ValueID]bool)

	var visitValue func(id graph.ValueID)
	visitValue = func(id graph.ValueID) {
		if visited[id] {
			return
		}
		visited[id] = true
		v, ok := g.Values[id]
		if !ok || v.Producer == 0 {
			return
		}
		if live[v.Producer] {
			return
		}
		live[v.Producer] = true
		n, ok := g.Nodes[v.Producer]
		if !ok {
			return
		}
		for _, in := range n.Inputs {
			visitValue(in)
		}
	}
	for _, out := range g.Outputs {
		visitValue(out)
	}

	changed := false
	for id := range g.Nodes {
		if !live[id] {
			if err := g.RemoveNode(id); err != nil {
				return false, err
			}
			changed = true
		}
	}

	isGraphIO := make(map[graph.ValueID]bool, len(g.Inputs)+len(g.Outputs))
	for _, id := range g.Inputs {
		isGraphIO[id] = true
	}
	for _, id := range g.Outputs {
		isGraphIO[id] = true
	}
	for id, v := range g.Values {
		if isGraphIO[id] {
			continue
		}
		if v.Producer == 0 && len(v.Consumers) == 0 {
			if err := g.RemoveValue(id); err != nil {
				return false, err
			}
			changed = true
		}
	}
	return changed, nil
}
