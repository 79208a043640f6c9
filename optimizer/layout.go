package optimizer

import "github.com/sbl8/infergraph/graph"

// layoutPass elides adjacent inverse Transpose pairs left behind by a
// provider's layout preference (or by a user-authored graph). Transpose
// insertion for a non-default target layout is a provider concern,
// performed by Provider.OptimizeGraph, which the session calls after the
// pass pipeline has run; there is
// nothing for a CPU-only pipeline to insert, so this pass only cleans up.
type layoutPass struct{}

func newLayoutPass() *layoutPass { return &layoutPass{} }

func (p *layoutPass) Name() string          { return "layout_optimization" }
func (p *layoutPass) Dependencies() []string { return []string{"operator_fusion"} }
func (p *layoutPass) IsRepeatable() bool     { return true }

func (p *layoutPass) Run(g *graph.Graph) (bool, error) {
	for _, n := range snapshotNodes(g) {
		node, ok := g.Nodes[n.ID]
		if !ok || node.OpType != "Transpose" || len(node.Outputs) != 1 {
			continue
		}
		next, ok := soleConsumer(g, node.Outputs[0], "Transpose")
		if !ok || len(next.Outputs) != 1 {
			continue
		}
		if !permsAreInverse(node.Attrs["perm"].Ints, next.Attrs["perm"].Ints, node.Inputs[0], g) {
			continue
		}

		source := node.Inputs[0]
		finalOut := next.Outputs[0]
		if err := g.RemoveNode(next.ID); err != nil {
			return false, err
		}
		if err := g.RemoveNode(node.ID); err != nil {
			return false, err
		}
		redirectConsumers(g, finalOut, source)
		replaceGraphOutput(g, finalOut, source)
		if err := g.RemoveValue(finalOut); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// permsAreInverse reports whether applying permA then permB restores the
// original element order, inferring the default (reversed) permutation
// from the source value's rank when an attribute is absent.
func permsAreInverse(permA, permB []int64, source graph.ValueID, g *graph.Graph) bool {
	rank := g.Values[source].Shape.Rank()
	if len(permA) != rank {
		permA = defaultReversePerm(rank)
	}
	if len(permB) != rank {
		permB = defaultReversePerm(rank)
	}
	for i := 0; i < rank; i++ {
		if permB[permA[i]] != int64(i) {
			return false
		}
	}
	return true
}

func defaultReversePerm(rank int) []int64 {
	perm := make([]int64, rank)
	for i := range perm {
		perm[i] = int64(rank - 1 - i)
	}
	return perm
}
