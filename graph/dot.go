package graph

import (
	"fmt"

	"github.com/awalterschulze/gographviz"

	"github.com/sbl8/infergraph/errs"
)

// ExportDOT renders the graph as Graphviz DOT source for debugging. Nodes
// are labeled with op-type and name; edges are labeled with the value name
// (or id, if unnamed).
func (g *Graph) ExportDOT() (string, error) {
	gv := gographviz.NewGraph()
	if err := gv.SetName("infergraph"); err != nil {
		return "", errs.Wrap(errs.RuntimeError, err, "graph: ExportDOT SetName")
	}
	if err := gv.SetDir(true); err != nil {
		return "", errs.Wrap(errs.RuntimeError, err, "graph: ExportDOT SetDir")
	}

	for _, id := range g.insertOrder {
		n := g.Nodes[id]
		label := n.OpType
		if n.Name != "" {
			label = fmt.Sprintf("%s\\n%s", n.Name, n.OpType)
		}
		attrs := map[string]string{"label": fmt.Sprintf("%q", label)}
		if err := gv.AddNode("infergraph", nodeDotID(id), attrs); err != nil {
			return "", errs.Wrapf(errs.RuntimeError, err, "graph: ExportDOT AddNode %d", id)
		}
	}

	for vid, v := range g.Values {
		if v.Producer == 0 {
			continue
		}
		src := nodeDotID(v.Producer)
		label := v.Name
		if label == "" {
			label = fmt.Sprintf("v%d", vid)
		}
		edgeAttrs := map[string]string{"label": fmt.Sprintf("%q", label)}
		for _, cid := range v.Consumers {
			if err := gv.AddEdge(src, nodeDotID(cid), true, edgeAttrs); err != nil {
				return "", errs.Wrapf(errs.RuntimeError, err, "graph: ExportDOT AddEdge %d->%d", v.Producer, cid)
			}
		}
	}

	return gv.String(), nil
}

func nodeDotID(id NodeID) string {
	return fmt.Sprintf("n%d", id)
}
