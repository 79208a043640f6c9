package optimizer

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// constantFoldingPass replaces each single-output node with a registered
// kernel whose inputs are all constants with a single initializer value
// carrying the precomputed result,
// executed once with a CPU kernel context.
type constantFoldingPass struct {
	reg *operator.Registry
}

func newConstantFoldingPass(reg *operator.Registry) *constantFoldingPass {
	return &constantFoldingPass{reg: reg}
}

func (p *constantFoldingPass) Name() string          { return "constant_folding" }
func (p *constantFoldingPass) Dependencies() []string { return []string{"shape_inference"} }
func (p *constantFoldingPass) IsRepeatable() bool     { return true }

func (p *constantFoldingPass) Run(g *graph.Graph) (bool, error) {
	order, err := g.TopoSort()
	if err != nil {
		return false, err
	}
	changed := false
	for _, id := range order {
		n, ok := g.Nodes[id]
		if !ok {
			continue
		}
		if len(n.Outputs) != 1 {
			continue
		}
		inputs, allConst := gatherConstants(g, n.Inputs)
		if !allConst {
			continue
		}
		op, err := p.reg.Create(n.OpType)
		if err != nil {
			continue
		}
		if err := op.ValidateInputs(inputs, n.Attrs); err != nil {
			continue
		}
		shapes, err := op.InferOutputShapes(inputs, n.Attrs)
		if err != nil || len(shapes) != 1 {
			continue
		}
		out, err := tensor.New(shapes[0], outputDType(g, n), types.CPUDevice)
		if err != nil {
			return false, errs.Wrap(errs.RuntimeError, err, "constant_folding: output allocation")
		}
		execCtx := operator.ExecContext{Attrs: n.Attrs, Device: types.CPUDevice}
		if err := op.Execute(inputs, []tensor.Tensor{out}, execCtx); err != nil {
			return false, errs.Wrapf(errs.RuntimeError, err, "constant_folding: node %q", n.Name)
		}

		outValue := g.Values[n.Outputs[0]]
		outValue.Constant = &out
		outValue.Shape = shapes[0]

		if err := g.RemoveNode(n.ID); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

func gatherConstants(g *graph.Graph, inputs []graph.ValueID) ([]tensor.Tensor, bool) {
	out := make([]tensor.Tensor, len(inputs))
	for i, vid := range inputs {
		v := g.Values[vid]
		if v.Constant == nil {
			return nil, false
		}
		out[i] = *v.Constant
	}
	return out, true
}

func outputDType(g *graph.Graph, n *graph.Node) types.DataType {
	return g.Values[n.Outputs[0]].DType
}
