package optimizer

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// shapeInferencePass walks the graph in topological order and invokes each
// node's InferOutputShapes, populating every output value's shape. If any
// input carries a dynamic shape, the outputs are marked dynamic instead of
// invoking the kernel, since no concrete extent is known to infer from.
type shapeInferencePass struct {
	reg *operator.Registry
}

func newShapeInferencePass(reg *operator.Registry) *shapeInferencePass {
	return &shapeInferencePass{reg: reg}
}

func (p *shapeInferencePass) Name() string          { return "shape_inference" }
func (p *shapeInferencePass) Dependencies() []string { return nil }
func (p *shapeInferencePass) IsRepeatable() bool     { return false }

func (p *shapeInferencePass) Run(g *graph.Graph) (bool, error) {
	order, err := g.TopoSort()
	if err != nil {
		return false, err
	}
	changed := false
	for _, id := range order {
		n := g.Nodes[id]
		inputs := make([]tensor.Tensor, len(n.Inputs))
		anyDynamic := false
		for i, vid := range n.Inputs {
			v := g.Values[vid]
			if v.Shape.IsDynamic() {
				anyDynamic = true
				break
			}
			t, err := probeTensor(v)
			if err != nil {
				return false, errs.Wrapf(errs.InvalidModel, err, "shape_inference: node %q input %q", n.Name, v.Name)
			}
			inputs[i] = t
		}

		if anyDynamic {
			for _, vid := range n.Outputs {
				v := g.Values[vid]
				if !v.Shape.IsDynamic() {
					v.Shape = types.NewDynamic(v.Shape.Extents, allTrue(len(v.Shape.Extents)))
					changed = true
				}
			}
			continue
		}

		op, err := p.reg.Create(n.OpType)
		if err != nil {
			// Advisory-only registry: an unknown op-type is skipped here, not
			// fatal; it fails with NotFound when the scheduler dispatches it.
			continue
		}
		shapes, err := op.InferOutputShapes(inputs, n.Attrs)
		if err != nil {
			return false, errs.Wrapf(errs.InvalidModel, err, "shape_inference: node %q", n.Name)
		}
		if len(shapes) != len(n.Outputs) {
			return false, errs.Newf(errs.InvalidModel, "shape_inference: node %q produced %d shapes for %d outputs", n.Name, len(shapes), len(n.Outputs))
		}
		for i, vid := range n.Outputs {
			v := g.Values[vid]
			if !v.Shape.Equal(shapes[i]) {
				v.Shape = shapes[i]
				changed = true
			}
		}
	}
	return changed, nil
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

// probeTensor builds a minimal tensor carrying v's shape/dtype for
// InferOutputShapes/ValidateInputs calls that only read metadata. If v is
// a constant, its real data is reused instead of a fresh allocation.
func probeTensor(v *graph.Value) (tensor.Tensor, error) {
	if v.Constant != nil {
		return *v.Constant, nil
	}
	return tensor.New(v.Shape, v.DType, types.CPUDevice)
}
