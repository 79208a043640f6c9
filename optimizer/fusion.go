package optimizer

import (
	"sort"

	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

func tensorFilled(shape types.Shape, value float32) (tensor.Tensor, error) {
	t, err := tensor.New(shape, types.F32, types.CPUDevice)
	if err != nil {
		return tensor.Tensor{}, err
	}
	if err := t.FillValue(value); err != nil {
		return tensor.Tensor{}, err
	}
	return t, nil
}

// fusionPass pattern-matches and replaces the four required fusion shapes.
// It iterates to a fixed point via IsRepeatable, so later patterns can fire
// on the graph shape left behind by earlier ones.
type fusionPass struct{}

func newFusionPass() *fusionPass { return &fusionPass{} }

func (p *fusionPass) Name() string          { return "operator_fusion" }
func (p *fusionPass) Dependencies() []string { return []string{"dead_code_elimination"} }
func (p *fusionPass) IsRepeatable() bool     { return true }

func (p *fusionPass) Run(g *graph.Graph) (bool, error) {
	for _, n := range snapshotNodes(g) {
		if _, ok := g.Nodes[n.ID]; !ok {
			continue // already consumed by an earlier match this pass
		}
		switch n.OpType {
		case "Conv":
			if ok, err := tryFuseConvBNRelu(g, n); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
			if ok, err := tryFuseConvRelu(g, n); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		case "MatMul":
			if ok, err := tryFuseMatMulAdd(g, n); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		case "BatchNormalization":
			if ok, err := tryFuseBNRelu(g, n); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func snapshotNodes(g *graph.Graph) []*graph.Node {
	out := make([]*graph.Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// soleConsumer returns the single node consuming v's only, only if it has
// exactly one consumer and that consumer has opType as its op-type.
func soleConsumer(g *graph.Graph, vid graph.ValueID, opType string) (*graph.Node, bool) {
	v, ok := g.Values[vid]
	if !ok || len(v.Consumers) != 1 {
		return nil, false
	}
	n, ok := g.Nodes[v.Consumers[0]]
	if !ok || n.OpType != opType {
		return nil, false
	}
	return n, true
}

func tryFuseConvBNRelu(g *graph.Graph, conv *graph.Node) (bool, error) {
	if len(conv.Outputs) != 1 {
		return false, nil
	}
	bn, ok := soleConsumer(g, conv.Outputs[0], "BatchNormalization")
	if !ok || len(bn.Inputs) != 5 || bn.Inputs[0] != conv.Outputs[0] || len(bn.Outputs) != 1 {
		return false, nil
	}
	relu, ok := soleConsumer(g, bn.Outputs[0], "Relu")
	if !ok || len(relu.Outputs) != 1 {
		return false, nil
	}

	inputs := append(append([]graph.ValueID(nil), conv.Inputs...), bn.Inputs[1:]...)
	return replaceWithFused(g, []*graph.Node{conv, bn, relu}, inputs, relu.Outputs[0])
}

func tryFuseConvRelu(g *graph.Graph, conv *graph.Node) (bool, error) {
	if len(conv.Outputs) != 1 {
		return false, nil
	}
	relu, ok := soleConsumer(g, conv.Outputs[0], "Relu")
	if !ok || len(relu.Outputs) != 1 {
		return false, nil
	}
	if len(conv.Inputs) < 2 {
		return false, nil
	}

	weight := g.Values[conv.Inputs[1]]
	channels := weight.Shape.Extents[0]
	scale := synthesizeConstant(g, "fused_scale", channels, 1)
	bias := synthesizeConstant(g, "fused_bias", channels, 0)
	mean := synthesizeConstant(g, "fused_mean", channels, 0)
	variance := synthesizeConstant(g, "fused_var", channels, 1)

	inputs := append(append([]graph.ValueID(nil), conv.Inputs...), scale, bias, mean, variance)
	return replaceWithFused(g, []*graph.Node{conv, relu}, inputs, relu.Outputs[0])
}

func tryFuseMatMulAdd(g *graph.Graph, matmul *graph.Node) (bool, error) {
	if len(matmul.Outputs) != 1 {
		return false, nil
	}
	add, ok := soleConsumer(g, matmul.Outputs[0], "Add")
	if !ok || len(add.Inputs) != 2 || len(add.Outputs) != 1 {
		return false, nil
	}
	var bias graph.ValueID
	switch matmul.Outputs[0] {
	case add.Inputs[0]:
		bias = add.Inputs[1]
	case add.Inputs[1]:
		bias = add.Inputs[0]
	default:
		return false, nil
	}

	inputs := append(append([]graph.ValueID(nil), matmul.Inputs...), bias)
	n, err := g.AddNode("FusedMatMulAdd", matmul.Name+"+"+add.Name, inputs, nil, nil, matmul.Device)
	if err != nil {
		return false, err
	}
	return finishReplace(g, []*graph.Node{matmul, add}, n, add.Outputs[0])
}

// tryFuseBNRelu folds a trailing Relu into its BatchNormalization
// predecessor by setting fused_relu=true rather than synthesizing a new
// fused op-type, per the required fourth pattern.
func tryFuseBNRelu(g *graph.Graph, bn *graph.Node) (bool, error) {
	if _, already := bn.Attr("fused_relu"); already {
		return false, nil
	}
	if len(bn.Outputs) != 1 {
		return false, nil
	}
	relu, ok := soleConsumer(g, bn.Outputs[0], "Relu")
	if !ok || len(relu.Outputs) != 1 {
		return false, nil
	}

	if bn.Attrs == nil {
		bn.Attrs = make(map[string]graph.Attribute)
	}
	bn.Attrs["fused_relu"] = graph.Int(1)

	reluOut := relu.Outputs[0]
	bnOut := bn.Outputs[0]
	if err := g.RemoveNode(relu.ID); err != nil {
		return false, err
	}
	redirectConsumers(g, reluOut, bnOut)
	replaceGraphOutput(g, reluOut, bnOut)
	if err := g.RemoveValue(reluOut); err != nil {
		return false, err
	}
	return true, nil
}

// replaceWithFused builds the fused node replacing victims and wires
// outputValue as its single output, then removes the victim nodes.
func replaceWithFused(g *graph.Graph, victims []*graph.Node, inputs []graph.ValueID, outputValue graph.ValueID) (bool, error) {
	name := ""
	for i, v := range victims {
		if i > 0 {
			name += "+"
		}
		name += v.Name
	}
	device := victims[0].Device
	n, err := g.AddNode("FusedConvBNReLU", name, inputs, nil, nil, device)
	if err != nil {
		return false, err
	}
	return finishReplace(g, victims, n, outputValue)
}

// finishReplace removes the victim nodes (in reverse dependency order so
// edges detach cleanly) and rewires outputValue's producer to the new node.
func finishReplace(g *graph.Graph, victims []*graph.Node, newNode graph.NodeID, outputValue graph.ValueID) (bool, error) {
	for i := len(victims) - 1; i >= 0; i-- {
		if err := g.RemoveNode(victims[i].ID); err != nil {
			return false, err
		}
	}
	n := g.Nodes[newNode]
	n.Outputs = []graph.ValueID{outputValue}
	g.Values[outputValue].Producer = newNode
	return true, nil
}

func redirectConsumers(g *graph.Graph, from, to graph.ValueID) {
	fromValue, ok := g.Values[from]
	if !ok {
		return
	}
	toValue := g.Values[to]
	for _, nid := range fromValue.Consumers {
		n, ok := g.Nodes[nid]
		if !ok {
			continue
		}
		for i, in := range n.Inputs {
			if in == from {
				n.Inputs[i] = to
			}
		}
		toValue.Consumers = append(toValue.Consumers, nid)
	}
	fromValue.Consumers = nil
}

func replaceGraphOutput(g *graph.Graph, from, to graph.ValueID) {
	for i, id := range g.Outputs {
		if id == from {
			g.Outputs[i] = to
		}
	}
}

func synthesizeConstant(g *graph.Graph, namePrefix string, channels int64, value float32) graph.ValueID {
	shape := types.New(channels)
	t, err := tensorFilled(shape, value)
	if err != nil {
		panic(err) // synthesized constants always have static, valid shapes
	}
	return g.AddInitializer(namePrefix, t)
}
