package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

func addConstant(t *testing.T, g *graph.Graph, name string, shape types.Shape, vals []float32) graph.ValueID {
	tn, err := tensor.New(shape, types.F32, types.CPUDevice)
	require.NoError(t, err)
	data, err := tn.Float32()
	require.NoError(t, err)
	copy(data, vals)
	return g.AddInitializer(name, tn)
}

func TestShapeInferencePropagatesReluOutputShape(t *testing.T) {
	g := graph.New()
	in := g.AddValue("in", types.New(2, 3), types.F32)
	out := g.AddValue("out", types.Shape{}, types.F32)
	_, err := g.AddNode("Relu", "relu0", []graph.ValueID{in}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{in}
	g.Outputs = []graph.ValueID{out}

	reg := operator.NewCPURegistry()
	pass := newShapeInferencePass(reg)
	changed, err := pass.Run(g)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, g.Values[out].Shape.Equal(types.New(2, 3)))
}

func TestConstantFoldingReplacesAddOfTwoConstants(t *testing.T) {
	g := graph.New()
	a := addConstant(t, g, "a", types.New(2), []float32{1, 2})
	b := addConstant(t, g, "b", types.New(2), []float32{10, 20})
	out := g.AddValue("out", types.New(2), types.F32)
	_, err := g.AddNode("Add", "add0", []graph.ValueID{a, b}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Outputs = []graph.ValueID{out}

	reg := operator.NewCPURegistry()
	pass := newConstantFoldingPass(reg)
	changed, err := pass.Run(g)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, g.NodeCount())

	outVal := g.Values[out]
	require.NotNil(t, outVal.Constant)
	data, err := outVal.Constant.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22}, data)
}

func TestDeadCodeEliminationRemovesUnreachableNode(t *testing.T) {
	g := graph.New()
	in := g.AddValue("in", types.New(2), types.F32)
	used := g.AddValue("used", types.New(2), types.F32)
	unused := g.AddValue("unused", types.New(2), types.F32)
	_, err := g.AddNode("Relu", "keep", []graph.ValueID{in}, []graph.ValueID{used}, nil, types.CPUDevice)
	require.NoError(t, err)
	_, err = g.AddNode("Relu", "drop", []graph.ValueID{in}, []graph.ValueID{unused}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{in}
	g.Outputs = []graph.ValueID{used}

	pass := newDeadCodePass()
	changed, err := pass.Run(g)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, g.NodeCount())
	stillThere := g.NodeByName("keep")
	assert.NotNil(t, stillThere)
	gone := g.NodeByName("drop")
	assert.Nil(t, gone)
}

func buildConvBNRelu(t *testing.T) *graph.Graph {
	g := graph.New()
	in := g.AddValue("in", types.New(1, 2, 4, 4), types.F32)
	weight := addConstant(t, g, "w", types.New(2, 2, 1, 1), []float32{1, 0, 0, 1, 0, 0, 0, 0})
	convOut := g.AddValue("convOut", types.Shape{}, types.F32)
	_, err := g.AddNode("Conv", "conv0", []graph.ValueID{in, weight}, []graph.ValueID{convOut}, nil, types.CPUDevice)
	require.NoError(t, err)

	scale := addConstant(t, g, "scale", types.New(2), []float32{1, 1})
	bias := addConstant(t, g, "bias", types.New(2), []float32{0, 0})
	mean := addConstant(t, g, "mean", types.New(2), []float32{0, 0})
	variance := addConstant(t, g, "var", types.New(2), []float32{1, 1})
	bnOut := g.AddValue("bnOut", types.Shape{}, types.F32)
	_, err = g.AddNode("BatchNormalization", "bn0", []graph.ValueID{convOut, scale, bias, mean, variance}, []graph.ValueID{bnOut}, nil, types.CPUDevice)
	require.NoError(t, err)

	reluOut := g.AddValue("reluOut", types.Shape{}, types.F32)
	_, err = g.AddNode("Relu", "relu0", []graph.ValueID{bnOut}, []graph.ValueID{reluOut}, nil, types.CPUDevice)
	require.NoError(t, err)

	g.Inputs = []graph.ValueID{in}
	g.Outputs = []graph.ValueID{reluOut}
	return g
}

func TestFusionPassFusesConvBNRelu(t *testing.T) {
	g := buildConvBNRelu(t)
	pass := newFusionPass()
	changed, err := pass.Run(g)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, g.NodeCount())

	n := g.NodeByName("conv0+bn0+relu0")
	require.NotNil(t, n)
	assert.Equal(t, "FusedConvBNReLU", n.OpType)
	assert.Equal(t, 6, len(n.Inputs))
}

func TestFusionPassFusesBNReluIntoAttribute(t *testing.T) {
	g := graph.New()
	in := g.AddValue("in", types.New(1, 2, 2, 2), types.F32)
	scale := addConstant(t, g, "scale", types.New(2), []float32{1, 1})
	bias := addConstant(t, g, "bias", types.New(2), []float32{0, 0})
	mean := addConstant(t, g, "mean", types.New(2), []float32{0, 0})
	variance := addConstant(t, g, "var", types.New(2), []float32{1, 1})
	bnOut := g.AddValue("bnOut", types.Shape{}, types.F32)
	_, err := g.AddNode("BatchNormalization", "bn0", []graph.ValueID{in, scale, bias, mean, variance}, []graph.ValueID{bnOut}, nil, types.CPUDevice)
	require.NoError(t, err)
	reluOut := g.AddValue("reluOut", types.Shape{}, types.F32)
	_, err = g.AddNode("Relu", "relu0", []graph.ValueID{bnOut}, []graph.ValueID{reluOut}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{in}
	g.Outputs = []graph.ValueID{reluOut}

	pass := newFusionPass()
	changed, err := pass.Run(g)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, g.NodeCount())

	bn := g.NodeByName("bn0")
	require.NotNil(t, bn)
	attr, present := bn.Attr("fused_relu")
	require.True(t, present)
	assert.Equal(t, int64(1), attr.Int)
	assert.Equal(t, bnOut, g.Outputs[0])
}
