package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/obslog"
	"github.com/sbl8/infergraph/provider"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// buildAddRelu constructs in = a -> Add(a, b) -> Relu -> out.
func buildAddRelu(t *testing.T) (*graph.Graph, graph.ValueID, graph.ValueID, graph.ValueID) {
	t.Helper()
	g := graph.New()
	a := g.AddValue("a", types.New(3), types.F32)
	b := g.AddValue("b", types.New(3), types.F32)
	addOut := g.AddValue("addOut", types.New(3), types.F32)
	_, err := g.AddNode("Add", "add0", []graph.ValueID{a, b}, []graph.ValueID{addOut}, nil, types.CPUDevice)
	require.NoError(t, err)
	out := g.AddValue("out", types.New(3), types.F32)
	_, err = g.AddNode("Relu", "relu0", []graph.ValueID{addOut}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{a, b}
	g.Outputs = []graph.ValueID{out}
	return g, a, b, out
}

func bindInput(t *testing.T, vals []float32) tensor.Tensor {
	t.Helper()
	tn, err := tensor.New(types.New(int64(len(vals))), types.F32, types.CPUDevice)
	require.NoError(t, err)
	data, err := tn.Float32()
	require.NoError(t, err)
	copy(data, vals)
	return tn
}

func cpuContext(t *testing.T, g *graph.Graph, a, b graph.ValueID) Context {
	t.Helper()
	cpu := provider.NewCPU(nil)
	assignment := make(map[graph.NodeID]provider.Provider, len(g.Nodes))
	for id := range g.Nodes {
		assignment[id] = cpu
	}
	bindings := Bindings{
		a: bindInput(t, []float32{1, -2, 3}),
		b: bindInput(t, []float32{10, 1, -100}),
	}
	return Context{Bindings: bindings, Assignment: assignment, Log: obslog.Default()}
}

func TestTopologicalScheduleProducesExpectedOutput(t *testing.T) {
	g, a, b, out := buildAddRelu(t)
	ctx := cpuContext(t, g, a, b)

	sched := NewTopological()
	require.NoError(t, sched.Schedule(g, ctx))

	data, err := ctx.Bindings[out].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 0, 0}, data)
}

func TestPipelineScheduleMatchesTopological(t *testing.T) {
	g, a, b, out := buildAddRelu(t)
	ctx := cpuContext(t, g, a, b)

	sched := NewPipeline(2)
	require.NoError(t, sched.Schedule(g, ctx))

	data, err := ctx.Bindings[out].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 0, 0}, data)
}

func TestParallelScheduleMatchesTopological(t *testing.T) {
	g, a, b, out := buildAddRelu(t)
	ctx := cpuContext(t, g, a, b)

	sched := NewParallel(4)
	require.NoError(t, sched.Schedule(g, ctx))

	data, err := ctx.Bindings[out].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 0, 0}, data)
}

func TestParallelScheduleReturnsFirstErrorWithoutDeadlock(t *testing.T) {
	g := graph.New()
	a := g.AddValue("a", types.New(3), types.F32)
	out := g.AddValue("out", types.New(3), types.F32)
	// MatMul on a rank-1 tensor is invalid input, so ValidateInputs fails.
	_, err := g.AddNode("MatMul", "bad0", []graph.ValueID{a, a}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{a}
	g.Outputs = []graph.ValueID{out}

	cpu := provider.NewCPU(nil)
	assignment := map[graph.NodeID]provider.Provider{}
	for id := range g.Nodes {
		assignment[id] = cpu
	}
	ctx := Context{
		Bindings:   Bindings{a: bindInput(t, []float32{1, 2, 3})},
		Assignment: assignment,
		Log:        obslog.Default(),
	}

	sched := NewParallel(2)
	err = sched.Schedule(g, ctx)
	assert.Error(t, err)
}
