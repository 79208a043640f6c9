package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

func TestCPUProviderSupportsConformanceSet(t *testing.T) {
	cpu := NewCPU(nil)
	for _, op := range []string{"Add", "MatMul", "Conv", "Relu", "Softmax", "Reshape", "FusedMatMulAdd"} {
		assert.True(t, cpu.Supports(op), "expected support for %s", op)
	}
	assert.False(t, cpu.Supports("NoSuchOp"))
}

func TestCPUProviderExecuteNodeRunsAddKernel(t *testing.T) {
	cpu := NewCPU(nil)
	shape := types.New(2)
	a, err := tensor.New(shape, types.F32, types.CPUDevice)
	require.NoError(t, err)
	b, err := tensor.New(shape, types.F32, types.CPUDevice)
	require.NoError(t, err)
	out, err := tensor.New(shape, types.F32, types.CPUDevice)
	require.NoError(t, err)

	av, _ := a.Float32()
	bv, _ := b.Float32()
	av[0], av[1] = 1, 2
	bv[0], bv[1] = 10, 20

	n := &graph.Node{OpType: "Add", Name: "add0"}
	err = cpu.ExecuteNode(n, NodeContext{Inputs: []tensor.Tensor{a, b}, Outputs: []tensor.Tensor{out}})
	require.NoError(t, err)

	ov, _ := out.Float32()
	assert.Equal(t, float32(11), ov[0])
	assert.Equal(t, float32(22), ov[1])
}

func TestSelectorFallsBackToCPU(t *testing.T) {
	cpu := NewCPU(nil)
	sel := NewSelector(nil, cpu)
	p, err := sel.Select("Relu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", p.Name())
}

func TestSelectorReturnsNotFoundForUnsupportedOp(t *testing.T) {
	cpu := NewCPU(nil)
	sel := NewSelector(nil, cpu)
	_, err := sel.Select("NoSuchOp")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestAssignAllLeavesUnsupportedNodeUnassignedRatherThanFailing(t *testing.T) {
	g := graph.New()
	a := g.AddValue("a", types.New(3), types.F32)
	out := g.AddValue("out", types.New(3), types.F32)
	id, err := g.AddNode("Xyzzy", "mystery0", []graph.ValueID{a}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)

	cpu := NewCPU(nil)
	sel := NewSelector(nil, cpu)
	assignment, err := sel.AssignAll(g)
	require.NoError(t, err)
	_, assigned := assignment[id]
	assert.False(t, assigned)
}
