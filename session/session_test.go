package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// buildAddRelu builds in0 + in1 -> Add -> Relu -> out, the same small
// graph the scheduler package tests against.
func buildAddRelu(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	a := g.AddValue("a", types.New(3), types.F32)
	b := g.AddValue("b", types.New(3), types.F32)
	sum := g.AddValue("sum", types.New(3), types.F32)
	out := g.AddValue("out", types.New(3), types.F32)

	_, err := g.AddNode("Add", "add0", []graph.ValueID{a, b}, []graph.ValueID{sum}, nil, types.CPUDevice)
	require.NoError(t, err)
	_, err = g.AddNode("Relu", "relu0", []graph.ValueID{sum}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)

	g.Inputs = []graph.ValueID{a, b}
	g.Outputs = []graph.ValueID{out}
	return g
}

func floatTensor(t *testing.T, vals []float32) tensor.Tensor {
	t.Helper()
	tt, err := tensor.New(types.New(int64(len(vals))), types.F32, types.CPUDevice)
	require.NoError(t, err)
	data, err := tt.Float32()
	require.NoError(t, err)
	copy(data, vals)
	return tt
}

func TestLoadGraphThenRunProducesExpectedOutput(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	inputs := []tensor.Tensor{
		floatTensor(t, []float32{1, -2, 3}),
		floatTensor(t, []float32{4, -5, -10}),
	}
	out := floatTensor(t, make([]float32, 3))

	require.NoError(t, s.Run(inputs, []tensor.Tensor{out}))

	got, err := out.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0}, got)
}

func TestRunBeforeLoadModelReturnsError(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	err := s.Run(nil, nil)
	assert.Error(t, err)
}

func TestRunRejectsWrongInputArity(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	out := floatTensor(t, make([]float32, 3))
	err := s.Run([]tensor.Tensor{floatTensor(t, []float32{1, 2, 3})}, []tensor.Tensor{out})
	assert.Error(t, err)
}

func TestRunRejectsMismatchedInputShape(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	wrongShape, err := tensor.New(types.New(2), types.F32, types.CPUDevice)
	require.NoError(t, err)
	out := floatTensor(t, make([]float32, 3))

	err = s.Run([]tensor.Tensor{wrongShape, floatTensor(t, []float32{1, 2, 3})}, []tensor.Tensor{out})
	assert.Error(t, err)
}

func TestInputOutputNamesAndShapes(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	names, err := s.InputNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	outNames, err := s.OutputNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, outNames)

	shapes, err := s.InputShapes()
	require.NoError(t, err)
	assert.Len(t, shapes, 2)
}

func TestCreateInputTensorMatchesDeclaredShape(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	tt, err := s.CreateInputTensor(0)
	require.NoError(t, err)
	assert.True(t, tt.Shape().Equal(types.New(3)))
}

func TestRunAsyncWaitReturnsSameResultAsRun(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	inputs := []tensor.Tensor{
		floatTensor(t, []float32{1, -2, 3}),
		floatTensor(t, []float32{4, -5, -10}),
	}
	out := floatTensor(t, make([]float32, 3))

	future := s.RunAsync(inputs, []tensor.Tensor{out})
	require.NoError(t, future.Wait())

	got, err := out.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0}, got)
}

func TestProfileReportsPerNodeTimingsAndPeakBytes(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	inputs := []tensor.Tensor{
		floatTensor(t, []float32{1, -2, 3}),
		floatTensor(t, []float32{4, -5, -10}),
	}
	out := floatTensor(t, make([]float32, 3))

	result, err := s.Profile(inputs, []tensor.Tensor{out})
	require.NoError(t, err)
	assert.Len(t, result.Timings, 2)
	assert.Equal(t, "add0", result.Timings[0].NodeName)
	assert.Equal(t, "relu0", result.Timings[1].NodeName)
	assert.GreaterOrEqual(t, result.PeakBytes, int64(0))
	assert.NotEmpty(t, result.RunID)
}

// buildUnknownOp builds in0 -> Xyzzy -> out, where "Xyzzy" is never
// registered with any operator factory.
func buildUnknownOp(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	a := g.AddValue("a", types.New(3), types.F32)
	out := g.AddValue("out", types.New(3), types.F32)

	_, err := g.AddNode("Xyzzy", "mystery0", []graph.ValueID{a}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)

	g.Inputs = []graph.ValueID{a}
	g.Outputs = []graph.ValueID{out}
	return g
}

func TestLoadGraphWithUnregisteredOpTypeLoadsButRunFailsWithNotFound(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildUnknownOp(t)))

	inputs := []tensor.Tensor{floatTensor(t, []float32{1, 2, 3})}
	out := floatTensor(t, make([]float32, 3))

	err := s.Run(inputs, []tensor.Tensor{out})
	require.Error(t, err)
	assert.ErrorContains(t, err, "Xyzzy")
}

func TestLoadModelMissingFileLeavesPreviousStateUntouched(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())
	require.NoError(t, s.LoadGraph(buildAddRelu(t)))

	err := s.LoadModel("/nonexistent/path/model.igraph")
	assert.Error(t, err)

	inputs := []tensor.Tensor{
		floatTensor(t, []float32{1, -2, 3}),
		floatTensor(t, []float32{4, -5, -10}),
	}
	out := floatTensor(t, make([]float32, 3))
	assert.NoError(t, s.Run(inputs, []tensor.Tensor{out}))
}
