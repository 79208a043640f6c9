package importer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/types"
)

func buildSimpleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	in := g.AddValue("in", types.New(2, 3), types.F32)
	out := g.AddValue("out", types.New(2, 3), types.F32)
	_, err := g.AddNode("Relu", "relu0", []graph.ValueID{in}, []graph.ValueID{out}, nil, types.CPUDevice)
	require.NoError(t, err)
	g.Inputs = []graph.ValueID{in}
	g.Outputs = []graph.ValueID{out}
	return g
}

func TestSaveFileThenLoadFileRoundTrips(t *testing.T) {
	g := buildSimpleGraph(t)
	path := filepath.Join(t.TempDir(), "model.igraph")
	require.NoError(t, SaveFile(g, path))

	reg := operator.NewCPURegistry()
	loaded, err := LoadFile(path, reg)
	require.NoError(t, err)
	assert.Equal(t, g.NodeCount(), loaded.NodeCount())
	assert.Equal(t, g.ValueCount(), loaded.ValueCount())
	assert.Equal(t, len(g.Inputs), len(loaded.Inputs))
	assert.Equal(t, len(g.Outputs), len(loaded.Outputs))

	n := loaded.NodeByName("relu0")
	require.NotNil(t, n)
	assert.Equal(t, "Relu", n.OpType)
}

func TestLoadFileMissingReturnsNotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.igraph"), nil)
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestLoadBytesRejectsGarbage(t *testing.T) {
	_, err := LoadBytes([]byte("not a graph"), nil)
	assert.Error(t, err)
}
