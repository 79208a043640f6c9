// Package scheduler implements the three execution-order strategies that
// walk an optimized graph and dispatch each node to its assigned provider:
// topological (sequential, deterministic), pipeline (staged), and parallel
// (ready-queue worker pool).
package scheduler

import (
	"context"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/obslog"
	"github.com/sbl8/infergraph/provider"
	"github.com/sbl8/infergraph/tensor"
)

// Bindings supplies the live tensors for every graph value by id, and is
// mutated in place as nodes produce their outputs.
type Bindings map[graph.ValueID]tensor.Tensor

// Context carries the per-run state a scheduler threads through node
// dispatch: value bindings, the provider assignment, a cancellation
// context, and the logger. Each node's device is resolved from its
// provider at dispatch time.
type Context struct {
	Bindings   Bindings
	Assignment map[graph.NodeID]provider.Provider
	Cancel     context.Context
	Log        obslog.Logger
}

// Scheduler is {execution_order(&Graph), schedule(&Graph, ctx)}, shared by
// all three strategies.
type Scheduler interface {
	ExecutionOrder(g *graph.Graph) ([]graph.NodeID, error)
	Schedule(g *graph.Graph, ctx Context) error
}

// dispatchNode resolves inputs/outputs from ctx.Bindings, runs the node
// through its assigned provider, and writes results back into Bindings.
func dispatchNode(g *graph.Graph, n *graph.Node, ctx Context) error {
	p, ok := ctx.Assignment[n.ID]
	if !ok {
		return errs.Newf(errs.NotFound, "scheduler: no provider supports op-type %q (node %q)", n.OpType, n.Name)
	}

	inputs := make([]tensor.Tensor, len(n.Inputs))
	for i, vid := range n.Inputs {
		t, ok := ctx.Bindings[vid]
		if !ok {
			return errs.Newf(errs.InvalidArgument, "scheduler: node %q: input value %d unbound", n.Name, vid)
		}
		inputs[i] = t
	}

	outputs := make([]tensor.Tensor, len(n.Outputs))
	for i, vid := range n.Outputs {
		if t, ok := ctx.Bindings[vid]; ok {
			outputs[i] = t
			continue
		}
		v := g.Values[vid]
		t, err := tensor.New(v.Shape, v.DType, n.Device)
		if err != nil {
			return errs.Wrapf(errs.OutOfMemory, err, "scheduler: node %q: allocating output %d", n.Name, i)
		}
		outputs[i] = t
	}

	var dev provider.Device
	if p.DeviceCount() > 0 {
		d, err := p.GetDevice(0)
		if err != nil {
			return errs.Wrapf(errs.DeviceError, err, "scheduler: node %q: resolving device", n.Name)
		}
		dev = d
	}

	nodeCtx := provider.NodeContext{Inputs: inputs, Outputs: outputs, Device: dev}
	if err := p.ExecuteNode(n, nodeCtx); err != nil {
		return errs.Wrapf(errs.RuntimeError, err, "scheduler: node %q on provider %q", n.Name, p.Name())
	}

	for i, vid := range n.Outputs {
		ctx.Bindings[vid] = outputs[i]
	}
	return nil
}

// DispatchNode runs a single node through its assigned provider, reading
// and writing ctx.Bindings. Exposed for callers that need per-node timing
// (profiling) rather than a full Schedule pass.
func DispatchNode(g *graph.Graph, n *graph.Node, ctx Context) error {
	return dispatchNode(g, n, ctx)
}

func isCancelled(ctx Context) bool {
	if ctx.Cancel == nil {
		return false
	}
	select {
	case <-ctx.Cancel.Done():
		return true
	default:
		return false
	}
}

// Topological executes nodes in the exact order graph.TopoSort produces:
// sequential, zero concurrency, deterministic across runs of an unchanged
// graph.
type Topological struct{}

// NewTopological returns a Topological scheduler.
func NewTopological() *Topological { return &Topological{} }

func (s *Topological) ExecutionOrder(g *graph.Graph) ([]graph.NodeID, error) {
	return g.TopoSort()
}

func (s *Topological) Schedule(g *graph.Graph, ctx Context) error {
	order, err := s.ExecutionOrder(g)
	if err != nil {
		return err
	}
	for _, id := range order {
		if isCancelled(ctx) {
			return errs.New(errs.RuntimeError, "scheduler: run cancelled")
		}
		n := g.Nodes[id]
		log := ctx.Log.WithNode(n.Name)
		log.Debugf("dispatch")
		if err := dispatchNode(g, n, ctx); err != nil {
			return err
		}
	}
	return nil
}

// Pipeline partitions the topologically-sorted node list into Stages
// contiguous stages; stages run sequentially, reserved for a future
// streaming extension that would overlap them.
type Pipeline struct {
	Stages int
}

// NewPipeline returns a Pipeline scheduler with the given stage count (at
// least 1).
func NewPipeline(stages int) *Pipeline {
	if stages < 1 {
		stages = 1
	}
	return &Pipeline{Stages: stages}
}

func (s *Pipeline) ExecutionOrder(g *graph.Graph) ([]graph.NodeID, error) {
	return g.TopoSort()
}

// stageBoundaries splits n items into s.Stages contiguous, near-equal
// partitions.
func (s *Pipeline) stageBoundaries(n int) []int {
	bounds := make([]int, 0, s.Stages+1)
	base := n / s.Stages
	rem := n % s.Stages
	pos := 0
	bounds = append(bounds, pos)
	for i := 0; i < s.Stages; i++ {
		size := base
		if i < rem {
			size++
		}
		pos += size
		bounds = append(bounds, pos)
	}
	return bounds
}

func (s *Pipeline) Schedule(g *graph.Graph, ctx Context) error {
	order, err := s.ExecutionOrder(g)
	if err != nil {
		return err
	}
	bounds := s.stageBoundaries(len(order))
	for stage := 0; stage < s.Stages; stage++ {
		lo, hi := bounds[stage], bounds[stage+1]
		for _, id := range order[lo:hi] {
			if isCancelled(ctx) {
				return errs.New(errs.RuntimeError, "scheduler: run cancelled")
			}
			n := g.Nodes[id]
			if err := dispatchNode(g, n, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
