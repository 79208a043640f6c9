// Package provider implements the execution-provider abstraction: a
// device-specific bundle of kernel factories, allocator, and copy
// primitives, plus the preference-order selector that assigns graph nodes
// to providers.
package provider

import (
	"github.com/sbl8/infergraph/allocator"
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// Device carries allocation, host<->device copy, and synchronization
// primitives for one physical or logical device instance. It has no
// stream-creation primitive.
type Device interface {
	Kind() types.DeviceKind
	Index() int
	Allocator() allocator.Allocator
	CopyToHost(dst, src tensor.Tensor) error
	CopyFromHost(dst, src tensor.Tensor) error
	Synchronize() error
}

// Provider abstracts a device kind and its kernels.
type Provider interface {
	Name() string
	DeviceKind() types.DeviceKind
	IsAvailable() bool
	DeviceCount() int
	GetDevice(i int) (Device, error)

	Supports(opType string) bool
	CreateKernel(opType string) (operator.Operator, error)

	OptimizeGraph(g *graph.Graph) error
	CompileNode(n *graph.Node) error
	Prepare(g *graph.Graph) error
	ExecuteNode(n *graph.Node, ctx NodeContext) error
}

// NodeContext binds a node's live input/output tensors and the device it
// is scheduled onto for one ExecuteNode call.
type NodeContext struct {
	Inputs  []tensor.Tensor
	Outputs []tensor.Tensor
	Device  Device
}

// Selector picks, per node, the first provider in the configured
// preference order that supports the node's op-type, falling back to a
// CPU provider.
type Selector struct {
	ordered []Provider
	cpu     Provider
}

// NewSelector builds a Selector. cpu is always appended as the final
// fallback even if it also appears in ordered.
func NewSelector(ordered []Provider, cpu Provider) *Selector {
	return &Selector{ordered: ordered, cpu: cpu}
}

// Select returns the first provider supporting opType, or the CPU
// fallback, or a NotFound error naming the op-type.
func (s *Selector) Select(opType string) (Provider, error) {
	for _, p := range s.ordered {
		if p.IsAvailable() && p.Supports(opType) {
			return p, nil
		}
	}
	if s.cpu != nil && s.cpu.Supports(opType) {
		return s.cpu, nil
	}
	return nil, errs.Newf(errs.NotFound, "provider: no provider supports op-type %q", opType)
}

// AssignAll resolves a provider for every node in g and returns the
// per-node assignment. A node whose op-type no provider supports is left
// unassigned rather than failing AssignAll itself: a graph may load and
// validate successfully with an op-type no provider implements, and only
// fails once a run actually tries to dispatch that node (the scheduler
// reports NotFound at that point, naming the node).
func (s *Selector) AssignAll(g *graph.Graph) (map[graph.NodeID]Provider, error) {
	assignment := make(map[graph.NodeID]Provider, len(g.Nodes))
	for id, n := range g.Nodes {
		p, err := s.Select(n.OpType)
		if err != nil {
			continue
		}
		assignment[id] = p
	}
	return assignment, nil
}
