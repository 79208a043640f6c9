package provider

import (
	"github.com/sbl8/infergraph/allocator"
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/obslog"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// cpuDevice is the always-available device instance backing CPU.
type cpuDevice struct {
	alloc *allocator.CPU
}

func (d *cpuDevice) Kind() types.DeviceKind        { return types.CPU }
func (d *cpuDevice) Index() int                    { return 0 }
func (d *cpuDevice) Allocator() allocator.Allocator { return d.alloc }

func (d *cpuDevice) CopyToHost(dst, src tensor.Tensor) error   { return src.CopyTo(dst) }
func (d *cpuDevice) CopyFromHost(dst, src tensor.Tensor) error { return src.CopyTo(dst) }
func (d *cpuDevice) Synchronize() error                        { return nil }

// CPU is the built-in execution provider: it always succeeds IsAvailable,
// has exactly one device, and resolves kernels from an operator.Registry.
type CPU struct {
	registry *operator.Registry
	device   *cpuDevice
	log      obslog.Logger
}

// NewCPU builds a CPU provider backed by the given operator registry. A
// nil registry falls back to operator.NewCPURegistry().
func NewCPU(registry *operator.Registry) *CPU {
	if registry == nil {
		registry = operator.NewCPURegistry()
	}
	return &CPU{
		registry: registry,
		device:   &cpuDevice{alloc: allocator.NewCPU()},
		log:      obslog.Default(),
	}
}

func (c *CPU) Name() string                  { return "cpu" }
func (c *CPU) DeviceKind() types.DeviceKind   { return types.CPU }
func (c *CPU) IsAvailable() bool              { return true }
func (c *CPU) DeviceCount() int               { return 1 }

func (c *CPU) GetDevice(i int) (Device, error) {
	if i != 0 {
		return nil, errs.Newf(errs.NotFound, "cpu provider: no device at index %d", i)
	}
	return c.device, nil
}

func (c *CPU) Supports(opType string) bool {
	return c.registry.Has(opType)
}

func (c *CPU) CreateKernel(opType string) (operator.Operator, error) {
	return c.registry.Create(opType)
}

// OptimizeGraph assigns every node to CPU; the CPU provider has no layout
// preference beyond the default NCHW the optimizer already produces.
func (c *CPU) OptimizeGraph(g *graph.Graph) error {
	for _, n := range g.Nodes {
		n.Device = types.CPUDevice
	}
	return nil
}

// CompileNode performs no check and caches nothing for the CPU provider. An
// unregistered op-type is not an error here: CompileNode only checks what
// it can verify ahead of time, and an unresolvable kernel surfaces as a
// NotFound failure from ExecuteNode when the node is actually dispatched.
func (c *CPU) CompileNode(n *graph.Node) error {
	return nil
}

// Prepare walks the graph in topological order so a future revision can
// warm per-node kernel state; today it is a no-op pass beyond the
// traversal, since CompileNode defers its only check to dispatch time.
func (c *CPU) Prepare(g *graph.Graph) error {
	order, err := g.TopoSort()
	if err != nil {
		return err
	}
	for _, id := range order {
		n := g.Nodes[id]
		if err := c.CompileNode(n); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteNode resolves the kernel for the node's op-type, validates
// inputs, and runs it, writing into the bound output tensors.
func (c *CPU) ExecuteNode(n *graph.Node, ctx NodeContext) error {
	op, err := c.registry.Create(n.OpType)
	if err != nil {
		return err
	}
	if err := op.ValidateInputs(ctx.Inputs, n.Attrs); err != nil {
		return errs.Wrapf(errs.InvalidArgument, err, "cpu provider: node %q", n.Name)
	}
	execCtx := operator.ExecContext{Attrs: n.Attrs, Device: types.CPUDevice}
	if err := op.Execute(ctx.Inputs, ctx.Outputs, execCtx); err != nil {
		return errs.Wrapf(errs.RuntimeError, err, "cpu provider: node %q", n.Name)
	}
	return nil
}
