// Package operator defines the operator contract, the op-type registry,
// and the required CPU kernel set.
package operator

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// ExecContext carries everything an operator's Execute needs beyond its
// bound tensors: the node's attribute map (attributes are looked up by the
// kernel, never baked into a constructor) and the device it is running on.
type ExecContext struct {
	Attrs  map[string]graph.Attribute
	Device types.Device
}

// Operator is the capability set {name, validate_inputs, infer_output_shapes,
// execute}. Operators hold no per-node state; all per-node state flows
// through ExecContext.Attrs.
type Operator interface {
	Name() string
	ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error
	InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error)
	Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error
}

// Factory constructs a fresh Operator instance for an op-type. The built-in
// factories return a new stateless value on every call.
type Factory func() Operator

// Registry maps op-type strings to kernel factories; it can be keyed by
// op-type alone since attributes live on the node, not the operator.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under opType, overwriting any prior entry.
func (r *Registry) Register(opType string, factory Factory) {
	r.factories[opType] = factory
}

// Has reports whether opType has a registered factory. Satisfies
// graph.OpRegistry so Graph.Validate can consult it.
func (r *Registry) Has(opType string) bool {
	_, ok := r.factories[opType]
	return ok
}

// Create returns a fresh Operator for opType.
func (r *Registry) Create(opType string) (Operator, error) {
	f, ok := r.factories[opType]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "operator: no factory registered for op-type %q", opType)
	}
	return f(), nil
}

// NewCPURegistry returns a Registry pre-populated with the required
// conformance op-type set, backed by the CPU kernel implementations in
// this package.
func NewCPURegistry() *Registry {
	r := NewRegistry()

	r.Register("Add", func() Operator { return newElementwise("Add", addF32) })
	r.Register("Sub", func() Operator { return newElementwise("Sub", subF32) })
	r.Register("Mul", func() Operator { return newElementwise("Mul", mulF32) })
	r.Register("Div", func() Operator { return newElementwise("Div", divF32) })

	r.Register("MatMul", func() Operator { return &matMulOp{} })

	r.Register("Conv", func() Operator { return &convOp{} })
	r.Register("MaxPool", func() Operator { return &poolOp{name: "MaxPool", mode: poolMax} })
	r.Register("AveragePool", func() Operator { return &poolOp{name: "AveragePool", mode: poolAvg} })

	r.Register("Relu", func() Operator { return newActivation("Relu", reluF32) })
	r.Register("Sigmoid", func() Operator { return newActivation("Sigmoid", sigmoidF32) })
	r.Register("Tanh", func() Operator { return newActivation("Tanh", tanhF32) })
	r.Register("GELU", func() Operator { return newActivation("GELU", geluF32) })
	r.Register("SiLU", func() Operator { return newActivation("SiLU", siluF32) })

	r.Register("BatchNormalization", func() Operator { return &batchNormOp{} })
	r.Register("LayerNormalization", func() Operator { return &layerNormOp{} })
	r.Register("RMSNorm", func() Operator { return &rmsNormOp{} })

	r.Register("Reshape", func() Operator { return &reshapeOp{} })
	r.Register("Transpose", func() Operator { return &transposeOp{} })
	r.Register("Concat", func() Operator { return &concatOp{} })
	r.Register("Split", func() Operator { return &splitOp{} })
	r.Register("Gather", func() Operator { return &gatherOp{} })
	r.Register("Slice", func() Operator { return &sliceOp{} })

	r.Register("Embedding", func() Operator { return &embeddingOp{} })
	r.Register("Softmax", func() Operator { return &softmaxOp{} })

	r.Register("FusedConvBNReLU", func() Operator { return newFusedConvBNReLU() })
	r.Register("FusedMatMulAdd", func() Operator { return &fusedMatMulAddOp{} })

	return r
}

func requireArity(inputs []tensor.Tensor, n int, op string) error {
	if len(inputs) != n {
		return errs.Newf(errs.InvalidArgument, "%s: expected %d inputs, got %d", op, n, len(inputs))
	}
	return nil
}

func requireAttr(attrs map[string]graph.Attribute, key, op string) (graph.Attribute, error) {
	a, ok := attrs[key]
	if !ok {
		return graph.Attribute{}, errs.Newf(errs.InvalidArgument, "%s: required attribute %q missing", op, key)
	}
	return a, nil
}
