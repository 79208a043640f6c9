package operator

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

type binaryF32 func(dst, a, b []float32)

func addF32(dst, a, b []float32) { vecAddF32(dst, a, b) }
func mulF32(dst, a, b []float32) { vecMulF32(dst, a, b) }

func subF32(dst, a, b []float32) {
	for i := range a {
		dst[i] = a[i] - b[i]
	}
}

func divF32(dst, a, b []float32) {
	for i := range a {
		dst[i] = a[i] / b[i]
	}
}

// elementwise implements the two-input same-shape arithmetic ops: Add, Sub,
// Mul, Div.
type elementwise struct {
	name string
	fn   binaryF32
}

func newElementwise(name string, fn binaryF32) *elementwise {
	return &elementwise{name: name, fn: fn}
}

func (e *elementwise) Name() string { return e.name }

func (e *elementwise) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 2, e.name); err != nil {
		return err
	}
	if inputs[0].DType() != types.F32 || inputs[1].DType() != types.F32 {
		return errs.Newf(errs.InvalidArgument, "%s: only f32 is supported", e.name)
	}
	if !inputs[0].Shape().Equal(inputs[1].Shape()) {
		return errs.Newf(errs.InvalidArgument, "%s: shape mismatch %s vs %s", e.name, inputs[0].Shape(), inputs[1].Shape())
	}
	return nil
}

func (e *elementwise) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (e *elementwise) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	a, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	b, err := inputs[1].Float32()
	if err != nil {
		return err
	}
	out, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	e.fn(out, a, b)
	return nil
}
