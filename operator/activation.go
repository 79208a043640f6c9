package operator

import (
	"github.com/chewxy/math32"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

type unaryF32 func(x float32) float32

func reluF32(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoidF32(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func tanhF32(x float32) float32 {
	return math32.Tanh(x)
}

// geluF32 is the tanh approximation of GELU used by most inference
// runtimes: 0.5x(1+tanh(sqrt(2/pi)(x+0.044715x^3))).
func geluF32(x float32) float32 {
	const c = 0.7978845608 // sqrt(2/pi)
	inner := c * (x + 0.044715*x*x*x)
	return 0.5 * x * (1 + math32.Tanh(inner))
}

func siluF32(x float32) float32 {
	return x * sigmoidF32(x)
}

// activation implements the single-input same-shape nonlinearities: Relu,
// Sigmoid, Tanh, GELU, SiLU.
type activation struct {
	name string
	fn   unaryF32
}

func newActivation(name string, fn unaryF32) *activation {
	return &activation{name: name, fn: fn}
}

func (a *activation) Name() string { return a.name }

func (a *activation) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, a.name); err != nil {
		return err
	}
	if inputs[0].DType() != types.F32 {
		return errs.Newf(errs.InvalidArgument, "%s: only f32 is supported", a.name)
	}
	return nil
}

func (a *activation) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (a *activation) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	out, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	for i, x := range in {
		out[i] = a.fn(x)
	}
	return nil
}
