package operator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/chewxy/math32"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// fusedConvBNReLUOp is the rewrite target of the Conv->BatchNormalization->Relu
// fusion pattern. Inputs are {input, weight, scale, bias, mean, var} or,
// when the source Conv carried its own bias, {input, weight, convBias,
// scale, bias, mean, var}.
type fusedConvBNReLUOp struct {
	conv *convOp
	bn   *batchNormOp
}

func newFusedConvBNReLU() *fusedConvBNReLUOp {
	return &fusedConvBNReLUOp{conv: &convOp{}, bn: &batchNormOp{}}
}

func (f *fusedConvBNReLUOp) Name() string { return "FusedConvBNReLU" }

func (f *fusedConvBNReLUOp) splitInputs(inputs []tensor.Tensor) (convInputs []tensor.Tensor, scale, bias, mean, variance tensor.Tensor, err error) {
	switch len(inputs) {
	case 6:
		return inputs[:2], inputs[2], inputs[3], inputs[4], inputs[5], nil
	case 7:
		return inputs[:3], inputs[3], inputs[4], inputs[5], inputs[6], nil
	default:
		return nil, tensor.Tensor{}, tensor.Tensor{}, tensor.Tensor{}, tensor.Tensor{},
			errs.Newf(errs.InvalidArgument, "FusedConvBNReLU: expected 6 or 7 inputs, got %d", len(inputs))
	}
}

func (f *fusedConvBNReLUOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	convInputs, _, _, _, _, err := f.splitInputs(inputs)
	if err != nil {
		return err
	}
	return f.conv.ValidateInputs(convInputs, attrs)
}

func (f *fusedConvBNReLUOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	convInputs, _, _, _, _, err := f.splitInputs(inputs)
	if err != nil {
		return nil, err
	}
	return f.conv.InferOutputShapes(convInputs, attrs)
}

func (f *fusedConvBNReLUOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	convInputs, scale, bias, mean, variance, err := f.splitInputs(inputs)
	if err != nil {
		return err
	}
	if err := f.conv.Execute(convInputs, outputs, ctx); err != nil {
		return err
	}

	scaleData, err := scale.Float32()
	if err != nil {
		return err
	}
	biasData, err := bias.Float32()
	if err != nil {
		return err
	}
	meanData, err := mean.Float32()
	if err != nil {
		return err
	}
	varData, err := variance.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	eps := epsilonAttr(ctx.Attrs)

	shape := outputs[0].Shape()
	N, C, H, W := shape.Extents[0], shape.Extents[1], shape.Extents[2], shape.Extents[3]
	hw := H * W
	for n := int64(0); n < N; n++ {
		for c := int64(0); c < C; c++ {
			invStd := 1 / math32.Sqrt(varData[c]+eps)
			base := (n*C + c) * hw
			for i := int64(0); i < hw; i++ {
				idx := base + i
				v := (outData[idx]-meanData[c])*invStd*scaleData[c] + biasData[c]
				outData[idx] = reluF32(v)
			}
		}
	}
	return nil
}

// fusedMatMulAddOp is the rewrite target of the MatMul->Add fusion pattern:
// inputs {A, B, bias}, where bias broadcasts over the output's last axis.
type fusedMatMulAddOp struct{}

func (f *fusedMatMulAddOp) Name() string { return "FusedMatMulAdd" }

func (f *fusedMatMulAddOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 3, "FusedMatMulAdd"); err != nil {
		return err
	}
	mm := &matMulOp{}
	if err := mm.ValidateInputs(inputs[:2], attrs); err != nil {
		return err
	}
	bias := inputs[2]
	if bias.Shape().Rank() != 1 || bias.Shape().Extents[0] != inputs[1].Shape().Extents[1] {
		return errs.New(errs.InvalidArgument, "FusedMatMulAdd: bias must be rank-1 matching the output's last dimension")
	}
	return nil
}

func (f *fusedMatMulAddOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return (&matMulOp{}).InferOutputShapes(inputs[:2], attrs)
}

func (f *fusedMatMulAddOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	a, b := inputs[0], inputs[1]
	rows, inner := int(a.Shape().Extents[0]), int(a.Shape().Extents[1])
	cols := int(b.Shape().Extents[1])

	aData, err := a.Float32()
	if err != nil {
		return err
	}
	bData, err := b.Float32()
	if err != nil {
		return err
	}
	bias, err := inputs[2].Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}

	aDense := mat.NewDense(rows, inner, float32ToFloat64(aData))
	bDense := mat.NewDense(inner, cols, float32ToFloat64(bData))
	var result mat.Dense
	result.Mul(aDense, bDense)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			outData[i*cols+j] = float32(result.At(i, j)) + bias[j]
		}
	}
	return nil
}
