package operator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// matMulOp implements 2D MatMul: (m,k) x (k,n) -> (m,n). Replaces the
// teacher's hand-rolled cache-blocked loop with gonum's mat.Dense product.
type matMulOp struct{}

func (m *matMulOp) Name() string { return "MatMul" }

func (m *matMulOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 2, "MatMul"); err != nil {
		return err
	}
	a, b := inputs[0], inputs[1]
	if a.DType() != types.F32 || b.DType() != types.F32 {
		return errs.New(errs.InvalidArgument, "MatMul: only f32 is supported")
	}
	if a.Shape().Rank() != 2 || b.Shape().Rank() != 2 {
		return errs.New(errs.InvalidArgument, "MatMul: both inputs must be rank 2")
	}
	if a.Shape().Extents[1] != b.Shape().Extents[0] {
		return errs.Newf(errs.InvalidArgument, "MatMul: inner dimensions mismatch %s vs %s", a.Shape(), b.Shape())
	}
	return nil
}

func (m *matMulOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	a, b := inputs[0], inputs[1]
	return []types.Shape{types.New(a.Shape().Extents[0], b.Shape().Extents[1])}, nil
}

func (m *matMulOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
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
			outData[i*cols+j] = float32(result.At(i, j))
		}
	}
	return nil
}

func float32ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
