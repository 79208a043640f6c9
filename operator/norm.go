package operator

import (
	"github.com/chewxy/math32"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

func epsilonAttr(attrs map[string]graph.Attribute) float32 {
	if a, ok := attrs["epsilon"]; ok && a.Kind == graph.AttrFloat {
		return a.Float
	}
	return 1e-5
}

// batchNormOp implements inference-mode batch normalization over an NCHW
// tensor: inputs {input, scale, bias, mean, var}, one value per channel.
type batchNormOp struct{}

func (b *batchNormOp) Name() string { return "BatchNormalization" }

func (b *batchNormOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 5, "BatchNormalization"); err != nil {
		return err
	}
	if inputs[0].Shape().Rank() != 4 {
		return errs.New(errs.InvalidArgument, "BatchNormalization: input must be rank 4 (NCHW)")
	}
	return nil
}

func (b *batchNormOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (b *batchNormOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in := inputs[0]
	scale, err := inputs[1].Float32()
	if err != nil {
		return err
	}
	bias, err := inputs[2].Float32()
	if err != nil {
		return err
	}
	mean, err := inputs[3].Float32()
	if err != nil {
		return err
	}
	variance, err := inputs[4].Float32()
	if err != nil {
		return err
	}
	inData, err := in.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	eps := epsilonAttr(ctx.Attrs)

	N, C, H, W := in.Shape().Extents[0], in.Shape().Extents[1], in.Shape().Extents[2], in.Shape().Extents[3]
	hw := H * W
	for n := int64(0); n < N; n++ {
		for c := int64(0); c < C; c++ {
			invStd := 1 / math32.Sqrt(variance[c]+eps)
			base := (n*C + c) * hw
			for i := int64(0); i < hw; i++ {
				idx := base + i
				outData[idx] = (inData[idx]-mean[c])*invStd*scale[c] + bias[c]
			}
		}
	}
	return nil
}

// layerNormOp normalizes over the last axis: inputs {input, scale, bias}.
type layerNormOp struct{}

func (l *layerNormOp) Name() string { return "LayerNormalization" }

func (l *layerNormOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	return requireArity(inputs, 3, "LayerNormalization")
}

func (l *layerNormOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (l *layerNormOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in := inputs[0]
	scale, err := inputs[1].Float32()
	if err != nil {
		return err
	}
	bias, err := inputs[2].Float32()
	if err != nil {
		return err
	}
	inData, err := in.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	eps := epsilonAttr(ctx.Attrs)

	shape := in.Shape()
	axisLen := shape.Extents[shape.Rank()-1]
	rows := int64(len(inData)) / axisLen

	for r := int64(0); r < rows; r++ {
		base := r * axisLen
		row := inData[base : base+axisLen]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(axisLen)
		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(axisLen)
		invStd := 1 / math32.Sqrt(variance+eps)
		for i, v := range row {
			outData[base+int64(i)] = (v-mean)*invStd*scale[i] + bias[i]
		}
	}
	return nil
}

// rmsNormOp normalizes over the last axis by its root-mean-square instead
// of (mean, variance): inputs {input, scale}.
type rmsNormOp struct{}

func (r *rmsNormOp) Name() string { return "RMSNorm" }

func (r *rmsNormOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	return requireArity(inputs, 2, "RMSNorm")
}

func (r *rmsNormOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (r *rmsNormOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in := inputs[0]
	scale, err := inputs[1].Float32()
	if err != nil {
		return err
	}
	inData, err := in.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	eps := epsilonAttr(ctx.Attrs)

	shape := in.Shape()
	axisLen := shape.Extents[shape.Rank()-1]
	rows := int64(len(inData)) / axisLen

	for row := int64(0); row < rows; row++ {
		base := row * axisLen
		var sumSq float32
		for i := int64(0); i < axisLen; i++ {
			v := inData[base+i]
			sumSq += v * v
		}
		rms := math32.Sqrt(sumSq/float32(axisLen) + eps)
		for i := int64(0); i < axisLen; i++ {
			outData[base+i] = inData[base+i] / rms * scale[i]
		}
	}
	return nil
}
