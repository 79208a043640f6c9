package operator

import (
	"github.com/chewxy/math32"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// embeddingOp looks up rows of a {num_embeddings, dim} table by integer
// index: inputs {table, indices}. Indices may have any rank; the output
// shape is indices.Shape + [dim].
type embeddingOp struct{}

func (e *embeddingOp) Name() string { return "Embedding" }

func (e *embeddingOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 2, "Embedding"); err != nil {
		return err
	}
	if inputs[0].Shape().Rank() != 2 {
		return errs.New(errs.InvalidArgument, "Embedding: table must be rank 2")
	}
	idx := inputs[1].DType()
	if idx != types.I32 && idx != types.I64 {
		return errs.New(errs.InvalidArgument, "Embedding: indices must be i32 or i64")
	}
	return nil
}

func (e *embeddingOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	dim := inputs[0].Shape().Extents[1]
	extents := append(append([]int64(nil), inputs[1].Shape().Extents...), dim)
	return []types.Shape{types.New(extents...)}, nil
}

func (e *embeddingOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	table, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	out, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	indices, err := readIndices(inputs[1])
	if err != nil {
		return err
	}
	dim := inputs[0].Shape().Extents[1]
	for i, idx := range indices {
		srcBase := idx * dim
		dstBase := int64(i) * dim
		copy(out[dstBase:dstBase+dim], table[srcBase:srcBase+dim])
	}
	return nil
}

// softmaxOp is the numerically-stable softmax over the last axis: subtract
// the row max before exponentiating to avoid overflow, then normalize.
type softmaxOp struct{}

func (s *softmaxOp) Name() string { return "Softmax" }

func (s *softmaxOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, "Softmax"); err != nil {
		return err
	}
	if inputs[0].DType() != types.F32 {
		return errs.New(errs.InvalidArgument, "Softmax: only f32 is supported")
	}
	return nil
}

func (s *softmaxOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	return []types.Shape{inputs[0].Shape().Clone()}, nil
}

func (s *softmaxOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	out, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	shape := inputs[0].Shape()
	axisLen := shape.Extents[shape.Rank()-1]
	rows := int64(len(in)) / axisLen

	for r := int64(0); r < rows; r++ {
		base := r * axisLen
		row := in[base : base+axisLen]
		outRow := out[base : base+axisLen]

		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for i, v := range row {
			e := math32.Exp(v - max)
			outRow[i] = e
			sum += e
		}
		for i := range outRow {
			outRow[i] /= sum
		}
	}
	return nil
}
