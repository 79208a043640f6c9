package operator

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// reshapeOp copies its input's bytes into an output of a new logical shape;
// the target shape comes from the "shape" i64-list attribute rather than a
// second tensor input.
type reshapeOp struct{}

func (r *reshapeOp) Name() string { return "Reshape" }

func reshapeTarget(attrs map[string]graph.Attribute) (types.Shape, error) {
	a, err := requireAttr(attrs, "shape", "Reshape")
	if err != nil {
		return types.Shape{}, err
	}
	if a.Kind != graph.AttrInts {
		return types.Shape{}, errs.New(errs.InvalidArgument, "Reshape: shape attribute must be an i64 list")
	}
	return types.New(a.Ints...), nil
}

func (r *reshapeOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, "Reshape"); err != nil {
		return err
	}
	target, err := reshapeTarget(attrs)
	if err != nil {
		return err
	}
	if target.ElementCount() != inputs[0].Shape().ElementCount() {
		return errs.New(errs.InvalidArgument, "Reshape: element count changes")
	}
	return nil
}

func (r *reshapeOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	target, err := reshapeTarget(attrs)
	if err != nil {
		return nil, err
	}
	return []types.Shape{target}, nil
}

func (r *reshapeOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	if !outputs[0].Writable() {
		return errs.New(errs.InvalidArgument, "Reshape: output not writable")
	}
	copy(outputs[0].Bytes(), inputs[0].Bytes())
	return nil
}

// transposeOp permutes axes per the "perm" i64-list attribute (defaults to
// reversing all axes).
type transposeOp struct{}

func (t *transposeOp) Name() string { return "Transpose" }

func transposePerm(rank int, attrs map[string]graph.Attribute) []int64 {
	if a, ok := attrs["perm"]; ok && a.Kind == graph.AttrInts && len(a.Ints) == rank {
		return a.Ints
	}
	perm := make([]int64, rank)
	for i := range perm {
		perm[i] = int64(rank - 1 - i)
	}
	return perm
}

func (t *transposeOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	return requireArity(inputs, 1, "Transpose")
}

func (t *transposeOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	shape := inputs[0].Shape()
	perm := transposePerm(shape.Rank(), attrs)
	extents := make([]int64, shape.Rank())
	for i, p := range perm {
		extents[i] = shape.Extents[p]
	}
	return []types.Shape{types.New(extents...)}, nil
}

func (t *transposeOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in := inputs[0]
	shape := in.Shape()
	perm := transposePerm(shape.Rank(), ctx.Attrs)
	srcStrides := shape.ContiguousStrides()
	outShape := outputs[0].Shape()
	dstStrides := outShape.ContiguousStrides()

	inData, err := in.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}

	coords := make([]int64, shape.Rank())
	total := shape.ElementCount()
	for linear := int64(0); linear < total; linear++ {
		rem := linear
		for i, s := range srcStrides {
			coords[i] = rem / s
			rem %= s
		}
		var dstIdx int64
		for i, p := range perm {
			dstIdx += coords[p] * dstStrides[i]
		}
		outData[dstIdx] = inData[linear]
	}
	return nil
}

// concatOp joins N inputs of equal rank and equal extents off the
// "axis" attribute into one output along that axis.
type concatOp struct{}

func (c *concatOp) Name() string { return "Concat" }

func concatAxis(rank int, attrs map[string]graph.Attribute) int64 {
	if a, ok := attrs["axis"]; ok && a.Kind == graph.AttrInt {
		axis := a.Int
		if axis < 0 {
			axis += int64(rank)
		}
		return axis
	}
	return 0
}

func (c *concatOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if len(inputs) < 2 {
		return errs.New(errs.InvalidArgument, "Concat: requires at least 2 inputs")
	}
	rank := inputs[0].Shape().Rank()
	axis := concatAxis(rank, attrs)
	for i := 1; i < len(inputs); i++ {
		s := inputs[i].Shape()
		if s.Rank() != rank {
			return errs.New(errs.InvalidArgument, "Concat: rank mismatch among inputs")
		}
		for d := 0; d < rank; d++ {
			if int64(d) == axis {
				continue
			}
			if s.Extents[d] != inputs[0].Shape().Extents[d] {
				return errs.Newf(errs.InvalidArgument, "Concat: extent mismatch on non-concat axis %d", d)
			}
		}
	}
	return nil
}

func (c *concatOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	rank := inputs[0].Shape().Rank()
	axis := concatAxis(rank, attrs)
	extents := append([]int64(nil), inputs[0].Shape().Extents...)
	extents[axis] = 0
	for _, in := range inputs {
		extents[axis] += in.Shape().Extents[axis]
	}
	return []types.Shape{types.New(extents...)}, nil
}

func (c *concatOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	rank := inputs[0].Shape().Rank()
	axis := concatAxis(rank, ctx.Attrs)
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	// outer = product of extents before axis, inner = product after axis.
	var outer, inner int64 = 1, 1
	for i := 0; i < int(axis); i++ {
		outer *= outputs[0].Shape().Extents[i]
	}
	for i := int(axis) + 1; i < rank; i++ {
		inner *= outputs[0].Shape().Extents[i]
	}

	axisOffset := int64(0)
	for _, in := range inputs {
		inData, err := in.Float32()
		if err != nil {
			return err
		}
		axisLen := in.Shape().Extents[axis]
		for o := int64(0); o < outer; o++ {
			for a := int64(0); a < axisLen; a++ {
				srcBase := (o*axisLen + a) * inner
				dstBase := (o*outputs[0].Shape().Extents[axis] + axisOffset + a) * inner
				copy(outData[dstBase:dstBase+inner], inData[srcBase:srcBase+inner])
			}
		}
		axisOffset += axisLen
	}
	return nil
}

// splitOp is the inverse of Concat: splits one input into len(sizes)
// outputs along "axis", with sizes given by the required "split" i64-list
// attribute.
type splitOp struct{}

func (s *splitOp) Name() string { return "Split" }

func (s *splitOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, "Split"); err != nil {
		return err
	}
	_, err := requireAttr(attrs, "split", "Split")
	return err
}

func (s *splitOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	sizes := attrs["split"].Ints
	axis := concatAxis(inputs[0].Shape().Rank(), attrs)
	shapes := make([]types.Shape, len(sizes))
	for i, sz := range sizes {
		extents := append([]int64(nil), inputs[0].Shape().Extents...)
		extents[axis] = sz
		shapes[i] = types.New(extents...)
	}
	return shapes, nil
}

func (s *splitOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	axis := concatAxis(inputs[0].Shape().Rank(), ctx.Attrs)
	rank := inputs[0].Shape().Rank()
	inData, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	var outer, inner int64 = 1, 1
	for i := 0; i < int(axis); i++ {
		outer *= inputs[0].Shape().Extents[i]
	}
	for i := int(axis) + 1; i < rank; i++ {
		inner *= inputs[0].Shape().Extents[i]
	}

	axisOffset := int64(0)
	fullAxisLen := inputs[0].Shape().Extents[axis]
	for _, out := range outputs {
		outData, err := out.Float32()
		if err != nil {
			return err
		}
		axisLen := out.Shape().Extents[axis]
		for o := int64(0); o < outer; o++ {
			for a := int64(0); a < axisLen; a++ {
				srcBase := (o*fullAxisLen + axisOffset + a) * inner
				dstBase := (o*axisLen + a) * inner
				copy(outData[dstBase:dstBase+inner], inData[srcBase:srcBase+inner])
			}
		}
		axisOffset += axisLen
	}
	return nil
}

// gatherOp implements axis-0 embedding-style lookup: {data, indices} ->
// rows of data selected by indices, which must be I32 or I64.
type gatherOp struct{}

func (g *gatherOp) Name() string { return "Gather" }

func (g *gatherOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 2, "Gather"); err != nil {
		return err
	}
	idx := inputs[1].DType()
	if idx != types.I32 && idx != types.I64 {
		return errs.New(errs.InvalidArgument, "Gather: indices must be i32 or i64")
	}
	return nil
}

func (g *gatherOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	data := inputs[0].Shape()
	idxCount := inputs[1].Shape().ElementCount()
	extents := append([]int64{idxCount}, data.Extents[1:]...)
	return []types.Shape{types.New(extents...)}, nil
}

func (g *gatherOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	data, err := inputs[0].Float32()
	if err != nil {
		return err
	}
	out, err := outputs[0].Float32()
	if err != nil {
		return err
	}
	rowLen := int64(1)
	for _, e := range inputs[0].Shape().Extents[1:] {
		rowLen *= e
	}
	indices, err := readIndices(inputs[1])
	if err != nil {
		return err
	}
	for i, idx := range indices {
		srcBase := idx * rowLen
		dstBase := int64(i) * rowLen
		copy(out[dstBase:dstBase+rowLen], data[srcBase:srcBase+rowLen])
	}
	return nil
}

func readIndices(t tensor.Tensor) ([]int64, error) {
	b := t.Bytes()
	switch t.DType() {
	case types.I32:
		n := len(b) / 4
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			v := int32(b[i*4]) | int32(b[i*4+1])<<8 | int32(b[i*4+2])<<16 | int32(b[i*4+3])<<24
			out[i] = int64(v)
		}
		return out, nil
	case types.I64:
		n := len(b) / 8
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			var v int64
			for j := 0; j < 8; j++ {
				v |= int64(b[i*8+j]) << (8 * j)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, errs.Newf(errs.InvalidArgument, "gather: unsupported index dtype %s", t.DType())
	}
}

// sliceOp wraps tensor.Slice for "starts"/"ends" i64-list attributes,
// copying the view into the preallocated output tensor.
type sliceOp struct{}

func (s *sliceOp) Name() string { return "Slice" }

func sliceBounds(attrs map[string]graph.Attribute) ([]int64, []int64, error) {
	starts, err := requireAttr(attrs, "starts", "Slice")
	if err != nil {
		return nil, nil, err
	}
	ends, err := requireAttr(attrs, "ends", "Slice")
	if err != nil {
		return nil, nil, err
	}
	return starts.Ints, ends.Ints, nil
}

func (s *sliceOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, "Slice"); err != nil {
		return err
	}
	starts, ends, err := sliceBounds(attrs)
	if err != nil {
		return err
	}
	if len(starts) != inputs[0].Shape().Rank() || len(ends) != inputs[0].Shape().Rank() {
		return errs.New(errs.InvalidArgument, "Slice: starts/ends rank mismatch")
	}
	return nil
}

func (s *sliceOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	starts, ends, err := sliceBounds(attrs)
	if err != nil {
		return nil, err
	}
	view, err := inputs[0].Slice(starts, ends)
	if err != nil {
		return nil, err
	}
	return []types.Shape{view.Shape()}, nil
}

func (s *sliceOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	starts, ends, err := sliceBounds(ctx.Attrs)
	if err != nil {
		return err
	}
	view, err := inputs[0].Slice(starts, ends)
	if err != nil {
		return err
	}
	return view.CopyTo(outputs[0])
}
