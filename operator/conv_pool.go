package operator

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// convOp implements 2D convolution over NCHW tensors: inputs {input,
// weight, bias?}, attributes strides (i64-list, default [1,1]) and pads
// (i64-list, default [0,0,0,0] as top,left,bottom,right). Execute lowers
// the convolution to an im2col matrix times the reshaped weight matrix,
// using gonum's mat.Dense for the GEMM and gonum/floats for bias addition,
// the same matrix-product path matmul.go uses for plain MatMul.
type convOp struct{}

func (c *convOp) Name() string { return "Conv" }

func convStrides(attrs map[string]graph.Attribute) (int64, int64) {
	if a, ok := attrs["strides"]; ok && a.Kind == graph.AttrInts && len(a.Ints) == 2 {
		return a.Ints[0], a.Ints[1]
	}
	return 1, 1
}

func convPads(attrs map[string]graph.Attribute) (int64, int64, int64, int64) {
	if a, ok := attrs["pads"]; ok && a.Kind == graph.AttrInts && len(a.Ints) == 4 {
		return a.Ints[0], a.Ints[1], a.Ints[2], a.Ints[3]
	}
	return 0, 0, 0, 0
}

func (c *convOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if len(inputs) != 2 && len(inputs) != 3 {
		return errs.Newf(errs.InvalidArgument, "Conv: expected 2 or 3 inputs, got %d", len(inputs))
	}
	in, w := inputs[0], inputs[1]
	if in.Shape().Rank() != 4 || w.Shape().Rank() != 4 {
		return errs.New(errs.InvalidArgument, "Conv: input and weight must be rank 4 (NCHW / OIHW)")
	}
	if in.Shape().Extents[1] != w.Shape().Extents[1] {
		return errs.New(errs.InvalidArgument, "Conv: input channel count does not match weight")
	}
	return nil
}

func (c *convOp) outputSpatial(in, w types.Shape, attrs map[string]graph.Attribute) (int64, int64) {
	sh, sw := convStrides(attrs)
	pt, pl, pb, pr := convPads(attrs)
	h := (in.Extents[2]+pt+pb-w.Extents[2])/sh + 1
	wdt := (in.Extents[3]+pl+pr-w.Extents[3])/sw + 1
	return h, wdt
}

func (c *convOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	in, w := inputs[0].Shape(), inputs[1].Shape()
	oh, ow := c.outputSpatial(in, w, attrs)
	return []types.Shape{types.New(in.Extents[0], w.Extents[0], oh, ow)}, nil
}

// im2col lowers one batch element of shape (Cin, H, W) into a
// (Cin*KH*KW) x (OH*OW) matrix, one column per output position, so the
// convolution becomes a single weight x columns matrix product.
func im2col(inData []float32, Cin, H, W, KH, KW, OH, OW, sh, sw, pt, pl int64) *mat.Dense {
	rows := Cin * KH * KW
	cols := OH * OW
	data := make([]float64, rows*cols)
	for ic := int64(0); ic < Cin; ic++ {
		for ky := int64(0); ky < KH; ky++ {
			for kx := int64(0); kx < KW; kx++ {
				rowIdx := (ic*KH+ky)*KW + kx
				for oy := int64(0); oy < OH; oy++ {
					iy := oy*sh - pt + ky
					for ox := int64(0); ox < OW; ox++ {
						ix := ox*sw - pl + kx
						colIdx := oy*OW + ox
						if iy < 0 || iy >= H || ix < 0 || ix >= W {
							continue
						}
						data[rowIdx*cols+colIdx] = float64(inData[(ic*H+iy)*W+ix])
					}
				}
			}
		}
	}
	return mat.NewDense(int(rows), int(cols), data)
}

func (c *convOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in, w := inputs[0], inputs[1]
	var bias []float32
	if len(inputs) == 3 {
		var err error
		bias, err = inputs[2].Float32()
		if err != nil {
			return err
		}
	}
	inData, err := in.Float32()
	if err != nil {
		return err
	}
	wData, err := w.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}

	N, Cin, H, W := in.Shape().Extents[0], in.Shape().Extents[1], in.Shape().Extents[2], in.Shape().Extents[3]
	Cout, KH, KW := w.Shape().Extents[0], w.Shape().Extents[2], w.Shape().Extents[3]
	sh, sw := convStrides(ctx.Attrs)
	pt, pl, _, _ := convPads(ctx.Attrs)
	OH, OW := c.outputSpatial(in.Shape(), w.Shape(), ctx.Attrs)

	// weight reshaped to (Cout) x (Cin*KH*KW); wData is already laid out in
	// that order (oc, ic, ky, kx).
	wMat := mat.NewDense(int(Cout), int(Cin*KH*KW), float32ToFloat64(wData))
	perBatch := Cin * H * W
	outPerBatch := Cout * OH * OW

	for n := int64(0); n < N; n++ {
		cols := im2col(inData[n*perBatch:(n+1)*perBatch], Cin, H, W, KH, KW, OH, OW, sh, sw, pt, pl)
		var result mat.Dense
		result.Mul(wMat, cols)

		for oc := 0; oc < int(Cout); oc++ {
			row := result.RawRowView(oc)
			if bias != nil {
				floats.AddConst(float64(bias[oc]), row)
			}
			base := n*outPerBatch + int64(oc)*OH*OW
			for j, v := range row {
				outData[base+int64(j)] = float32(v)
			}
		}
	}
	return nil
}

type poolMode uint8

const (
	poolMax poolMode = iota
	poolAvg
)

// poolOp implements MaxPool/AveragePool over NCHW tensors: attributes
// kernel_shape (i64-list, required) and strides (i64-list, default =
// kernel). A pads attribute is not read: windows never extend past the
// input, so there is no padding. Each output element reduces its window
// via gonum/floats (Max for MaxPool, Sum/count for AveragePool) rather
// than a hand-rolled accumulator loop.
type poolOp struct {
	name string
	mode poolMode
}

func (p *poolOp) Name() string { return p.name }

func poolKernel(attrs map[string]graph.Attribute) (int64, int64, error) {
	a, ok := attrs["kernel_shape"]
	if !ok || a.Kind != graph.AttrInts || len(a.Ints) != 2 {
		return 0, 0, errs.Newf(errs.InvalidArgument, "%s: kernel_shape attribute is required", "pool")
	}
	return a.Ints[0], a.Ints[1], nil
}

func (p *poolOp) ValidateInputs(inputs []tensor.Tensor, attrs map[string]graph.Attribute) error {
	if err := requireArity(inputs, 1, p.name); err != nil {
		return err
	}
	if inputs[0].Shape().Rank() != 4 {
		return errs.Newf(errs.InvalidArgument, "%s: input must be rank 4 (NCHW)", p.name)
	}
	_, _, err := poolKernel(attrs)
	return err
}

func (p *poolOp) InferOutputShapes(inputs []tensor.Tensor, attrs map[string]graph.Attribute) ([]types.Shape, error) {
	in := inputs[0].Shape()
	kh, kw, err := poolKernel(attrs)
	if err != nil {
		return nil, err
	}
	sh, sw := convStrides(attrs)
	if _, ok := attrs["strides"]; !ok {
		sh, sw = kh, kw
	}
	oh := (in.Extents[2]-kh)/sh + 1
	ow := (in.Extents[3]-kw)/sw + 1
	return []types.Shape{types.New(in.Extents[0], in.Extents[1], oh, ow)}, nil
}

func (p *poolOp) Execute(inputs, outputs []tensor.Tensor, ctx ExecContext) error {
	in := inputs[0]
	kh, kw, err := poolKernel(ctx.Attrs)
	if err != nil {
		return err
	}
	sh, sw := convStrides(ctx.Attrs)
	if _, ok := ctx.Attrs["strides"]; !ok {
		sh, sw = kh, kw
	}
	inData, err := in.Float32()
	if err != nil {
		return err
	}
	outData, err := outputs[0].Float32()
	if err != nil {
		return err
	}

	N, C, H, W := in.Shape().Extents[0], in.Shape().Extents[1], in.Shape().Extents[2], in.Shape().Extents[3]
	OH := (H-kh)/sh + 1
	OW := (W-kw)/sw + 1

	window := make([]float64, 0, kh*kw)
	for n := int64(0); n < N; n++ {
		for c := int64(0); c < C; c++ {
			for oy := int64(0); oy < OH; oy++ {
				for ox := int64(0); ox < OW; ox++ {
					window = window[:0]
					for ky := int64(0); ky < kh; ky++ {
						iy := oy*sh + ky
						for kx := int64(0); kx < kw; kx++ {
							ix := ox*sw + kx
							idx := ((n*C+c)*H+iy)*W + ix
							window = append(window, float64(inData[idx]))
						}
					}
					var acc float64
					if p.mode == poolMax {
						acc = floats.Max(window)
					} else {
						acc = floats.Sum(window) / float64(len(window))
					}
					outIdx := ((n*C+c)*OH+oy)*OW + ox
					outData[outIdx] = float32(acc)
				}
			}
		}
	}
	return nil
}
