package graph

import (
	"github.com/sbl8/infergraph/tensor"
)

// AttrKind tags the active member of an Attribute.
type AttrKind uint8

const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
	AttrTensor
)

// Attribute is the tagged union string->{i64|f32|string|i64-list|f32-list|tensor}.
// Exactly the field matching Kind is meaningful.
type Attribute struct {
	Kind   AttrKind
	Int    int64
	Float  float32
	Str    string
	Ints   []int64
	Floats []float32
	Tensor tensor.Tensor
}

func Int(v int64) Attribute        { return Attribute{Kind: AttrInt, Int: v} }
func Float(v float32) Attribute    { return Attribute{Kind: AttrFloat, Float: v} }
func String(v string) Attribute    { return Attribute{Kind: AttrString, Str: v} }
func Ints(v []int64) Attribute     { return Attribute{Kind: AttrInts, Ints: append([]int64(nil), v...)} }
func Floats(v []float32) Attribute {
	return Attribute{Kind: AttrFloats, Floats: append([]float32(nil), v...)}
}
func TensorAttr(v tensor.Tensor) Attribute { return Attribute{Kind: AttrTensor, Tensor: v} }
