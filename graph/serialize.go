package graph

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// magic identifies the internal binary graph format ("IGPH").
const magic = uint32(0x49475048)

const formatVersion = uint16(1)

// Serialize writes the graph's internal binary form: a header, the value
// table, the node table, and the input/output id lists, all little-endian
// and length-prefixed.
func (g *Graph) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{buf: &buf}

	w.u32(magic)
	w.u16(formatVersion)
	w.u32(uint32(len(g.Values)))
	w.u32(uint32(len(g.insertOrder)))

	for vid := ValueID(1); vid <= g.nextValueID; vid++ {
		v, ok := g.Values[vid]
		if !ok {
			continue
		}
		w.u32(uint32(v.ID))
		w.str(v.Name)
		w.u32(uint32(v.DType))
		w.u32(uint32(len(v.Shape.Extents)))
		for i, e := range v.Shape.Extents {
			w.i64(e)
			w.u8(boolByte(i < len(v.Shape.Dynamic) && v.Shape.Dynamic[i]))
		}
		w.u32(uint32(v.Producer))
		if v.Constant != nil {
			w.u8(1)
			blob, err := v.Constant.Serialize()
			if err != nil {
				return nil, errs.Wrapf(errs.RuntimeError, err, "graph: serialize initializer %d", v.ID)
			}
			w.bytes(blob)
		} else {
			w.u8(0)
		}
	}

	for _, nid := range g.insertOrder {
		n := g.Nodes[nid]
		w.u32(uint32(n.ID))
		w.str(n.OpType)
		w.str(n.Name)
		w.u32(uint32(len(n.Inputs)))
		for _, in := range n.Inputs {
			w.u32(uint32(in))
		}
		w.u32(uint32(len(n.Outputs)))
		for _, out := range n.Outputs {
			w.u32(uint32(out))
		}
		w.u8(uint8(n.Device.Kind))
		w.u32(uint32(n.Device.Index))
		w.u32(uint32(len(n.Attrs)))
		for k, a := range n.Attrs {
			w.str(k)
			if err := w.attr(a); err != nil {
				return nil, errs.Wrapf(errs.RuntimeError, err, "graph: serialize attribute %q on node %d", k, n.ID)
			}
		}
	}

	w.u32(uint32(len(g.Inputs)))
	for _, id := range g.Inputs {
		w.u32(uint32(id))
	}
	w.u32(uint32(len(g.Outputs)))
	for _, id := range g.Outputs {
		w.u32(uint32(id))
	}

	if w.err != nil {
		return nil, errs.Wrap(errs.RuntimeError, w.err, "graph: serialize")
	}
	return buf.Bytes(), nil
}

// Deserialize parses the format written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	r := &reader{r: bytes.NewReader(data)}

	if got := r.u32(); got != magic {
		return nil, errs.Newf(errs.InvalidModel, "graph: bad magic number %x", got)
	}
	if v := r.u16(); v != formatVersion {
		return nil, errs.Newf(errs.InvalidModel, "graph: unsupported format version %d", v)
	}
	valueCount := r.u32()
	nodeCount := r.u32()

	g := New()
	for i := uint32(0); i < valueCount && r.err == nil; i++ {
		id := ValueID(r.u32())
		name := r.str()
		dtype := types.DataType(r.u32())
		rank := r.u32()
		extents := make([]int64, rank)
		dyn := make([]bool, rank)
		for j := range extents {
			extents[j] = r.i64()
			dyn[j] = r.u8() != 0
		}
		producer := NodeID(r.u32())
		hasConst := r.u8()
		v := &Value{
			ID:       id,
			Name:     name,
			Shape:    types.NewDynamic(extents, dyn),
			DType:    dtype,
			Producer: producer,
		}
		if hasConst == 1 {
			blob := r.bytes()
			if r.err != nil {
				return nil, errs.Wrap(errs.InvalidModel, r.err, "graph: deserialize initializer")
			}
			tc, err := tensor.Deserialize(blob, types.CPUDevice)
			if err != nil {
				return nil, errs.Wrapf(errs.InvalidModel, err, "graph: deserialize initializer for value %d", id)
			}
			v.Constant = &tc
		}
		g.Values[id] = v
		if uint32(id) > uint32(g.nextValueID) {
			g.nextValueID = id
		}
	}

	for i := uint32(0); i < nodeCount && r.err == nil; i++ {
		id := NodeID(r.u32())
		opType := r.str()
		name := r.str()
		numIn := r.u32()
		inputs := make([]ValueID, numIn)
		for j := range inputs {
			inputs[j] = ValueID(r.u32())
		}
		numOut := r.u32()
		outputs := make([]ValueID, numOut)
		for j := range outputs {
			outputs[j] = ValueID(r.u32())
		}
		deviceKind := types.DeviceKind(r.u8())
		deviceIndex := int(r.u32())
		numAttrs := r.u32()
		attrs := make(map[string]Attribute, numAttrs)
		for j := uint32(0); j < numAttrs; j++ {
			k := r.str()
			a, err := r.attr()
			if err != nil {
				return nil, errs.Wrapf(errs.InvalidModel, err, "graph: deserialize attribute %q on node %d", k, id)
			}
			attrs[k] = a
		}
		n := &Node{
			ID:      id,
			OpType:  opType,
			Name:    name,
			Inputs:  inputs,
			Outputs: outputs,
			Attrs:   attrs,
			Device:  types.Device{Kind: deviceKind, Index: deviceIndex},
		}
		g.Nodes[id] = n
		g.insertOrder = append(g.insertOrder, id)
		if uint32(id) > uint32(g.nextNodeID) {
			g.nextNodeID = id
		}
		for _, out := range outputs {
			if v, ok := g.Values[out]; ok {
				v.Producer = id
			}
		}
		for _, in := range inputs {
			if v, ok := g.Values[in]; ok {
				v.Consumers = append(v.Consumers, id)
			}
		}
	}

	numInputs := r.u32()
	g.Inputs = make([]ValueID, numInputs)
	for i := range g.Inputs {
		g.Inputs[i] = ValueID(r.u32())
	}
	numOutputs := r.u32()
	g.Outputs = make([]ValueID, numOutputs)
	for i := range g.Outputs {
		g.Outputs[i] = ValueID(r.u32())
	}

	if r.err != nil && r.err != io.EOF {
		return nil, errs.Wrap(errs.InvalidModel, r.err, "graph: deserialize")
	}
	return g, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// writer/reader are small length-prefixed binary helpers in the style of
// the encoding/binary + bytes.Buffer usage elsewhere in the runtime; errors
// are sticky so call sites can check once at the end.
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) u8(v uint8)   { w.write(v) }
func (w *writer) u16(v uint16) { w.write(v) }
func (w *writer) u32(v uint32) { w.write(v) }
func (w *writer) i64(v int64)  { w.write(v) }

func (w *writer) write(v interface{}) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = w.buf.WriteString(s)
}

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(b)
}

func (w *writer) attr(a Attribute) error {
	w.u8(uint8(a.Kind))
	switch a.Kind {
	case AttrInt:
		w.i64(a.Int)
	case AttrFloat:
		w.write(a.Float)
	case AttrString:
		w.str(a.Str)
	case AttrInts:
		w.u32(uint32(len(a.Ints)))
		for _, v := range a.Ints {
			w.i64(v)
		}
	case AttrFloats:
		w.u32(uint32(len(a.Floats)))
		for _, v := range a.Floats {
			w.write(v)
		}
	case AttrTensor:
		blob, err := a.Tensor.Serialize()
		if err != nil {
			return err
		}
		w.bytes(blob)
	}
	return w.err
}

type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) u8() uint8 {
	var v uint8
	r.read(&v)
	return v
}
func (r *reader) u16() uint16 {
	var v uint16
	r.read(&v)
	return v
}
func (r *reader) u32() uint32 {
	var v uint32
	r.read(&v)
	return v
}
func (r *reader) i64() int64 {
	var v int64
	r.read(&v)
	return v
}
func (r *reader) f32() float32 {
	var v float32
	r.read(&v)
	return v
}

func (r *reader) read(v interface{}) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.LittleEndian, v)
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *reader) attr() (Attribute, error) {
	kind := AttrKind(r.u8())
	switch kind {
	case AttrInt:
		return Attribute{Kind: kind, Int: r.i64()}, r.err
	case AttrFloat:
		return Attribute{Kind: kind, Float: r.f32()}, r.err
	case AttrString:
		return Attribute{Kind: kind, Str: r.str()}, r.err
	case AttrInts:
		n := r.u32()
		vals := make([]int64, n)
		for i := range vals {
			vals[i] = r.i64()
		}
		return Attribute{Kind: kind, Ints: vals}, r.err
	case AttrFloats:
		n := r.u32()
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = r.f32()
		}
		return Attribute{Kind: kind, Floats: vals}, r.err
	case AttrTensor:
		blob := r.bytes()
		if r.err != nil {
			return Attribute{}, r.err
		}
		t, err := tensor.Deserialize(blob, types.CPUDevice)
		if err != nil {
			return Attribute{}, err
		}
		return Attribute{Kind: kind, Tensor: t}, nil
	default:
		return Attribute{}, errs.Newf(errs.InvalidModel, "graph: unknown attribute kind %d", kind)
	}
}
