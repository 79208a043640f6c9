// Package tensor implements the runtime's tensor foundation: owning and
// borrowed buffers, view-producing reshape/slice, fill/copy helpers, and a
// self-describing binary serialization format.
package tensor

import (
	"unsafe"

	"github.com/chewxy/math32"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/types"
)

// minAlignment is the minimum CPU storage alignment required for freshly
// allocated tensor storage.
const minAlignment = 16

// Tensor is the tuple (shape, dtype, device, data handle, ownership bit);
// it carries no memory-layout tag. A Tensor with owned == false is a view: it shares
// storage with whatever tensor produced it and must not outlive that
// producer.
type Tensor struct {
	shape  types.Shape
	dtype  types.DataType
	device types.Device
	data   []byte
	owned  bool

	// aliasCount, when non-nil, is shared between a producer and every view
	// derived from it; it counts the views ever derived from the producer's
	// storage (it is never decremented) so mutation can refuse aliased writes.
	aliasCount *int32
}

// New allocates fresh, zero-filled, owning storage for shape/dtype on
// device. Storage is aligned to at least 16 bytes on CPU.
func New(shape types.Shape, dtype types.DataType, device types.Device) (Tensor, error) {
	if shape.IsDynamic() {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: cannot allocate storage for a dynamic shape")
	}
	if !dtype.Valid() {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: invalid dtype")
	}
	nbytes := shape.ElementCount() * int64(dtype.ByteWidth())
	if nbytes < 0 {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: negative byte size")
	}
	buf, err := alignedBytes(int(nbytes), minAlignment)
	if err != nil {
		return Tensor{}, errs.Wrap(errs.OutOfMemory, err, "tensor: allocation failed")
	}
	zero := int32(0)
	return Tensor{
		shape:      shape.Clone(),
		dtype:      dtype,
		device:     device,
		data:       buf,
		owned:      true,
		aliasCount: &zero,
	}, nil
}

// FromBorrow wraps an existing byte slice as a non-owning view. The caller
// retains responsibility for the backing storage's lifetime.
func FromBorrow(shape types.Shape, dtype types.DataType, device types.Device, data []byte) Tensor {
	zero := int32(0)
	return Tensor{
		shape:      shape.Clone(),
		dtype:      dtype,
		device:     device,
		data:       data,
		owned:      false,
		aliasCount: &zero,
	}
}

func alignedBytes(size, align int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size+align-1)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := ptr % uintptr(align); mod != 0 {
		offset = align - int(mod)
	}
	return buf[offset : offset+size : offset+size], nil
}

// Shape returns the tensor's shape.
func (t Tensor) Shape() types.Shape { return t.shape }

// DType returns the tensor's element type.
func (t Tensor) DType() types.DataType { return t.dtype }

// Device returns the device the tensor's storage lives on.
func (t Tensor) Device() types.Device { return t.device }

// Owned reports whether the tensor owns its storage.
func (t Tensor) Owned() bool { return t.owned }

// Bytes returns the raw backing storage. Callers must not retain it beyond
// the tensor's lifetime.
func (t Tensor) Bytes() []byte { return t.data }

// Writable reports whether the tensor may be mutated in place: it must own
// its storage and no view may have been derived from it. A view is never
// writable, even when it is the only view of its producer.
func (t Tensor) Writable() bool {
	if t.aliasCount == nil {
		return t.owned
	}
	return t.owned && *t.aliasCount == 0
}

// Float32 reinterprets the storage as a []float32. The dtype must be F32.
func (t Tensor) Float32() ([]float32, error) {
	if t.dtype != types.F32 {
		return nil, errs.Newf(errs.InvalidArgument, "tensor: Float32 called on dtype %s", t.dtype)
	}
	if len(t.data) == 0 {
		return nil, nil
	}
	if len(t.data)%4 != 0 {
		return nil, errs.New(errs.InvalidArgument, "tensor: storage not 4-byte aligned to element count")
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), len(t.data)/4), nil
}

// Reshape returns a view over the same storage with a new shape. Fails if
// the element count changes.
func (t Tensor) Reshape(newShape types.Shape) (Tensor, error) {
	if newShape.IsDynamic() || t.shape.IsDynamic() {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: reshape requires static shapes")
	}
	if newShape.ElementCount() != t.shape.ElementCount() {
		return Tensor{}, errs.Newf(errs.InvalidArgument, "tensor: reshape %s -> %s changes element count", t.shape, newShape)
	}
	view := t
	view.shape = newShape.Clone()
	view.owned = false
	t.addAlias()
	return view, nil
}

// Slice returns a view of the half-open per-axis range [starts[i], ends[i])
// for every axis. Negative indices count from the end and are clamped to
// [0, extent].
func (t Tensor) Slice(starts, ends []int64) (Tensor, error) {
	rank := t.shape.Rank()
	if len(starts) != rank || len(ends) != rank {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: slice rank mismatch")
	}
	strides := t.shape.ContiguousStrides()
	newExtents := make([]int64, rank)
	var byteOffset int64
	elemSize := int64(t.dtype.ByteWidth())
	for i := 0; i < rank; i++ {
		extent := t.shape.Extents[i]
		s, e := clampRange(starts[i], ends[i], extent)
		if e <= s {
			return Tensor{}, errs.Newf(errs.InvalidArgument, "tensor: slice axis %d produced an empty range", i)
		}
		newExtents[i] = e - s
		byteOffset += s * strides[i] * elemSize
	}
	length := int64(1)
	for _, e := range newExtents {
		length *= e
	}
	nbytes := length * elemSize
	if byteOffset+nbytes > int64(len(t.data)) {
		return Tensor{}, errs.New(errs.InvalidArgument, "tensor: slice out of bounds")
	}
	view := Tensor{
		shape:      types.New(newExtents...),
		dtype:      t.dtype,
		device:     t.device,
		data:       t.data[byteOffset : byteOffset+nbytes],
		owned:      false,
		aliasCount: t.aliasCount,
	}
	t.addAlias()
	return view, nil
}

func clampRange(start, end, extent int64) (int64, int64) {
	if start < 0 {
		start += extent
	}
	if end < 0 {
		end += extent
	}
	if start < 0 {
		start = 0
	}
	if start > extent {
		start = extent
	}
	if end < 0 {
		end = 0
	}
	if end > extent {
		end = extent
	}
	return start, end
}

func (t Tensor) addAlias() {
	if t.aliasCount != nil {
		*t.aliasCount++
	}
}

// FillZero zeroes the storage. Fails if the tensor is not writable.
func (t Tensor) FillZero() error {
	if !t.Writable() {
		return errs.New(errs.InvalidArgument, "tensor: fill_zero on non-writable storage")
	}
	for i := range t.data {
		t.data[i] = 0
	}
	return nil
}

// FillValue fills every element with v, reinterpreting storage per dtype.
// F32 takes any value; other dtypes accept only 0 (a zero fill) and return
// InvalidArgument for NaN and NotImplemented for any other value.
func (t Tensor) FillValue(v float32) error {
	if !t.Writable() {
		return errs.New(errs.InvalidArgument, "tensor: fill_value on non-writable storage")
	}
	switch t.dtype {
	case types.F32:
		vals, err := t.Float32()
		if err != nil {
			return err
		}
		for i := range vals {
			vals[i] = v
		}
		return nil
	default:
		if v == 0 {
			return t.FillZero()
		}
		if math32.IsNaN(v) {
			return errs.New(errs.InvalidArgument, "tensor: NaN fill value")
		}
		return errs.Newf(errs.NotImplemented, "tensor: fill_value not implemented for dtype %s", t.dtype)
	}
}

// DeepClone returns a new owning tensor with its own backing storage (a
// fresh copy of t's bytes) and its own alias count, independent of t and
// any view derived from it. Unlike Reshape/Slice, mutating the clone never
// touches t's storage.
func (t Tensor) DeepClone() Tensor {
	var data []byte
	if len(t.data) > 0 {
		data = append([]byte(nil), t.data...)
	}
	zero := int32(0)
	return Tensor{
		shape:      t.shape.Clone(),
		dtype:      t.dtype,
		device:     t.device,
		data:       data,
		owned:      true,
		aliasCount: &zero,
	}
}

// CopyTo copies this tensor's contents into dst. Requires matching shape and
// dtype. Cross-device copy is not implemented here; see provider bridges.
func (t Tensor) CopyTo(dst Tensor) error {
	if !t.shape.Equal(dst.shape) {
		return errs.Newf(errs.InvalidArgument, "tensor: copy_to shape mismatch %s -> %s", t.shape, dst.shape)
	}
	if t.dtype != dst.dtype {
		return errs.Newf(errs.InvalidArgument, "tensor: copy_to dtype mismatch %s -> %s", t.dtype, dst.dtype)
	}
	if !dst.Writable() {
		return errs.New(errs.InvalidArgument, "tensor: copy_to destination not writable")
	}
	if t.device != dst.device {
		return errs.Newf(errs.NotImplemented, "tensor: cross-device copy %s -> %s requires a device bridge", t.device, dst.device)
	}
	copy(dst.data, t.data)
	return nil
}
