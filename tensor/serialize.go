package tensor

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/types"
)

// Serialize writes the self-describing binary form
// [rank: u64][dims: i64 x rank][dtype: u32][nbytes: u64][bytes], all
// little-endian, with no padding and no version prefix.
func (t Tensor) Serialize() ([]byte, error) {
	if t.shape.IsDynamic() {
		return nil, errs.New(errs.InvalidArgument, "tensor: cannot serialize a dynamic shape")
	}
	var buf bytes.Buffer
	rank := uint64(t.shape.Rank())
	if err := binary.Write(&buf, binary.LittleEndian, rank); err != nil {
		return nil, errs.Wrap(errs.RuntimeError, err, "tensor: serialize rank")
	}
	for _, d := range t.shape.Extents {
		if err := binary.Write(&buf, binary.LittleEndian, d); err != nil {
			return nil, errs.Wrap(errs.RuntimeError, err, "tensor: serialize dims")
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(t.dtype)); err != nil {
		return nil, errs.Wrap(errs.RuntimeError, err, "tensor: serialize dtype")
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(t.data))); err != nil {
		return nil, errs.Wrap(errs.RuntimeError, err, "tensor: serialize nbytes")
	}
	if _, err := buf.Write(t.data); err != nil {
		return nil, errs.Wrap(errs.RuntimeError, err, "tensor: serialize data")
	}
	return buf.Bytes(), nil
}

// Deserialize parses the format written by Serialize. The returned tensor
// owns freshly copied storage on device.
func Deserialize(data []byte, device types.Device) (Tensor, error) {
	r := bytes.NewReader(data)

	var rank uint64
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return Tensor{}, errs.Wrap(errs.InvalidArgument, err, "tensor: deserialize rank")
	}
	dims := make([]int64, rank)
	for i := range dims {
		if err := binary.Read(r, binary.LittleEndian, &dims[i]); err != nil {
			return Tensor{}, errs.Wrap(errs.InvalidArgument, err, "tensor: deserialize dims")
		}
	}
	var dtypeRaw uint32
	if err := binary.Read(r, binary.LittleEndian, &dtypeRaw); err != nil {
		return Tensor{}, errs.Wrap(errs.InvalidArgument, err, "tensor: deserialize dtype")
	}
	dtype := types.DataType(dtypeRaw)
	if !dtype.Valid() {
		return Tensor{}, errs.Newf(errs.InvalidArgument, "tensor: deserialize unknown dtype %d", dtypeRaw)
	}
	var nbytes uint64
	if err := binary.Read(r, binary.LittleEndian, &nbytes); err != nil {
		return Tensor{}, errs.Wrap(errs.InvalidArgument, err, "tensor: deserialize nbytes")
	}
	payload := make([]byte, nbytes)
	if nbytes > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Tensor{}, errs.Wrap(errs.InvalidArgument, err, "tensor: deserialize payload truncated")
		}
	}
	shape := types.New(dims...)
	want := shape.ElementCount() * int64(dtype.ByteWidth())
	if want != int64(nbytes) {
		return Tensor{}, errs.Newf(errs.InvalidArgument, "tensor: deserialize byte count %d does not match shape %s dtype %s", nbytes, shape, dtype)
	}
	zero := int32(0)
	return Tensor{
		shape:      shape,
		dtype:      dtype,
		device:     device,
		data:       payload,
		owned:      true,
		aliasCount: &zero,
	}, nil
}
