package tensor

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/types"
)

func TestNewAllocatesZeroedAlignedStorage(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(2, 3), types.F32, types.CPUDevice)
	require.NoError(t, err)
	assert.True(t, tr.Owned())
	assert.Equal(t, 24, len(tr.Bytes()))
	for _, b := range tr.Bytes() {
		assert.Zero(t, b)
	}
	assert.Zero(t, uintptr(unsafe.Pointer(&tr.Bytes()[0]))%minAlignment)
}

func TestNewRejectsDynamicShape(t *testing.T) {
	t.Parallel()
	shape := types.NewDynamic([]int64{-1, 4}, []bool{true, false})
	_, err := New(shape, types.F32, types.CPUDevice)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestReshapeSharesStorage(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(2, 3), types.F32, types.CPUDevice)
	require.NoError(t, err)

	vals, err := tr.Float32()
	require.NoError(t, err)
	vals[0] = 42

	view, err := tr.Reshape(types.New(6))
	require.NoError(t, err)

	viewVals, err := view.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(42), viewVals[0])
}

func TestReshapeRejectsElementCountChange(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(2, 3), types.F32, types.CPUDevice)
	require.NoError(t, err)
	_, err = tr.Reshape(types.New(2, 4))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestSliceProducesSubRangeView(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(4), types.F32, types.CPUDevice)
	require.NoError(t, err)
	vals, err := tr.Float32()
	require.NoError(t, err)
	for i := range vals {
		vals[i] = float32(i)
	}

	view, err := tr.Slice([]int64{1}, []int64{3})
	require.NoError(t, err)
	viewVals, err := view.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, viewVals)
}

func TestSliceNegativeIndicesAndClamping(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(5), types.F32, types.CPUDevice)
	require.NoError(t, err)

	view, err := tr.Slice([]int64{-2}, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Shape().Extents[0])
}

func TestSliceRejectsEmptyRange(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(5), types.F32, types.CPUDevice)
	require.NoError(t, err)
	_, err = tr.Slice([]int64{3}, []int64{3})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestSliceRejectsRankMismatch(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(2, 3), types.F32, types.CPUDevice)
	require.NoError(t, err)
	_, err = tr.Slice([]int64{0}, []int64{1})
	require.Error(t, err)
}

func TestFillValueAndFillZero(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(3), types.F32, types.CPUDevice)
	require.NoError(t, err)
	require.NoError(t, tr.FillValue(5))
	vals, _ := tr.Float32()
	assert.Equal(t, []float32{5, 5, 5}, vals)

	require.NoError(t, tr.FillZero())
	vals, _ = tr.Float32()
	assert.Equal(t, []float32{0, 0, 0}, vals)
}

func TestCopyToRequiresMatchingShapeAndDType(t *testing.T) {
	t.Parallel()
	src, _ := New(types.New(3), types.F32, types.CPUDevice)
	dstWrongShape, _ := New(types.New(4), types.F32, types.CPUDevice)
	err := src.CopyTo(dstWrongShape)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	dstWrongDType, _ := New(types.New(3), types.I32, types.CPUDevice)
	err = src.CopyTo(dstWrongDType)
	require.Error(t, err)
}

func TestCopyToSameDeviceCopiesBytes(t *testing.T) {
	t.Parallel()
	src, _ := New(types.New(3), types.F32, types.CPUDevice)
	require.NoError(t, src.FillValue(7))
	dst, _ := New(types.New(3), types.F32, types.CPUDevice)
	require.NoError(t, src.CopyTo(dst))
	vals, _ := dst.Float32()
	assert.Equal(t, []float32{7, 7, 7}, vals)
}

func TestCopyToCrossDeviceNotImplemented(t *testing.T) {
	t.Parallel()
	src, _ := New(types.New(3), types.F32, types.CPUDevice)
	dst, _ := New(types.New(3), types.F32, types.Device{Kind: types.CUDA, Index: 0})
	err := src.CopyTo(dst)
	require.Error(t, err)
	assert.Equal(t, errs.NotImplemented, errs.KindOf(err))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(2, 2), types.F32, types.CPUDevice)
	require.NoError(t, err)
	vals, _ := tr.Float32()
	vals[0], vals[1], vals[2], vals[3] = 1, 2, 3, 4

	blob, err := tr.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(blob, types.CPUDevice)
	require.NoError(t, err)
	assert.True(t, got.Shape().Equal(tr.Shape()))
	assert.Equal(t, tr.DType(), got.DType())
	assert.Equal(t, tr.Bytes(), got.Bytes())
}

func TestDeserializeRejectsTruncatedPayload(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(4), types.F32, types.CPUDevice)
	require.NoError(t, err)
	blob, err := tr.Serialize()
	require.NoError(t, err)

	_, err = Deserialize(blob[:len(blob)-4], types.CPUDevice)
	require.Error(t, err)
}

func TestDeserializeRejectsShapeByteMismatch(t *testing.T) {
	t.Parallel()
	tr, err := New(types.New(4), types.F32, types.CPUDevice)
	require.NoError(t, err)
	blob, err := tr.Serialize()
	require.NoError(t, err)

	// Corrupt the dtype field (rank u64 = 8 bytes precedes 1 dim i64 = 8
	// bytes, so dtype starts at offset 16) to claim a wider element type.
	blob[16] = byte(types.I64)
	_, err = Deserialize(blob, types.CPUDevice)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}
