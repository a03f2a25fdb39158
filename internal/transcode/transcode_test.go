package transcode

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/quant"
)

func f32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func TestPassthroughReturnsSameStream(t *testing.T) {
	src := SliceChunks([]byte{1, 2, 3, 4}, 2)
	out, err := TargetChunks(src, dtype.F16, dtype.F16, LayoutFlat, 0)
	require.NoError(t, err)
	assert.Same(t, src, out)
}

func TestF32ToF16Conversion(t *testing.T) {
	var raw []byte
	raw = append(raw, f32Bytes(1.5)...)
	raw = append(raw, f32Bytes(-2.25)...)
	src := SliceChunks(raw, 3) // chunk boundary splits an element
	out, err := TargetChunks(src, dtype.F32, dtype.F16, LayoutFlat, 0)
	require.NoError(t, err)

	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, got, 4)

	bits0 := uint16(got[0]) | uint16(got[1])<<8
	bits1 := uint16(got[2]) | uint16(got[3])<<8
	assert.InDelta(t, 1.5, dtype.F16ToF32(bits0), 0.001)
	assert.InDelta(t, -2.25, dtype.F16ToF32(bits1), 0.001)
}

func TestMidElementEOFIsAlignmentError(t *testing.T) {
	src := SliceChunks([]byte{0, 0, 0}, 3) // 3 bytes, F32 needs 4
	out, err := TargetChunks(src, dtype.F32, dtype.F16, LayoutFlat, 0)
	require.NoError(t, err)
	_, err = Collect(context.Background(), out)
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestColLayoutRejected(t *testing.T) {
	src := SliceChunks([]byte{0, 0, 0, 0}, 4)
	_, err := TargetChunks(src, dtype.F32, dtype.Q4_K_M, LayoutCol, 256)
	assert.Error(t, err)
}

func TestQ4KMRowLayoutEmitsOneSuperBlockPerRow(t *testing.T) {
	const rows, cols = 4, quant.SuperBlockElements
	var raw []byte
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			raw = append(raw, f32Bytes(float32(r+c))...)
		}
	}
	src := SliceChunks(raw, 37) // deliberately misaligned chunk size
	out, err := TargetChunks(src, dtype.F32, dtype.Q4_K_M, LayoutRow, cols)
	require.NoError(t, err)

	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, rows*quant.Q4KBlockSize, len(got))
}

func TestQ4KMFlatLayoutPadsFinalBlock(t *testing.T) {
	raw := make([]byte, 0, quant.SuperBlockElements/2*4)
	for i := 0; i < quant.SuperBlockElements/2; i++ {
		raw = append(raw, f32Bytes(float32(i))...)
	}
	src := SliceChunks(raw, 16)
	out, err := TargetChunks(src, dtype.F32, dtype.Q4_K_M, LayoutFlat, 0)
	require.NoError(t, err)

	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, quant.Q4KBlockSize, len(got))
}
