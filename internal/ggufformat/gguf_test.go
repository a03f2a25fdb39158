package ggufformat

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalGGUF writes a tiny v3 GGUF blob: one string KV
// (general.architecture = "llama") and one F32 tensor of shape [2, 3].
func buildMinimalGGUF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeU32 := func(v uint32) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeU64 := func(v uint64) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		buf.WriteString(s)
	}

	writeU32(magic)
	writeU32(3)
	writeU64(1) // tensor count
	writeU64(1) // kv count

	writeString("general.architecture")
	writeU32(uint32(vtString))
	writeString("llama")

	writeString("blk.weight")
	writeU32(2) // ndims
	writeU64(3) // innermost dim
	writeU64(2) // outermost dim
	writeU32(ggmlF32)
	writeU64(0) // offset

	return buf.Bytes()
}

func TestDecodeMinimalGGUF(t *testing.T) {
	data := buildMinimalGGUF(t)
	hdr, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, uint32(3), hdr.Version)
	assert.Equal(t, "llama", hdr.Architecture)
	require.Len(t, hdr.Tensors, 1)

	tensor := hdr.Tensors[0]
	assert.Equal(t, "blk.weight", tensor.Name)
	assert.Equal(t, []uint64{2, 3}, tensor.Shape)
	assert.EqualValues(t, 2*3*4, tensor.Size)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0, 0, 0, 0, 3, 0, 0, 0}))
	assert.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(magic)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(99)))
	_, err := Decode(&buf)
	assert.Error(t, err)
}
