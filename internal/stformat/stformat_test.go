package stformat

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHeader(t *testing.T, header map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(body))))
	buf.Write(body)
	return buf.Bytes()
}

func TestDecodeSingleFile(t *testing.T) {
	data := buildHeader(t, map[string]any{
		"emb": map[string]any{
			"dtype":        "F16",
			"shape":        []int{4, 2},
			"data_offsets": []int64{0, 16},
		},
		"__metadata__": map[string]string{"model_type": "gemma2"},
	})

	fh, err := Decode(bytes.NewReader(data), "model.safetensors")
	require.NoError(t, err)
	require.Len(t, fh.Entries, 1)
	assert.Equal(t, "emb", fh.Entries[0].Name)
	assert.EqualValues(t, 16, fh.Entries[0].Size)
	assert.Equal(t, "gemma2", fh.Metadata["model_type"])
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	data := buildHeader(t, map[string]any{
		"bad": map[string]any{
			"dtype":        "F32",
			"shape":        []int{2, 2},
			"data_offsets": []int64{0, 8}, // should be 16
		},
	})
	_, err := Decode(bytes.NewReader(data), "x.safetensors")
	assert.Error(t, err)
}

func TestMergeShardedNoIndexRejectsCollision(t *testing.T) {
	perFile := map[string]*FileHeader{
		"a.safetensors": {Entries: []TensorDirectoryEntry{{Name: "dup", ShardFile: "a.safetensors"}}},
		"b.safetensors": {Entries: []TensorDirectoryEntry{{Name: "dup", ShardFile: "b.safetensors"}}},
	}
	_, err := MergeShardedNoIndex(perFile)
	assert.Error(t, err)
}

func TestMergeShardedWithIndex(t *testing.T) {
	idx := &Index{WeightMap: map[string]string{"emb": "a.safetensors"}}
	perFile := map[string]*FileHeader{
		"a.safetensors": {Entries: []TensorDirectoryEntry{{Name: "emb", ShardFile: "a.safetensors", Size: 10}}},
	}
	entries, err := MergeSharded(idx, perFile)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "emb", entries[0].Name)
}
