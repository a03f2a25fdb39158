package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGGUFFixture writes a minimal v3 GGUF file: one string KV (arch =
// "llama"), a handful of llama.* config keys, and one F32 tensor of shape
// [2, 4] with real payload bytes placed at the aligned data-base offset.
func buildGGUFFixture(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	writeU32 := func(v uint32) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeU64 := func(v uint64) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeF32 := func(v float32) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		buf.WriteString(s)
	}

	const ggufMagic = 0x46554747
	writeU32(ggufMagic)
	writeU32(3)
	writeU64(1) // tensor count
	writeU64(3) // kv count

	writeString("general.architecture")
	writeU32(8) // vtString
	writeString("llama")

	writeString("llama.block_count")
	writeU32(4) // vtUint32
	writeU32(2)

	writeString("llama.attention.head_count")
	writeU32(4) // vtUint32
	writeU32(2)

	writeString("blk.0.attn_q.weight")
	writeU32(2) // ndims
	writeU64(4) // innermost dim
	writeU64(2) // outermost dim
	writeU32(0) // ggmlF32
	writeU64(0) // offset

	headerLen := buf.Len()
	aligned := headerLen
	if rem := aligned % 32; rem != 0 {
		aligned += 32 - rem
	}
	buf.Write(make([]byte, aligned-headerLen))

	for i := 0; i < 8; i++ {
		writeF32(float32(i) + 0.5)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	tokPath := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(tokPath, []byte(`{"version":"1.0"}`), 0o644))

	return dir
}

func TestConvertEndToEndGGUFToF16(t *testing.T) {
	dir := buildGGUFFixture(t)
	baseDir := t.TempDir()

	d, err := NewDriver(baseDir)
	require.NoError(t, err)

	var stages []Stage
	m, err := d.Convert(context.Background(), Request{
		Input: InputSet{Paths: []string{
			filepath.Join(dir, "model.gguf"),
			filepath.Join(dir, "tokenizer.json"),
		}},
		Progress: func(e Event) { stages = append(stages, e.Stage) },
	})
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "llama3", m.Inference.PresetID)
	assert.NotEmpty(t, m.ModelID)
	assert.Equal(t, "F16", m.Quantization.Weight)
	require.Len(t, m.Shards, 1)
	assert.NotEmpty(t, m.Shards[0].Hash)

	manifestPath := filepath.Join(baseDir, m.ModelID, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, m.ModelID, onDisk["modelId"])

	shardPath := filepath.Join(baseDir, m.ModelID, "shard-00000.bin")
	_, err = os.Stat(shardPath)
	require.NoError(t, err)

	tokPath := filepath.Join(baseDir, m.ModelID, "tokenizer.json")
	_, err = os.Stat(tokPath)
	require.NoError(t, err)

	require.Contains(t, stages, StageDetecting)
	require.Contains(t, stages, StageParsing)
	require.Contains(t, stages, StageWriting)
	require.Contains(t, stages, StageManifest)
	require.Contains(t, stages, StageComplete)
	assert.NotContains(t, stages, StageError)
}

func TestConvertCancelledBeforeStartCleansUpNothingToClean(t *testing.T) {
	dir := buildGGUFFixture(t)
	baseDir := t.TempDir()

	d, err := NewDriver(baseDir)
	require.NoError(t, err)

	_, err = d.Convert(context.Background(), Request{
		Input: InputSet{Paths: []string{
			filepath.Join(dir, "model.gguf"),
			filepath.Join(dir, "tokenizer.json"),
		}},
		Cancelled: func() bool { return true },
	})
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConvertUnknownFamilyCleansUpStore(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	writeU32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	writeU64 := func(v uint64) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		buf.WriteString(s)
	}
	writeU32(0x46554747)
	writeU32(3)
	writeU64(0) // no tensors
	writeU64(1) // one kv
	writeString("general.architecture")
	writeU32(8)
	writeString("some-made-up-architecture")

	path := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	tokPath := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(tokPath, []byte(`{}`), 0o644))

	baseDir := t.TempDir()
	d, err := NewDriver(baseDir)
	require.NoError(t, err)

	_, err = d.Convert(context.Background(), Request{
		Input: InputSet{Paths: []string{path, tokPath}},
	})
	require.Error(t, err)
	assert.Equal(t, KindUnknownFamily, KindOf(err))

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
