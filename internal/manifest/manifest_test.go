package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/shardpack"
)

func TestBuildAndValidate(t *testing.T) {
	pr := &shardpack.Result{
		Shards: []shardpack.ShardInfo{{Index: 0, Filename: "shard-00000.bin", Size: 10, Hash: "abc", Offset: 0}},
		Locations: map[string]shardpack.TensorLocation{
			"t": {Single: &shardpack.Span{Shard: 0, Offset: 0, Size: 10}},
		},
		TotalSize: 10,
	}
	qp := &plan.QuantizationPlan{Weight: dtype.F16, Embedding: dtype.F16, OutputHead: dtype.F16, VariantTag: "f16-embf16-outf16"}

	m, err := Build(BuildInput{
		ModelID:   "m1",
		ModelType: "gemma2",
		QuantPlan: qp,
		PackResult: pr,
		PresetID:  "gemma2",
		KernelPathID: "gemma2-f16-f16a",
		HashAlgorithm: "sha256",
		Tokenizer: Tokenizer{Type: "sentencepiece", Assets: []string{"tokenizer.model"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ModelID)

	data, err := Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"modelId": "m1"`)
}

func TestValidateRejectsSizeMismatch(t *testing.T) {
	m := &Manifest{
		Shards:    []Shard{{Index: 0, Size: 10}},
		Tensors:   map[string]TensorLocation{"t": {Single: &Span{Shard: 0, Offset: 0, Size: 10}}},
		TotalSize: 99,
	}
	assert.Error(t, m.Validate())
}

func TestValidateRejectsDanglingShardReference(t *testing.T) {
	m := &Manifest{
		Shards:    []Shard{{Index: 0, Size: 10}},
		Tensors:   map[string]TensorLocation{"t": {Single: &Span{Shard: 1, Offset: 0, Size: 10}}},
		TotalSize: 10,
	}
	assert.Error(t, m.Validate())
}
