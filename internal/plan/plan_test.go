package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/dtype"
)

func TestBuildQuantizationPlanQ4KMFallsBackEmbeddingAndOutput(t *testing.T) {
	qp, err := BuildQuantizationPlan(Options{Weights: PolicyQ4KM, ComputePrecision: dtype.F16})
	require.NoError(t, err)
	assert.Equal(t, dtype.Q4_K_M, qp.Weight)
	assert.Equal(t, dtype.F16, qp.Embedding)
	assert.Equal(t, dtype.F16, qp.OutputHead)
	assert.Equal(t, "q4km-embf16-outf16", qp.VariantTag)
}

func TestBuildTensorPlanPassthroughForPreQuantized(t *testing.T) {
	qp, err := BuildQuantizationPlan(Options{Weights: PolicyQ4KM, ComputePrecision: dtype.F16})
	require.NoError(t, err)
	tp, err := BuildTensorPlan(TensorEntry{
		Name: "blk.0.attn_q.weight", Shape: []uint64{256, 256}, DType: dtype.Q4_K, Size: 1000,
	}, qp)
	require.NoError(t, err)
	assert.Equal(t, dtype.Q4_K, tp.TargetDType)
	assert.EqualValues(t, 1000, tp.TargetSize)
}

func TestBuildTensorPlanExcludesNormFromQuantization(t *testing.T) {
	qp, err := BuildQuantizationPlan(Options{Weights: PolicyQ4KM, ComputePrecision: dtype.F16})
	require.NoError(t, err)
	tp, err := BuildTensorPlan(TensorEntry{
		Name: "model.layers.0.input_layernorm.weight", Shape: []uint64{256}, DType: dtype.F32, Size: 1024,
	}, qp)
	require.NoError(t, err)
	assert.Equal(t, dtype.F16, tp.TargetDType)
}

func TestBuildTensorPlanQuantizesAttentionWeight(t *testing.T) {
	qp, err := BuildQuantizationPlan(Options{Weights: PolicyQ4KM, ComputePrecision: dtype.F16})
	require.NoError(t, err)
	tp, err := BuildTensorPlan(TensorEntry{
		Name: "model.layers.0.self_attn.q_proj.weight", Shape: []uint64{256, 256}, DType: dtype.F32, Size: 256 * 256 * 4,
	}, qp)
	require.NoError(t, err)
	assert.Equal(t, dtype.Q4_K_M, tp.TargetDType)
}

func TestBuildTensorPlanQ4KMRowLayoutPadsPerRow(t *testing.T) {
	qp, err := BuildQuantizationPlan(Options{Weights: PolicyQ4KM, ComputePrecision: dtype.F16})
	require.NoError(t, err)
	// 300 elements/row needs 2 super-blocks/row (ceil(300/256)), closed and
	// padded independently for each of the 3 rows: 3*2*144, not
	// ceil(900/256)*144 as if the whole tensor were one flattened stream.
	tp, err := BuildTensorPlan(TensorEntry{
		Name: "model.layers.0.self_attn.q_proj.weight", Shape: []uint64{3, 300}, DType: dtype.F32, Size: 3 * 300 * 4,
	}, qp)
	require.NoError(t, err)
	assert.Equal(t, dtype.Q4_K_M, tp.TargetDType)
	assert.EqualValues(t, 3*2*144, tp.TargetSize)
}
