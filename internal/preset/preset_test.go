package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/modelconfig"
)

func TestDetectSpecificShadowsGeneric(t *testing.T) {
	reg := Load()
	cfg := &modelconfig.Config{ModelType: "gemma2", Extra: map[string]any{}}
	p, ok := reg.Detect(cfg)
	require.True(t, ok)
	assert.Equal(t, "gemma2", p.ID)
}

func TestDetectGemma3NotGemma2(t *testing.T) {
	reg := Load()
	cfg := &modelconfig.Config{ModelType: "gemma3", Extra: map[string]any{}}
	p, ok := reg.Detect(cfg)
	require.True(t, ok)
	assert.Equal(t, "gemma3", p.ID)
}

func TestDetectUnknownFamilyReturnsGenericWithFalse(t *testing.T) {
	reg := Load()
	cfg := &modelconfig.Config{ModelType: "UnknownFooBar", Extra: map[string]any{}}
	p, ok := reg.Detect(cfg)
	assert.False(t, ok)
	require.NotNil(t, p)
	assert.Equal(t, GenericID, p.ID)
}

func TestKernelPathForGemma2F16(t *testing.T) {
	reg := Load()
	p, ok := reg.Get("gemma2")
	require.True(t, ok)
	id, ok := p.KernelPath("f16", "f16")
	require.True(t, ok)
	assert.Equal(t, "gemma2-f16-f16a", id)
}

func TestKernelPathCanonicalization(t *testing.T) {
	kreg := LoadKernelPaths()
	canon, err := kreg.Canonicalize("llama-q4km-f16a")
	require.NoError(t, err)
	assert.Equal(t, "llama3-q4km-f16a", canon)
}

func TestExtendsInheritsDefaults(t *testing.T) {
	reg := Load()
	p, ok := reg.Get("gemma3")
	require.True(t, ok)
	assert.InDelta(t, 1e-6, p.Defaults.RMSNormEps, 1e-12)
}
