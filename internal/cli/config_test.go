package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Quantization.Weights)

	cfg, err = loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Quantization.Weights)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quant.yaml")
	contents := `
quantization:
  weights: q4_k_m
  columnLayout: false
sharding:
  shardSizeBytes: 4294967296
output:
  modelId: my-model
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "q4_k_m", cfg.Quantization.Weights)
	assert.Equal(t, int64(4294967296), cfg.Sharding.ShardSizeBytes)
	assert.Equal(t, "my-model", cfg.Output.ModelID)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quant.json")
	contents := `{"quantization": {"weights": "f16"}, "manifest": {"hashAlgorithm": "sha256"}}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "f16", cfg.Quantization.Weights)
	assert.Equal(t, "sha256", cfg.Manifest.HashAlgorithm)
}

func TestLoadConfigInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quantization: [this is not a map"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
