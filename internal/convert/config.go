package convert

import "github.com/modelshard/convert/internal/dtype"

// Config is ConverterConfig from spec.md §3: the closed set of recognized
// options. Zero values mean "use the driver's default"; JSON/YAML decoding
// (internal/cli, loadConfig) fills this from a user-supplied file via mapstructure,
// matching the teacher's config-decoding convention.
type Config struct {
	Quantization QuantizationOptions `mapstructure:"quantization" yaml:"quantization"`
	Streaming    StreamingOptions    `mapstructure:"streaming" yaml:"streaming"`
	Sharding     ShardingOptions     `mapstructure:"sharding" yaml:"sharding"`
	Manifest     ManifestOptions     `mapstructure:"manifest" yaml:"manifest"`
	Output       OutputOptions       `mapstructure:"output" yaml:"output"`
	Presets      PresetOptions       `mapstructure:"presets" yaml:"presets"`
	HTTP         HTTPOptions         `mapstructure:"http" yaml:"http"`
}

type QuantizationOptions struct {
	Weights          string `mapstructure:"weights" yaml:"weights"` // "f16" | "f32" | "q4_k_m" | ""
	ComputePrecision string `mapstructure:"computePrecision" yaml:"computePrecision"`
	VisionDType      string `mapstructure:"visionDtype" yaml:"visionDtype"`
	AudioDType       string `mapstructure:"audioDtype" yaml:"audioDtype"`
	ProjectorDType   string `mapstructure:"projectorDtype" yaml:"projectorDtype"`
	ColumnLayout     bool   `mapstructure:"columnLayout" yaml:"columnLayout"`
}

type StreamingOptions struct {
	ChunkSizeBytes int64 `mapstructure:"chunkSizeBytes" yaml:"chunkSizeBytes"`
}

type ShardingOptions struct {
	ShardSizeBytes int64 `mapstructure:"shardSizeBytes" yaml:"shardSizeBytes"`
}

type ManifestOptions struct {
	HashAlgorithm string `mapstructure:"hashAlgorithm" yaml:"hashAlgorithm"`
}

type OutputOptions struct {
	ModelID string `mapstructure:"modelId" yaml:"modelId"`
}

type PresetOptions struct {
	Model string `mapstructure:"model" yaml:"model"`
}

type HTTPOptions struct {
	AllowDownloadFallback bool  `mapstructure:"allowDownloadFallback" yaml:"allowDownloadFallback"`
	MaxDownloadBytes      int64 `mapstructure:"maxDownloadBytes" yaml:"maxDownloadBytes"`
}

const (
	defaultChunkSizeBytes = 1 << 20  // 1 MiB
	defaultShardSizeBytes = 256 << 20 // 256 MiB

	// largeModelThresholdBytes triggers the large-model tuning named in
	// spec.md §4.6.
	largeModelThresholdBytes = 8 << 30 // 8 GiB

	largeChunkSizeBytes = 8 << 20   // 8 MiB
	largeShardSizeBytes = 1 << 30   // 1 GiB
)

// withDefaults fills zero-valued options with the driver's defaults and
// applies large-model tuning when totalInputBytes crosses the threshold, or
// when isDiffusion is set (spec.md §4.6).
func (c Config) withDefaults(totalInputBytes int64, isDiffusion bool) Config {
	if c.Streaming.ChunkSizeBytes <= 0 {
		c.Streaming.ChunkSizeBytes = defaultChunkSizeBytes
	}
	if c.Sharding.ShardSizeBytes <= 0 {
		c.Sharding.ShardSizeBytes = defaultShardSizeBytes
	}
	if c.Manifest.HashAlgorithm == "" {
		c.Manifest.HashAlgorithm = "sha256"
	}
	if c.Quantization.ComputePrecision == "" {
		c.Quantization.ComputePrecision = "f16"
	}
	if totalInputBytes > largeModelThresholdBytes || isDiffusion {
		if c.Streaming.ChunkSizeBytes < largeChunkSizeBytes {
			c.Streaming.ChunkSizeBytes = largeChunkSizeBytes
		}
		if c.Sharding.ShardSizeBytes < largeShardSizeBytes {
			c.Sharding.ShardSizeBytes = largeShardSizeBytes
		}
	}
	return c
}

func parseDType(s string) (dtype.Type, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	t, err := dtype.ParseString(normalizeDTypeName(s))
	if err != nil {
		return 0, false, err
	}
	return t, true, nil
}

func normalizeDTypeName(s string) string {
	switch s {
	case "f16", "fp16":
		return "F16"
	case "f32", "fp32":
		return "F32"
	case "bf16":
		return "BF16"
	default:
		return s
	}
}
