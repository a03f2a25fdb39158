package ggufformat

import (
	"strings"

	"github.com/modelshard/convert/internal/modelconfig"
)

// Config translates this header's general.* and <arch>.* metadata keys into
// the shared normalized configuration bag. GGUF spells its keys under an
// architecture-qualified namespace (e.g. "llama.attention.head_count")
// rather than safetensors' config.json flat HF names, so this is a direct
// field-by-field mapping rather than a mapstructure decode.
func (h *Header) Config() *modelconfig.Config {
	arch := h.Architecture
	get := func(suffix string) (any, bool) {
		v, ok := h.Metadata[arch+"."+suffix]
		return v, ok
	}
	cfg := &modelconfig.Config{
		Architectures: []string{arch},
		Extra:         map[string]any{},
	}
	if v, ok := get("block_count"); ok {
		cfg.HiddenLayers = asInt(v)
	}
	if v, ok := get("embedding_length"); ok {
		cfg.HiddenSize = asInt(v)
	}
	if v, ok := get("feed_forward_length"); ok {
		cfg.IntermediateSize = asInt(v)
	}
	if v, ok := get("attention.head_count"); ok {
		cfg.AttentionHeads = asInt(v)
	}
	if v, ok := get("attention.head_count_kv"); ok {
		cfg.KeyValueHeads = asInt(v)
	}
	if v, ok := get("context_length"); ok {
		cfg.MaxPositionEmbed = asInt(v)
	}
	if v, ok := h.Metadata["tokenizer.ggml.tokens"]; ok {
		if arr, ok := v.([]any); ok {
			cfg.VocabSize = len(arr)
		}
	}
	if v, ok := get("rope.freq_base"); ok {
		cfg.RopeTheta = asFloat(v)
	}
	if v, ok := get("attention.layer_norm_rms_epsilon"); ok {
		cfg.Extra["rms_norm_eps"] = asFloat(v)
	}
	if v, ok := get("expert_count"); ok {
		cfg.NumLocalExperts = asInt(v)
	}
	if v, ok := get("expert_used_count"); ok {
		cfg.NumExpertsPerToken = asInt(v)
	}
	for k, v := range h.Metadata {
		if strings.HasPrefix(k, "general.") || strings.HasPrefix(k, arch+".") {
			continue
		}
		cfg.Extra[k] = v
	}
	if mt, ok := h.Metadata["general.name"].(string); ok {
		cfg.NameOrPath = mt
	}
	return cfg
}

func asInt(v any) int {
	switch n := v.(type) {
	case uint8:
		return int(n)
	case int8:
		return int(n)
	case uint16:
		return int(n)
	case int16:
		return int(n)
	case uint32:
		return int(n)
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case uint32:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
