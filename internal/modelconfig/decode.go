package modelconfig

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// known is the set of top-level keys the Config struct interprets; anything
// else lands in Extra, mirroring the teacher's GetParams' pattern of
// decoding a raw map[string]any into a typed struct via mapstructure.
var known = map[string]bool{
	"architectures": true, "model_type": true, "_name_or_path": true,
	"num_hidden_layers": true, "hidden_size": true, "intermediate_size": true,
	"num_attention_heads": true, "num_key_value_heads": true, "head_dim": true,
	"vocab_size": true, "max_position_embeddings": true, "rope_theta": true,
	"rope_scaling": true, "sliding_window": true, "attn_logit_softcapping": true,
	"final_logit_softcapping": true, "tie_word_embeddings": true,
	"num_local_experts": true, "num_experts_per_tok": true,
}

// Decode builds a Config from a raw string-keyed map, as produced by a
// parsed config.json or a safetensors __metadata__ object. GGUF metadata
// does not pass through here; ggufformat maps it onto Config directly.
func Decode(raw map[string]any) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("modelconfig: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("modelconfig: decode: %w", err)
	}
	cfg.Extra = make(map[string]any)
	for k, v := range raw {
		if !known[k] {
			cfg.Extra[k] = v
		}
	}
	return &cfg, nil
}
