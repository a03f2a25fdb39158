// Package rolecls classifies a tensor's structural role from its name,
// feeding the quantization planner's per-role policy (spec.md §4.3).
package rolecls

import "strings"

// Role is a tensor's structural classification.
type Role int

const (
	RoleOther Role = iota
	RoleEmbedding
	RoleOutputHead
	RoleAttentionProjection
	RoleFeedForward
	RoleNorm
	RoleBias
	RoleRotary
	RoleRouter
	RoleExpert
	RoleModalityEncoder
)

func (r Role) String() string {
	switch r {
	case RoleEmbedding:
		return "embedding"
	case RoleOutputHead:
		return "output_head"
	case RoleAttentionProjection:
		return "attention_projection"
	case RoleFeedForward:
		return "feed_forward"
	case RoleNorm:
		return "norm"
	case RoleBias:
		return "bias"
	case RoleRotary:
		return "rotary"
	case RoleRouter:
		return "router"
	case RoleExpert:
		return "expert"
	case RoleModalityEncoder:
		return "modality_encoder"
	default:
		return "other"
	}
}

// Classify maps a tensor name to a Role by substring pattern. Patterns are
// checked most-specific-first so that, e.g., "router" wins over a looser
// "ffn" match on names like "block.0.moe.router.weight".
func Classify(name string) Role {
	n := strings.ToLower(name)

	if strings.HasSuffix(n, ".bias") || strings.Contains(n, "_bias") {
		return RoleBias
	}
	switch {
	case containsAny(n, "rotary_emb", "rope.freq", "inv_freq"):
		return RoleRotary
	case containsAny(n, "router", "gate.weight") && !containsAny(n, "gate_proj", "mlp.gate", "ffn_gate"):
		return RoleRouter
	case containsAny(n, "expert", "experts."):
		return RoleExpert
	case containsAny(n, "vision", "audio", "projector", "mm_projector", "multi_modal"):
		return RoleModalityEncoder
	case containsAny(n, "tok_embeddings", "embed_tokens", "word_embeddings", "wte", "embedding.weight", "token_embd"):
		return RoleEmbedding
	case containsAny(n, "lm_head", "output.weight", "output_layer") && !strings.Contains(n, "attn_output"):
		return RoleOutputHead
	case containsAny(n, "q_proj", "k_proj", "v_proj", "o_proj", "attn.wq", "attn.wk", "attn.wv", "attn.wo", "self_attn",
		"attention.wq", "attention.wk", "attention.wv", "attention.wo",
		"attn_q", "attn_k", "attn_v", "attn_output", "attn_qkv"):
		return RoleAttentionProjection
	case containsAny(n, "gate_proj", "up_proj", "down_proj", "mlp.gate", "feed_forward", "ffn"):
		return RoleFeedForward
	case containsAny(n, "norm", "layernorm", "ln_"):
		return RoleNorm
	default:
		return RoleOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsQuantizable reports whether tensors of this role are ever eligible for
// block quantization. Norms, biases, router/gate, and rotary tables are
// excluded per spec.md §4.3.
func IsQuantizable(r Role) bool {
	switch r {
	case RoleNorm, RoleBias, RoleRouter, RoleRotary:
		return false
	default:
		return true
	}
}
