package rolecls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]Role{
		"model.embed_tokens.weight":              RoleEmbedding,
		"lm_head.weight":                         RoleOutputHead,
		"model.layers.0.self_attn.q_proj.weight": RoleAttentionProjection,
		"model.layers.0.mlp.gate_proj.weight":    RoleFeedForward,
		"model.layers.0.input_layernorm.weight":  RoleNorm,
		"model.layers.0.mlp.router.weight":       RoleRouter,
		"model.layers.0.mlp.experts.3.w1.weight": RoleExpert,
		"model.layers.0.self_attn.rotary_emb.inv_freq": RoleRotary,
		"vision_tower.projector.weight":          RoleModalityEncoder,
		"model.layers.0.self_attn.q_proj.bias":   RoleBias,
		"something.unclassified":                 RoleOther,
		"token_embd.weight":                      RoleEmbedding,
		"blk.0.attn_q.weight":                    RoleAttentionProjection,
		"blk.0.attn_output.weight":               RoleAttentionProjection,
		"blk.0.ffn_gate.weight":                  RoleFeedForward,
		"blk.0.attn_norm.weight":                 RoleNorm,
		"output.weight":                          RoleOutputHead,
	}
	for name, want := range cases {
		assert.Equal(t, want, Classify(name), name)
	}
}

func TestIsQuantizable(t *testing.T) {
	assert.False(t, IsQuantizable(RoleNorm))
	assert.False(t, IsQuantizable(RoleBias))
	assert.False(t, IsQuantizable(RoleRouter))
	assert.False(t, IsQuantizable(RoleRotary))
	assert.True(t, IsQuantizable(RoleAttentionProjection))
	assert.True(t, IsQuantizable(RoleFeedForward))
}
