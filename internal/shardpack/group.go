// Package shardpack assembles planned tensors into numbered, bounded-size
// shards, computing per-shard digests and per-tensor location records
// (spec.md §4.4). Grounded on the teacher's safetensorWriterTo.WriteTo
// streaming-write pattern, generalized from "one writer per whole file" to
// "one writer per shard, sealed on capacity".
package shardpack

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/rolecls"
)

// Group is one retrieval-locality cluster of tensors: pre-layer assets,
// one per transformer layer (in layer order), or post-layer assets.
type Group struct {
	Name        string
	TensorNames []string
}

var layerIndexPattern = regexp.MustCompile(`(?:layers?|blk|block)\.(\d+)\.`)

// OrderTensors sorts plans into the fixed ordering strategy from spec.md
// §4.4: pre-layer assets first, then per-layer groups in layer order, then
// post-layer assets. It returns the ordered plans and the group structure
// spanning them.
func OrderTensors(plans []*plan.TensorPlan) ([]*plan.TensorPlan, []Group) {
	type bucket struct {
		layer int // -1 = pre, -2 = post, >=0 = that layer
		items []*plan.TensorPlan
	}

	byLayer := map[int]*bucket{}
	var pre, post bucket
	pre.layer, post.layer = -1, -2

	for _, tp := range plans {
		if m := layerIndexPattern.FindStringSubmatch(tp.Name); m != nil {
			idx, _ := strconv.Atoi(m[1])
			b, ok := byLayer[idx]
			if !ok {
				b = &bucket{layer: idx}
				byLayer[idx] = b
			}
			b.items = append(b.items, tp)
			continue
		}
		if tp.Role == rolecls.RoleOutputHead || isFinalNorm(tp.Name) {
			post.items = append(post.items, tp)
		} else {
			pre.items = append(pre.items, tp)
		}
	}

	maxLayer := -1
	for idx := range byLayer {
		if idx > maxLayer {
			maxLayer = idx
		}
	}

	var ordered []*plan.TensorPlan
	var groups []Group

	if len(pre.items) > 0 {
		ordered = append(ordered, pre.items...)
		groups = append(groups, Group{Name: "pre", TensorNames: names(pre.items)})
	}
	for i := 0; i <= maxLayer; i++ {
		b, ok := byLayer[i]
		if !ok {
			continue
		}
		sort.SliceStable(b.items, func(x, y int) bool {
			return canonicalRank(b.items[x].Name) < canonicalRank(b.items[y].Name)
		})
		ordered = append(ordered, b.items...)
		groups = append(groups, Group{Name: "layer." + strconv.Itoa(i), TensorNames: names(b.items)})
	}
	if len(post.items) > 0 {
		ordered = append(ordered, post.items...)
		groups = append(groups, Group{Name: "post", TensorNames: names(post.items)})
	}
	return ordered, groups
}

// canonicalRank orders one layer's tensors into the stable q/k/v/o/ffn
// sequence spec.md §4.4 asks for, recognizing both HuggingFace-style and
// GGUF/llama.cpp-style tensor names. Anything unrecognized keeps the
// decoder's original relative order (stable sort, rank 9).
func canonicalRank(name string) int {
	switch {
	case containsAny(name, "input_layernorm", "attn_norm", "attention_norm"):
		return 0
	case containsAny(name, "q_proj", "attn_q", "wq"):
		return 1
	case containsAny(name, "k_proj", "attn_k", "wk"):
		return 2
	case containsAny(name, "v_proj", "attn_v", "wv"):
		return 3
	case containsAny(name, "o_proj", "attn_output", "wo"):
		return 4
	case containsAny(name, "post_attention_layernorm", "ffn_norm"):
		return 5
	case containsAny(name, "gate_proj", "ffn_gate"):
		return 6
	case containsAny(name, "up_proj", "ffn_up"):
		return 7
	case containsAny(name, "down_proj", "ffn_down"):
		return 8
	default:
		return 9
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isFinalNorm(name string) bool {
	return name == "model.norm.weight" || name == "norm.weight" || name == "output_norm.weight"
}

func names(plans []*plan.TensorPlan) []string {
	out := make([]string, len(plans))
	for i, p := range plans {
		out[i] = p.Name
	}
	return out
}
