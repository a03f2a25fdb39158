// Package manifest assembles the self-describing document enumerating
// shards, tensor locations, architecture, quantization, and kernel path
// (spec.md §4.5/§6). Fields are ordered for hashing reproducibility by
// relying on Go's struct-field JSON encoding order, which is stable.
package manifest

import "fmt"

// Architecture is the resolved model dimensions (spec.md §3).
type Architecture struct {
	LayerCount       int     `json:"layerCount"`
	HiddenSize       int     `json:"hiddenSize"`
	FeedForwardSize  int     `json:"feedForwardSize"`
	HeadCount        int     `json:"headCount"`
	KeyValueHeads    int     `json:"keyValueHeads"`
	HeadDim          int     `json:"headDim"`
	VocabSize        int     `json:"vocabSize"`
	MaxSequenceLen   int     `json:"maxSequenceLength"`
	RopeTheta        float64 `json:"ropeTheta"`
	RMSNormEpsilon   float64 `json:"rmsNormEpsilon"`
}

// Quantization is the per-slot effective dtype summary.
type Quantization struct {
	Weight     string `json:"weight"`
	Embedding  string `json:"embedding"`
	OutputHead string `json:"outputHead"`
	Vision     string `json:"vision,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Projector  string `json:"projector,omitempty"`
	VariantTag string `json:"variantTag"`
}

// QuantizationInfo carries the block-layout detail behind Quantization.
type QuantizationInfo struct {
	BlockLayout string `json:"blockLayout,omitempty"`
}

// Shard is one entry of the shard list (spec.md §3 ShardInfo, JSON shape).
type Shard struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	Offset   int64  `json:"offset"`
}

// Span mirrors shardpack.Span in the manifest's JSON shape.
type Span struct {
	Shard  int   `json:"shard"`
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// TensorLocation is either Single or Spans, never both (spec.md §3).
type TensorLocation struct {
	Single *Span  `json:"single,omitempty"`
	Spans  []Span `json:"spans,omitempty"`
}

// Inference carries the chosen preset/kernel-path identification.
type Inference struct {
	PresetID         string `json:"presetId"`
	DefaultKernelPath string `json:"defaultKernelPath"`
	LayerPattern     string `json:"layerPattern,omitempty"`
}

// MoE is the optional mixture-of-experts descriptor.
type MoE struct {
	NumExperts         int    `json:"numExperts"`
	NumExpertsPerToken int    `json:"numExpertsPerToken"`
	ExpertFormat       string `json:"expertFormat,omitempty"`
}

// Tokenizer names the bundled tokenizer asset filenames.
type Tokenizer struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
}

// Manifest is the full on-disk document (spec.md §3/§4.5/§6).
type Manifest struct {
	ModelID          string                    `json:"modelId"`
	ModelType        string                    `json:"modelType"`
	Architecture     Architecture              `json:"architecture"`
	Quantization     Quantization              `json:"quantization"`
	QuantizationInfo QuantizationInfo          `json:"quantizationInfo"`
	Shards           []Shard                   `json:"shards"`
	Tensors          map[string]TensorLocation `json:"tensors"`
	TotalSize        int64                     `json:"totalSize"`
	HashAlgorithm    string                    `json:"hashAlgorithm"`
	Inference        Inference                 `json:"inference"`
	MoE              *MoE                      `json:"moe,omitempty"`
	Tokenizer        Tokenizer                 `json:"tokenizer"`
	AuxiliaryAssets  []string                  `json:"auxiliaryAssets,omitempty"`
	Source           string                    `json:"source"`
	CreatedAt        string                    `json:"createdAt"`
	ArchitectureOverride map[string]any        `json:"architectureOverride,omitempty"`
}

// Validate checks the invariants named in spec.md §3/§8 that the builder
// itself is responsible for, not the decoder: every tensor's location
// references shards that exist, and the sum of shard sizes equals
// TotalSize.
func (m *Manifest) Validate() error {
	shardSizes := make(map[int]int64, len(m.Shards))
	for _, s := range m.Shards {
		shardSizes[s.Index] = s.Size
	}
	var total int64
	for _, s := range m.Shards {
		total += s.Size
	}
	if total != m.TotalSize {
		return errAssertion("sum of shard sizes %d does not equal totalSize %d", total, m.TotalSize)
	}
	for name, loc := range m.Tensors {
		switch {
		case loc.Single != nil:
			if _, ok := shardSizes[loc.Single.Shard]; !ok {
				return errAssertion("tensor %q references nonexistent shard %d", name, loc.Single.Shard)
			}
		case len(loc.Spans) > 0:
			var sum int64
			prevShard := -1
			for _, sp := range loc.Spans {
				if _, ok := shardSizes[sp.Shard]; !ok {
					return errAssertion("tensor %q references nonexistent shard %d", name, sp.Shard)
				}
				if sp.Shard <= prevShard {
					return errAssertion("tensor %q spans are not strictly ascending by shard", name)
				}
				prevShard = sp.Shard
				sum += sp.Size
			}
		default:
			return errAssertion("tensor %q has neither a single location nor spans", name)
		}
	}
	return nil
}

func errAssertion(format string, args ...any) error {
	return fmt.Errorf("manifest: assertion: "+format, args...)
}
