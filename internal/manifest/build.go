package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/shardpack"
)

// BuildInput is everything the builder needs beyond the data model itself.
type BuildInput struct {
	ModelID       string
	ModelType     string
	Architecture  Architecture
	QuantPlan     *plan.QuantizationPlan
	BlockLayout   string
	PackResult    *shardpack.Result
	PresetID      string
	KernelPathID  string
	LayerPattern  string
	MoE           *MoE
	Tokenizer     Tokenizer
	AuxiliaryAssets []string
	HashAlgorithm string
	Source        string
	CreatedAt     string
	ArchitectureOverride map[string]any
}

// Build assembles the final Manifest from a completed pack and the
// resolved planning/detection inputs (spec.md §4.5).
func Build(in BuildInput) (*Manifest, error) {
	tensors := make(map[string]TensorLocation, len(in.PackResult.Locations))
	for name, loc := range in.PackResult.Locations {
		tensors[name] = toManifestLocation(loc)
	}
	shards := make([]Shard, len(in.PackResult.Shards))
	for i, s := range in.PackResult.Shards {
		shards[i] = Shard{Index: s.Index, Filename: s.Filename, Size: s.Size, Hash: s.Hash, Offset: s.Offset}
	}

	m := &Manifest{
		ModelID:      in.ModelID,
		ModelType:    in.ModelType,
		Architecture: in.Architecture,
		Quantization: Quantization{
			Weight:     in.QuantPlan.Weight.String(),
			Embedding:  in.QuantPlan.Embedding.String(),
			OutputHead: in.QuantPlan.OutputHead.String(),
			Vision:     in.QuantPlan.Vision.String(),
			Audio:      in.QuantPlan.Audio.String(),
			Projector:  in.QuantPlan.Projector.String(),
			VariantTag: in.QuantPlan.VariantTag,
		},
		QuantizationInfo: QuantizationInfo{BlockLayout: in.BlockLayout},
		Shards:           shards,
		Tensors:          tensors,
		TotalSize:        in.PackResult.TotalSize,
		HashAlgorithm:    in.HashAlgorithm,
		Inference: Inference{
			PresetID:          in.PresetID,
			DefaultKernelPath: in.KernelPathID,
			LayerPattern:      in.LayerPattern,
		},
		MoE:                  in.MoE,
		Tokenizer:            in.Tokenizer,
		AuxiliaryAssets:      in.AuxiliaryAssets,
		Source:               in.Source,
		CreatedAt:            in.CreatedAt,
		ArchitectureOverride: in.ArchitectureOverride,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return m, nil
}

func toManifestLocation(loc shardpack.TensorLocation) TensorLocation {
	if loc.Single != nil {
		return TensorLocation{Single: &Span{Shard: loc.Single.Shard, Offset: loc.Single.Offset, Size: loc.Single.Size}}
	}
	spans := make([]Span, len(loc.Spans))
	for i, s := range loc.Spans {
		spans[i] = Span{Shard: s.Shard, Offset: s.Offset, Size: s.Size}
	}
	return TensorLocation{Spans: spans}
}

// Encode serializes the manifest as indented UTF-8 JSON (spec.md §6: "A
// UTF-8 JSON document").
func Encode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// GroupManifest is the retrieval-locality index the packer emits alongside
// the main manifest (spec.md §4.4's "groups structure").
type GroupManifest struct {
	Groups []GroupEntry `json:"groups"`
}

// GroupEntry names one group's tensors and the shard indices it spans.
type GroupEntry struct {
	Name        string `json:"name"`
	TensorNames []string `json:"tensorNames"`
	Shards      []int  `json:"shards"`
}

// BuildGroupManifest derives each group's shard span from the tensor
// locations already computed by the packer.
func BuildGroupManifest(groups []shardpack.Group, locations map[string]shardpack.TensorLocation) GroupManifest {
	out := GroupManifest{Groups: make([]GroupEntry, len(groups))}
	for i, g := range groups {
		seen := map[int]bool{}
		var shardIdx []int
		for _, name := range g.TensorNames {
			loc, ok := locations[name]
			if !ok {
				continue
			}
			if loc.Single != nil {
				if !seen[loc.Single.Shard] {
					seen[loc.Single.Shard] = true
					shardIdx = append(shardIdx, loc.Single.Shard)
				}
				continue
			}
			for _, sp := range loc.Spans {
				if !seen[sp.Shard] {
					seen[sp.Shard] = true
					shardIdx = append(shardIdx, sp.Shard)
				}
			}
		}
		out.Groups[i] = GroupEntry{Name: g.Name, TensorNames: g.TensorNames, Shards: shardIdx}
	}
	return out
}
