// Package preset holds the model-family registry named in spec.md §4.2: a
// set of named presets with detection patterns, architecture defaults, and
// a kernel-path matrix, loaded once from embedded JSON and resolved through
// an extends-chain deep merge. Grounded on the teacher's getArchFromParams
// switch (llama/gemma family dispatch), generalized into data instead of
// code per spec.md §9 ("Process-wide registries ... constructed once at
// startup from embedded JSON data; exposed through pure lookup functions").
package preset

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed data/presets.json
var presetsFS embed.FS

//go:embed data/kernelpaths.json
var kernelPathsFS embed.FS

// DetectionPattern is one preset's matching rule set.
type DetectionPattern struct {
	ArchitectureSubstrings []string          `json:"architectureSubstrings,omitempty"`
	ModelTypeSubstrings    []string          `json:"modelTypeSubstrings,omitempty"`
	ConfigEquals           map[string]string `json:"configEquals,omitempty"`
}

// ArchitectureDefaults fills gaps the source config omits.
type ArchitectureDefaults struct {
	HiddenLayers     int     `json:"hiddenLayers,omitempty"`
	HiddenSize       int     `json:"hiddenSize,omitempty"`
	IntermediateSize int     `json:"intermediateSize,omitempty"`
	AttentionHeads   int     `json:"attentionHeads,omitempty"`
	KeyValueHeads    int     `json:"keyValueHeads,omitempty"`
	HeadDim          int     `json:"headDim,omitempty"`
	MaxPositionEmbed int     `json:"maxPositionEmbeddings,omitempty"`
	RopeTheta        float64 `json:"ropeTheta,omitempty"`
	RMSNormEps       float64 `json:"rmsNormEps,omitempty"`
}

// rawPreset is the on-disk JSON shape, pre-merge.
type rawPreset struct {
	Extends      string               `json:"extends,omitempty"`
	Detect       DetectionPattern     `json:"detect"`
	Defaults     ArchitectureDefaults `json:"defaults"`
	KernelPaths  map[string]string    `json:"kernelPaths"` // "weightQuant/activationPrecision" -> id
	LayerPattern string               `json:"layerPattern,omitempty"`
}

// Preset is a fully resolved (post-merge) preset entry.
type Preset struct {
	ID           string
	Detect       DetectionPattern
	Defaults     ArchitectureDefaults
	KernelPaths  map[string]string
	LayerPattern string
}

// KernelPath looks up the kernel-path id for (weightQuant, activationPrecision).
func (p *Preset) KernelPath(weightQuant, activationPrecision string) (string, bool) {
	id, ok := p.KernelPaths[weightQuant+"/"+activationPrecision]
	return id, ok
}

// Registry is the loaded, merged, ready-to-query preset set.
type Registry struct {
	// order is most-specific-first: the fixed iteration order spec.md §4.2
	// requires for the detection algorithm.
	order   []string
	presets map[string]*Preset
}

// Load reads and merges the embedded preset registry. It panics on malformed
// embedded data since that indicates a build-time defect, not a runtime one.
func Load() *Registry {
	reg, err := load()
	if err != nil {
		panic(fmt.Sprintf("preset: embedded registry is invalid: %v", err))
	}
	return reg
}

func load() (*Registry, error) {
	data, err := presetsFS.ReadFile("data/presets.json")
	if err != nil {
		return nil, fmt.Errorf("read presets.json: %w", err)
	}
	var doc struct {
		Order  []string             `json:"order"`
		Raw    map[string]rawPreset `json:"presets"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode presets.json: %w", err)
	}

	resolved := make(map[string]*Preset, len(doc.Raw))
	visiting := make(map[string]bool)
	var resolve func(id string) (*Preset, error)
	resolve = func(id string) (*Preset, error) {
		if p, ok := resolved[id]; ok {
			return p, nil
		}
		raw, ok := doc.Raw[id]
		if !ok {
			return nil, fmt.Errorf("unknown preset id %q referenced", id)
		}
		if visiting[id] {
			return nil, fmt.Errorf("cycle detected resolving extends chain at %q", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		p := &Preset{ID: id, KernelPaths: map[string]string{}}
		if raw.Extends != "" {
			parent, err := resolve(raw.Extends)
			if err != nil {
				return nil, err
			}
			p.Detect = parent.Detect
			p.Defaults = parent.Defaults
			p.LayerPattern = parent.LayerPattern
			for k, v := range parent.KernelPaths {
				p.KernelPaths[k] = v
			}
		}
		mergeDetect(&p.Detect, raw.Detect)
		mergeDefaults(&p.Defaults, raw.Defaults)
		if raw.LayerPattern != "" {
			p.LayerPattern = raw.LayerPattern
		}
		for k, v := range raw.KernelPaths {
			p.KernelPaths[k] = v
		}
		resolved[id] = p
		return p, nil
	}

	for id := range doc.Raw {
		if _, err := resolve(id); err != nil {
			return nil, err
		}
	}
	return &Registry{order: doc.Order, presets: resolved}, nil
}

func mergeDetect(dst *DetectionPattern, src DetectionPattern) {
	if len(src.ArchitectureSubstrings) > 0 {
		dst.ArchitectureSubstrings = src.ArchitectureSubstrings
	}
	if len(src.ModelTypeSubstrings) > 0 {
		dst.ModelTypeSubstrings = src.ModelTypeSubstrings
	}
	if len(src.ConfigEquals) > 0 {
		if dst.ConfigEquals == nil {
			dst.ConfigEquals = map[string]string{}
		}
		for k, v := range src.ConfigEquals {
			dst.ConfigEquals[k] = v
		}
	}
}

func mergeDefaults(dst *ArchitectureDefaults, src ArchitectureDefaults) {
	if src.HiddenLayers != 0 {
		dst.HiddenLayers = src.HiddenLayers
	}
	if src.HiddenSize != 0 {
		dst.HiddenSize = src.HiddenSize
	}
	if src.IntermediateSize != 0 {
		dst.IntermediateSize = src.IntermediateSize
	}
	if src.AttentionHeads != 0 {
		dst.AttentionHeads = src.AttentionHeads
	}
	if src.KeyValueHeads != 0 {
		dst.KeyValueHeads = src.KeyValueHeads
	}
	if src.HeadDim != 0 {
		dst.HeadDim = src.HeadDim
	}
	if src.MaxPositionEmbed != 0 {
		dst.MaxPositionEmbed = src.MaxPositionEmbed
	}
	if src.RopeTheta != 0 {
		dst.RopeTheta = src.RopeTheta
	}
	if src.RMSNormEps != 0 {
		dst.RMSNormEps = src.RMSNormEps
	}
}

// Get returns a preset by id.
func (r *Registry) Get(id string) (*Preset, bool) {
	p, ok := r.presets[id]
	return p, ok
}
