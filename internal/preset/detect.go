package preset

import (
	"strings"

	"github.com/modelshard/convert/internal/modelconfig"
)

// GenericID is the fallback family the driver treats as a hard error per
// spec.md §4.2 ("the converter refuses generic defaults").
const GenericID = "transformer"

// Detect runs the two-pass algorithm from spec.md §4.2: pass 1 matches
// architecture-tag or model-type substrings; pass 2 (config-key equality)
// only runs when pass 1 found nothing and the two hints are absent or
// equal to each other. Presets
// are tried in the registry's fixed most-specific-first order.
func (r *Registry) Detect(cfg *modelconfig.Config) (*Preset, bool) {
	arch := ""
	if len(cfg.Architectures) > 0 {
		arch = strings.ToLower(cfg.Architectures[0])
	}
	modelType := strings.ToLower(cfg.ModelType)

	for _, id := range r.order {
		p := r.presets[id]
		if matchesSubstrings(arch, p.Detect.ArchitectureSubstrings) ||
			matchesSubstrings(modelType, p.Detect.ModelTypeSubstrings) {
			return p, true
		}
	}

	if arch == modelType {
		for _, id := range r.order {
			p := r.presets[id]
			if matchesConfigEquals(cfg, p.Detect.ConfigEquals) {
				return p, true
			}
		}
	}

	if generic, ok := r.presets[GenericID]; ok {
		return generic, false
	}
	return nil, false
}

func matchesSubstrings(haystack string, needles []string) bool {
	if haystack == "" {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func matchesConfigEquals(cfg *modelconfig.Config, eq map[string]string) bool {
	if len(eq) == 0 {
		return false
	}
	for key, want := range eq {
		got, ok := cfg.Extra[key]
		if !ok {
			return false
		}
		if gotStr, ok := got.(string); !ok || gotStr != want {
			return false
		}
	}
	return true
}
