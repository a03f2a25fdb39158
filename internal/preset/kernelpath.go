package preset

import (
	"encoding/json"
	"fmt"
)

// kernelPathStatus enumerates a kernel path's lifecycle state.
type kernelPathStatus string

const (
	StatusCanonical   kernelPathStatus = "canonical"
	StatusExperimental kernelPathStatus = "experimental"
	StatusLegacy      kernelPathStatus = "legacy"
)

type kernelPathEntry struct {
	Status kernelPathStatus `json:"status"`
	Alias  string           `json:"alias,omitempty"` // legacy -> canonical target
}

// KernelPathRegistry canonicalizes any kernel-path id, following legacy ->
// canonical alias chains (spec.md §4.2).
type KernelPathRegistry struct {
	entries map[string]kernelPathEntry
}

// LoadKernelPaths reads the embedded kernel-path catalog.
func LoadKernelPaths() *KernelPathRegistry {
	data, err := kernelPathsFS.ReadFile("data/kernelpaths.json")
	if err != nil {
		panic(fmt.Sprintf("preset: embedded kernel-path registry is invalid: %v", err))
	}
	var raw map[string]kernelPathEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		panic(fmt.Sprintf("preset: decode kernelpaths.json: %v", err))
	}
	return &KernelPathRegistry{entries: raw}
}

// Canonicalize resolves id to its canonical target, following at most a
// bounded number of alias hops to avoid looping on a malformed catalog.
func (k *KernelPathRegistry) Canonicalize(id string) (string, error) {
	seen := map[string]bool{}
	cur := id
	for i := 0; i < 16; i++ {
		entry, ok := k.entries[cur]
		if !ok {
			return "", fmt.Errorf("preset: kernel path %q is not in the registry", cur)
		}
		if entry.Status == StatusCanonical || entry.Alias == "" {
			return cur, nil
		}
		if seen[cur] {
			return "", fmt.Errorf("preset: kernel path alias cycle starting at %q", id)
		}
		seen[cur] = true
		cur = entry.Alias
	}
	return "", fmt.Errorf("preset: kernel path %q exceeded alias hop limit", id)
}
