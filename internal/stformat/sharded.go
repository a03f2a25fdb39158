package stformat

import (
	"encoding/json"
	"fmt"
	"io"
)

// Index is the decoded model.safetensors.index.json: a weight_map from
// tensor name to the shard filename holding it.
type Index struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// DecodeIndex parses a model.safetensors.index.json document.
func DecodeIndex(r io.Reader) (*Index, error) {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("stformat: decode index: %w", err)
	}
	return &idx, nil
}

// MergeSharded combines per-file headers for a multi-file safetensors model
// that carries a weight_map index. Every tensor in the index must resolve
// to an entry decoded from its assigned shard file; a mismatch is a
// malformed-input error rather than a silent drop.
func MergeSharded(idx *Index, perFile map[string]*FileHeader) ([]TensorDirectoryEntry, error) {
	out := make([]TensorDirectoryEntry, 0, len(idx.WeightMap))
	for name, shardFile := range idx.WeightMap {
		fh, ok := perFile[shardFile]
		if !ok {
			return nil, fmt.Errorf("stformat: index references shard %q which was not provided", shardFile)
		}
		found := false
		for _, e := range fh.Entries {
			if e.Name == name {
				out = append(out, e)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("stformat: index names tensor %q in shard %q but the shard has no such tensor", name, shardFile)
		}
	}
	return out, nil
}

// MergeShardedNoIndex combines per-file headers for a multi-file safetensors
// model with no index.json present. Per spec.md §9's Open Question
// resolution, a tensor name appearing in more than one shard file is
// rejected outright rather than resolved by file order — the ordering is
// ambiguous and guessing would silently corrupt a model.
func MergeShardedNoIndex(perFile map[string]*FileHeader) ([]TensorDirectoryEntry, error) {
	seen := make(map[string]string) // name -> owning shard file
	var out []TensorDirectoryEntry
	for shardFile, fh := range perFile {
		for _, e := range fh.Entries {
			if owner, dup := seen[e.Name]; dup {
				return nil, fmt.Errorf("stformat: tensor %q appears in both %q and %q with no index.json to disambiguate", e.Name, owner, shardFile)
			}
			seen[e.Name] = shardFile
			out = append(out, e)
		}
	}
	return out, nil
}
