package convert

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/ggufformat"
	"github.com/modelshard/convert/internal/modelconfig"
	"github.com/modelshard/convert/internal/source"
	"github.com/modelshard/convert/internal/stformat"
)

// sourcedTensor bundles a uniform tensor-directory entry with the file it
// came from, so the packer's chunk-source callback can find it again once
// tensors have been reordered by group.
type sourcedTensor struct {
	Name      string
	Shape     []uint64
	DType     dtype.Type
	Size      uint64
	SourceKey string // key into parsedModel.Sources
	Offset    int64
}

// parsedModel is everything header parsing yields, independent of source
// format: the uniform tensor list, the normalized config, and open
// TensorSources keyed by file path.
type parsedModel struct {
	Tensors []sourcedTensor
	Config  *modelconfig.Config
	Sources map[string]source.TensorSource
}

func (p *parsedModel) closeSources() {
	for _, s := range p.Sources {
		_ = s.Cleanup()
	}
}

// parseGGUF opens and decodes a single GGUF file.
func parseGGUF(path string) (*parsedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindInputMalformed, err, "open GGUF file %q", path)
	}
	defer f.Close()

	hdr, err := ggufformat.Decode(f)
	if err != nil {
		return nil, newErr(KindInputMalformed, err, "decode GGUF header %q", path)
	}

	src, err := source.OpenFile(path)
	if err != nil {
		return nil, newErr(KindStorageUnavailable, err, "open GGUF tensor source %q", path)
	}

	tensors := make([]sourcedTensor, len(hdr.Tensors))
	for i, e := range hdr.Tensors {
		tensors[i] = sourcedTensor{
			Name: e.Name, Shape: e.Shape, DType: e.DType, Size: e.Size,
			SourceKey: path, Offset: int64(hdr.DataBaseOffset + e.Offset),
		}
	}

	return &parsedModel{
		Tensors: tensors,
		Config:  hdr.Config(),
		Sources: map[string]source.TensorSource{path: src},
	}, nil
}

// parseSafetensorsSingle opens and decodes one safetensors file.
func parseSafetensorsSingle(path string, cfgPath string) (*parsedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindInputMalformed, err, "open safetensors file %q", path)
	}
	defer f.Close()

	fh, err := stformat.Decode(f, path)
	if err != nil {
		return nil, newErr(KindInputMalformed, err, "decode safetensors header %q", path)
	}

	src, err := source.OpenFile(path)
	if err != nil {
		return nil, newErr(KindStorageUnavailable, err, "open safetensors tensor source %q", path)
	}

	cfg, err := loadSidecarConfig(cfgPath, fh.Metadata)
	if err != nil {
		return nil, err
	}

	return &parsedModel{
		Tensors: toSourced(fh.Entries),
		Config:  cfg,
		Sources: map[string]source.TensorSource{path: src},
	}, nil
}

// parseSafetensorsSharded decodes every shard file, merging via the index
// when present and rejecting name collisions otherwise (spec.md §9).
func parseSafetensorsSharded(paths []string, indexPath, cfgPath string, hasIndex bool) (*parsedModel, error) {
	perFile := make(map[string]*stformat.FileHeader, len(paths))
	sources := make(map[string]source.TensorSource, len(paths))
	var sidecarMeta map[string]string

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "open safetensors shard %q", p)
		}
		fh, err := stformat.Decode(f, p)
		f.Close()
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "decode safetensors shard header %q", p)
		}
		perFile[p] = fh
		if sidecarMeta == nil {
			sidecarMeta = fh.Metadata
		}
		src, err := source.OpenFile(p)
		if err != nil {
			return nil, newErr(KindStorageUnavailable, err, "open safetensors tensor source %q", p)
		}
		sources[p] = src
	}

	var entries []stformat.TensorDirectoryEntry
	if hasIndex {
		idxFile, err := os.Open(indexPath)
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "open safetensors index %q", indexPath)
		}
		idx, err := stformat.DecodeIndex(idxFile)
		idxFile.Close()
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "decode safetensors index %q", indexPath)
		}
		// The index's weight_map names shard files without their directory.
		byBase := make(map[string]*stformat.FileHeader, len(perFile))
		for p, fh := range perFile {
			byBase[filepath.Base(p)] = fh
		}
		entries, err = stformat.MergeSharded(idx, byBase)
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "merge sharded safetensors via index")
		}
	} else {
		var err error
		entries, err = stformat.MergeShardedNoIndex(perFile)
		if err != nil {
			return nil, newErr(KindInputMalformed, err, "merge sharded safetensors without index")
		}
	}

	cfg, err := loadSidecarConfig(cfgPath, sidecarMeta)
	if err != nil {
		return nil, err
	}

	return &parsedModel{Tensors: toSourced(entries), Config: cfg, Sources: sources}, nil
}

func toSourced(entries []stformat.TensorDirectoryEntry) []sourcedTensor {
	out := make([]sourcedTensor, len(entries))
	for i, e := range entries {
		out[i] = sourcedTensor{Name: e.Name, Shape: e.Shape, DType: e.DType, Size: uint64(e.Size), SourceKey: e.ShardFile, Offset: e.Offset}
	}
	return out
}

// loadSidecarConfig reads config.json if present, falling back to the
// safetensors __metadata__ object (which commonly mirrors a subset of HF
// config fields, per the teacher's safetensors writer).
func loadSidecarConfig(cfgPath string, metadata map[string]string) (*modelconfig.Config, error) {
	raw := map[string]any{}
	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, newErr(KindInputIncomplete, err, "read config.json %q", cfgPath)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, newErr(KindInputMalformed, err, "decode config.json %q", cfgPath)
		}
	} else {
		for k, v := range metadata {
			raw[k] = v
		}
	}
	cfg, err := modelconfig.Decode(raw)
	if err != nil {
		return nil, newErr(KindInputMalformed, err, "normalize model configuration")
	}
	return cfg, nil
}

