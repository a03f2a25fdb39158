package convert

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FormatMode is the detected source container layout (spec.md §4.1).
type FormatMode int

const (
	ModeGGUF FormatMode = iota
	ModeSafetensorsSingle
	ModeSafetensorsSharded
	ModeSafetensorsShardedNoIndex
	ModeDiffusion
)

// InputSet is the file inventory handed to the driver: every path the
// caller has already made available locally or resolved a TensorSource
// for.
type InputSet struct {
	Paths []string
}

// DetectionResult is format detection's output plus the collected
// auxiliary asset filenames.
type DetectionResult struct {
	Mode        FormatMode
	ModelFiles  []string // .gguf or .safetensors paths, in the order given
	IndexFile   string   // model.safetensors.index.json, if present
	Auxiliary   map[string]string // canonical name -> path
}

var auxiliaryNames = []string{
	"config.json", "tokenizer.json", "tokenizer.model",
	"tokenizer_config.json", "special_tokens_map.json", "generation_config.json",
}

// Detect inspects in's file list for well-known extensions/filenames and
// classifies the model (spec.md §4.1).
func Detect(in InputSet) (*DetectionResult, error) {
	res := &DetectionResult{Auxiliary: map[string]string{}}

	var ggufFiles, stFiles []string
	hasModelIndex := false
	for _, p := range in.Paths {
		base := filepath.Base(p)
		switch {
		case base == "model_index.json":
			hasModelIndex = true
		case strings.EqualFold(filepath.Ext(base), ".gguf"):
			ggufFiles = append(ggufFiles, p)
		case strings.EqualFold(filepath.Ext(base), ".safetensors"):
			stFiles = append(stFiles, p)
		case base == "model.safetensors.index.json":
			res.IndexFile = p
		}
		for _, name := range auxiliaryNames {
			if base == name {
				res.Auxiliary[name] = p
			}
		}
	}

	switch {
	case hasModelIndex:
		res.Mode = ModeDiffusion
		res.ModelFiles = stFiles
	case len(ggufFiles) == 1 && len(stFiles) == 0:
		res.Mode = ModeGGUF
		res.ModelFiles = ggufFiles
	case len(ggufFiles) > 1:
		return nil, newErr(KindInputMalformed, nil, "multiple .gguf files given; only a single GGUF source is supported")
	case len(stFiles) == 1 && res.IndexFile == "":
		res.Mode = ModeSafetensorsSingle
		res.ModelFiles = stFiles
	case len(stFiles) > 1 && res.IndexFile != "":
		res.Mode = ModeSafetensorsSharded
		res.ModelFiles = stFiles
	case len(stFiles) > 1 && res.IndexFile == "":
		res.Mode = ModeSafetensorsShardedNoIndex
		res.ModelFiles = stFiles
	default:
		return nil, newErr(KindInputMalformed, nil, "no recognized model files found (expected .gguf or .safetensors)")
	}

	if res.Mode != ModeDiffusion {
		_, hasJSON := res.Auxiliary["tokenizer.json"]
		_, hasModel := res.Auxiliary["tokenizer.model"]
		if !hasJSON && !hasModel {
			return nil, newErr(KindInputIncomplete, nil, "text model requires tokenizer.json or tokenizer.model, found neither")
		}
	}

	return res, nil
}

func (m FormatMode) String() string {
	switch m {
	case ModeGGUF:
		return "gguf"
	case ModeSafetensorsSingle:
		return "safetensors-single"
	case ModeSafetensorsSharded:
		return "safetensors-sharded"
	case ModeSafetensorsShardedNoIndex:
		return "safetensors-sharded-no-index"
	case ModeDiffusion:
		return "diffusion"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}
