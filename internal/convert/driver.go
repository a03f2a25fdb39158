// Package convert orchestrates the conversion pipeline end to end: format
// detection, header parsing, family detection, planning, shard packing,
// and manifest emission (spec.md §4.6). Grounded on the teacher's overall
// convert.go flow (GetParams -> GetSafeTensors -> WriteGGUF), restructured
// around the shard+manifest target layout instead of a single GGUF output.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/manifest"
	"github.com/modelshard/convert/internal/modelconfig"
	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/preset"
	"github.com/modelshard/convert/internal/shardpack"
	"github.com/modelshard/convert/internal/storeadapter"
	"github.com/modelshard/convert/internal/transcode"
)

// Driver sequences a single conversion. It holds the process-wide preset
// registries (loaded once) and the storage root.
type Driver struct {
	store       *storeadapter.FSStore
	presets     *preset.Registry
	kernelPaths *preset.KernelPathRegistry
}

// NewDriver opens a local-filesystem store rooted at baseDir and loads the
// embedded preset/kernel-path registries.
func NewDriver(baseDir string) (*Driver, error) {
	store, err := storeadapter.Open(baseDir)
	if err != nil {
		return nil, newErr(KindStorageUnavailable, err, "initialize storage root %q", baseDir)
	}
	return &Driver{store: store, presets: preset.Load(), kernelPaths: preset.LoadKernelPaths()}, nil
}

// Request is one conversion's full input.
type Request struct {
	Input      InputSet
	Config     Config
	Cancelled  func() bool // polled at every stage boundary and before every tensor
	Progress   ProgressFunc
	Source     string // manifest's "source" tag, e.g. "node-converter"
}

// Convert runs the full pipeline and returns the written manifest, or an
// error classified into the closed kind set of spec.md §7. On any error
// (including cancellation) the target model store is deleted before
// returning.
func (d *Driver) Convert(ctx context.Context, req Request) (*manifest.Manifest, error) {
	modelID := ""
	cleanup := func() {
		if modelID != "" {
			_ = d.store.DeleteModel(modelID)
		}
	}

	m, err := d.convert(ctx, req, &modelID)
	if err != nil {
		slog.With("stage", "error", "modelId", modelID).Error(err.Error())
		emit(req.Progress, Event{Stage: StageError, Message: err.Error(), ModelID: modelID})
		cleanup()
		return nil, err
	}
	return m, nil
}

func (d *Driver) convert(ctx context.Context, req Request, modelIDOut *string) (*manifest.Manifest, error) {
	if req.Cancelled != nil && req.Cancelled() {
		return nil, newErr(KindCancelled, nil, "cancelled before detection")
	}

	detectLog := slog.With("stage", "detecting")
	detectLog.Info("inspecting input files", "paths", req.Input.Paths)
	emit(req.Progress, Event{Stage: StageDetecting, Message: "inspecting input files"})
	det, err := Detect(req.Input)
	if err != nil {
		return nil, err
	}
	detectLog.Debug("detected format", "mode", det.Mode.String(), "files", det.ModelFiles)

	if req.Cancelled != nil && req.Cancelled() {
		return nil, newErr(KindCancelled, nil, "cancelled after detection")
	}

	parseLog := slog.With("stage", "parsing", "format", det.Mode.String())
	parseLog.Info("parsing model headers")
	emit(req.Progress, Event{Stage: StageParsing, Message: "parsing model headers", Format: det.Mode.String()})
	pm, err := d.parse(det)
	if err != nil {
		return nil, err
	}
	defer pm.closeSources()
	parseLog.Debug("parsed tensor directory", "tensorCount", len(pm.Tensors))

	if req.Cancelled != nil && req.Cancelled() {
		return nil, newErr(KindCancelled, nil, "cancelled after parsing")
	}

	p, matched := d.presets.Detect(pm.Config)
	if !matched {
		slog.With("stage", "planning").Warn("no preset matched", "architecture", pm.Config.Architectures, "modelType", pm.Config.ModelType)
		return nil, newErr(KindUnknownFamily, nil,
			"no preset matches this model (architecture=%v, modelType=%q); known families: %v",
			pm.Config.Architectures, pm.Config.ModelType, knownFamilies)
	}
	slog.With("stage", "planning").Debug("matched preset", "preset", p.ID)

	var totalInputBytes int64
	for _, t := range pm.Tensors {
		totalInputBytes += int64(t.Size)
	}
	cfg := req.Config.withDefaults(totalInputBytes, det.Mode == ModeDiffusion)

	qOpts, err := buildPlanOptions(cfg)
	if err != nil {
		return nil, err
	}
	if qOpts.RequestColLayout {
		return nil, newErr(KindUnsupportedOption, nil, "col layout is rejected by the streaming transcoder")
	}
	qp, err := plan.BuildQuantizationPlan(qOpts)
	if err != nil {
		return nil, err
	}

	tensorPlans := make([]*plan.TensorPlan, len(pm.Tensors))
	byName := make(map[string]sourcedTensor, len(pm.Tensors))
	for i, st := range pm.Tensors {
		tp, err := plan.BuildTensorPlan(plan.TensorEntry{
			Name: st.Name, Shape: st.Shape, DType: st.DType, Offset: uint64(st.Offset), Size: st.Size,
		}, qp)
		if err != nil {
			return nil, newErr(KindAssertion, err, "plan tensor %q", st.Name)
		}
		tensorPlans[i] = tp
		byName[st.Name] = st
	}

	modelID := resolveModelID(cfg, pm.Config)
	*modelIDOut = modelID
	storeLog := slog.With("stage", "store", "modelId", modelID)

	if req.Cancelled != nil && req.Cancelled() {
		return nil, newErr(KindCancelled, nil, "cancelled before store open")
	}

	if err := d.store.OpenModel(modelID); err != nil {
		return nil, newErr(KindStorageUnavailable, err, "open model store %q", modelID)
	}
	storeLog.Info("opened model store")

	ordered, groups := shardpack.OrderTensors(tensorPlans)

	chunkSource := func(ctx context.Context, tp *plan.TensorPlan) (transcode.ByteStream, error) {
		st := byName[tp.Name]
		src := pm.Sources[st.SourceKey]
		if src == nil {
			return nil, newErr(KindAssertion, nil, "no tensor source for %q", tp.Name)
		}
		raw := transcode.SourceChunks(src, st.Offset, int64(st.Size), cfg.Streaming.ChunkSizeBytes)
		rowElements := 0
		if len(tp.Shape) == 2 {
			rowElements = int(tp.Shape[len(tp.Shape)-1])
		}
		out, err := transcode.TargetChunks(raw, tp.SourceDType, tp.TargetDType, tp.Layout, rowElements)
		if err != nil {
			return nil, newErr(KindUnsupportedOption, err, "transcode %q", tp.Name)
		}
		return out, nil
	}

	newWriter := func(index int) (shardpack.ShardWriter, shardpack.Hasher, error) {
		w, h, err := d.store.CreateShardWriter(modelID, index)
		if err != nil {
			return nil, nil, newErr(KindStorageUnavailable, err, "create shard writer %d", index)
		}
		return w, h, nil
	}

	tensorCount := len(ordered)
	writeLog := slog.With("stage", "writing", "modelId", modelID)
	onProgress := func(completed, total int, name string) {
		writeLog.Debug("packed tensor", "name", name, "current", completed, "total", total)
		emit(req.Progress, Event{
			Stage: StageWriting, Message: fmt.Sprintf("packed %s", name),
			Current: completed, Total: total, Percent: percentOf(completed, total),
			TensorCount: total, ModelID: modelID,
		})
	}

	writeLog.Info("packing shards", "tensorCount", tensorCount)
	emit(req.Progress, Event{Stage: StageWriting, Message: "packing shards", TensorCount: tensorCount, ModelID: modelID})
	packResult, err := shardpack.Pack(ctx, ordered, groups, chunkSource, cfg.Sharding.ShardSizeBytes, newWriter, onProgress, req.Cancelled)
	if err != nil {
		if shardpack.ErrCancelled(err) {
			return nil, newErr(KindCancelled, nil, "cancelled during shard packing")
		}
		if errors.Is(err, transcode.ErrAlignment) {
			return nil, newErr(KindTranscodeAlignment, err, "pack shards")
		}
		var ce *ConvertError
		if errors.As(err, &ce) {
			return nil, newErr(ce.Kind, err, "pack shards")
		}
		return nil, newErr(KindAssertion, err, "pack shards")
	}
	writeLog.Info("packed shards", "shardCount", len(packResult.Shards), "totalSize", packResult.TotalSize)

	manifestLog := slog.With("stage", "manifest", "modelId", modelID)
	manifestLog.Info("building manifest", "shardCount", len(packResult.Shards), "totalSize", packResult.TotalSize)
	emit(req.Progress, Event{Stage: StageManifest, Message: "building manifest", ModelID: modelID, ShardCount: len(packResult.Shards), TotalSize: packResult.TotalSize})

	canonKernelPath, err := d.resolveKernelPath(p, qp, cfg)
	if err != nil {
		return nil, newErr(KindAssertion, err, "resolve kernel path")
	}
	manifestLog.Debug("resolved kernel path", "kernelPath", canonKernelPath)

	arch := buildArchitecture(pm.Config, p)
	var moe *manifest.MoE
	if pm.Config.IsMoE() {
		moe = &manifest.MoE{NumExperts: pm.Config.NumLocalExperts, NumExpertsPerToken: pm.Config.NumExpertsPerToken, ExpertFormat: tagForWeight(qp.Weight)}
	}

	auxAssets := make([]string, 0, len(det.Auxiliary))
	for name := range det.Auxiliary {
		auxAssets = append(auxAssets, name)
	}

	m, err := manifest.Build(manifest.BuildInput{
		ModelID: modelID, ModelType: pm.Config.ModelType, Architecture: arch,
		QuantPlan: qp, BlockLayout: layoutName(qp.BlockLayout), PackResult: packResult,
		PresetID: p.ID, KernelPathID: canonKernelPath, LayerPattern: p.LayerPattern,
		MoE: moe, Tokenizer: buildTokenizerDescriptor(det), AuxiliaryAssets: auxAssets,
		HashAlgorithm: cfg.Manifest.HashAlgorithm, Source: sourceOrDefault(req.Source),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		ArchitectureOverride: pm.Config.Extra,
	})
	if err != nil {
		return nil, newErr(KindAssertion, err, "build manifest")
	}

	data, err := manifest.Encode(m)
	if err != nil {
		return nil, newErr(KindAssertion, err, "encode manifest")
	}
	if err := d.store.WriteManifest(modelID, data); err != nil {
		return nil, newErr(KindStorageUnavailable, err, "write manifest")
	}
	for name, path := range det.Auxiliary {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, newErr(KindStorageUnavailable, err, "read auxiliary asset %q", name)
		}
		var writeErr error
		switch name {
		case "tokenizer.json", "tokenizer.model", "tokenizer_config.json", "special_tokens_map.json":
			writeErr = d.store.WriteTokenizer(modelID, name, raw)
		default:
			writeErr = d.store.WriteAuxiliary(modelID, name, raw)
		}
		if writeErr != nil {
			return nil, newErr(KindStorageUnavailable, writeErr, "write auxiliary asset %q", name)
		}
	}

	gm := manifest.BuildGroupManifest(groups, packResult.Locations)
	if groupsData, err := json.MarshalIndent(gm, "", "  "); err == nil {
		_ = d.store.WriteAuxiliary(modelID, "groups.json", groupsData)
	}

	manifestLog.Info("conversion complete", "shardCount", len(m.Shards), "totalSize", m.TotalSize)
	emit(req.Progress, Event{Stage: StageComplete, Message: "conversion complete", ModelID: modelID, ShardCount: len(m.Shards), TotalSize: m.TotalSize})
	return m, nil
}

func (d *Driver) parse(det *DetectionResult) (*parsedModel, error) {
	cfgPath := det.Auxiliary["config.json"]
	switch det.Mode {
	case ModeGGUF:
		return parseGGUF(det.ModelFiles[0])
	case ModeSafetensorsSingle:
		return parseSafetensorsSingle(det.ModelFiles[0], cfgPath)
	case ModeSafetensorsSharded:
		return parseSafetensorsSharded(det.ModelFiles, det.IndexFile, cfgPath, true)
	case ModeSafetensorsShardedNoIndex:
		return parseSafetensorsSharded(det.ModelFiles, "", cfgPath, false)
	case ModeDiffusion:
		if len(det.ModelFiles) == 0 {
			return nil, newErr(KindInputIncomplete, nil, "diffusion model_index.json present but no component safetensors files found")
		}
		return parseSafetensorsSharded(det.ModelFiles, "", cfgPath, false)
	default:
		return nil, newErr(KindAssertion, nil, "unrecognized format mode")
	}
}

// resolveKernelPath looks up the kernel path for the requested activation
// precision first, then falls back across the other dense activation
// precisions the matrix might carry a cell for instead of assuming "f16"
// always exists: an all-F32 model asked to compute in a non-default
// precision has no "f16" cell to fall back to either.
func (d *Driver) resolveKernelPath(p *preset.Preset, qp *plan.QuantizationPlan, cfg Config) (string, error) {
	weightTag := tagForWeight(qp.Weight)
	tried := []string{cfg.Quantization.ComputePrecision}
	if id, ok := p.KernelPath(weightTag, cfg.Quantization.ComputePrecision); ok {
		return d.kernelPaths.Canonicalize(id)
	}
	for _, fallback := range []string{"f16", "f32"} {
		if fallback == cfg.Quantization.ComputePrecision {
			continue
		}
		tried = append(tried, fallback)
		if id, ok := p.KernelPath(weightTag, fallback); ok {
			return d.kernelPaths.Canonicalize(id)
		}
	}
	return "", fmt.Errorf("preset %q has no kernel path for weight quantization %q (tried activation precisions %v)", p.ID, weightTag, tried)
}

func tagForWeight(t dtype.Type) string {
	switch t {
	case dtype.Q4_K_M:
		return "q4k_m"
	case dtype.Q4_K:
		return "q4k"
	case dtype.Q5_K:
		return "q5k"
	case dtype.Q6_K:
		return "q6k"
	case dtype.Q8_0:
		return "q8_0"
	case dtype.F32:
		return "f32"
	default:
		return "f16"
	}
}

func layoutName(l transcode.BlockLayout) string {
	switch l {
	case transcode.LayoutRow:
		return "row"
	case transcode.LayoutCol:
		return "col"
	default:
		return "flat"
	}
}

func resolveModelID(cfg Config, mc *modelconfig.Config) string {
	if cfg.Output.ModelID != "" {
		return sanitizeModelID(cfg.Output.ModelID)
	}
	if mc.NameOrPath != "" {
		return sanitizeModelID(filepath.Base(mc.NameOrPath))
	}
	return uuid.NewString()
}

func sanitizeModelID(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ', r == '/':
			out = append(out, '-')
		}
	}
	return string(out)
}

// buildArchitecture reports config fields where present, falling back to
// the matched preset's defaults (spec.md §4.2: config fields always win
// over preset defaults when both are available).
func buildArchitecture(cfg *modelconfig.Config, p *preset.Preset) manifest.Architecture {
	d := p.Defaults
	a := manifest.Architecture{
		LayerCount:      firstNonZeroInt(cfg.HiddenLayers, d.HiddenLayers),
		HiddenSize:      firstNonZeroInt(cfg.HiddenSize, d.HiddenSize),
		FeedForwardSize: firstNonZeroInt(cfg.IntermediateSize, d.IntermediateSize),
		HeadCount:       firstNonZeroInt(cfg.AttentionHeads, d.AttentionHeads),
		KeyValueHeads:   firstNonZeroInt(cfg.KeyValueHeads, d.KeyValueHeads),
		HeadDim:         firstNonZeroInt(cfg.HeadDim, d.HeadDim),
		VocabSize:       cfg.VocabSize,
		MaxSequenceLen:  firstNonZeroInt(cfg.MaxPositionEmbed, d.MaxPositionEmbed),
		RopeTheta:       firstNonZeroFloat(cfg.RopeTheta, d.RopeTheta),
		RMSNormEpsilon:  d.RMSNormEps,
	}
	if eps, ok := cfg.Extra["rms_norm_eps"].(float64); ok && eps != 0 {
		a.RMSNormEpsilon = eps
	}
	return a
}

func firstNonZeroInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonZeroFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func buildTokenizerDescriptor(det *DetectionResult) manifest.Tokenizer {
	var assets []string
	typ := "unknown"
	if p, ok := det.Auxiliary["tokenizer.json"]; ok {
		assets = append(assets, filepath.Base(p))
		typ = "huggingface"
	}
	if p, ok := det.Auxiliary["tokenizer.model"]; ok {
		assets = append(assets, filepath.Base(p))
		typ = "sentencepiece"
	}
	return manifest.Tokenizer{Type: typ, Assets: assets}
}

func sourceOrDefault(s string) string {
	if s == "" {
		return "node-converter"
	}
	return s
}

// buildPlanOptions translates the user-facing string-keyed quantization
// options into plan.Options, resolving dtype names and the weight policy.
func buildPlanOptions(cfg Config) (plan.Options, error) {
	opts := plan.Options{RequestColLayout: cfg.Quantization.ColumnLayout}

	switch normalizeDTypeName(cfg.Quantization.Weights) {
	case "":
		opts.Weights = plan.PolicyDefault
	case "F16":
		opts.Weights = plan.PolicyF16
	case "F32":
		opts.Weights = plan.PolicyF32
	case "q4_k_m", "Q4_K_M":
		opts.Weights = plan.PolicyQ4KM
	default:
		return opts, newErr(KindUnsupportedOption, nil, "unrecognized weight quantization %q", cfg.Quantization.Weights)
	}

	compute, ok, err := parseDType(cfg.Quantization.ComputePrecision)
	if err != nil {
		return opts, newErr(KindUnsupportedOption, err, "unrecognized compute precision %q", cfg.Quantization.ComputePrecision)
	}
	if !ok {
		compute = dtype.F16
	}
	opts.ComputePrecision = compute

	if v, ok, err := parseDType(cfg.Quantization.VisionDType); err != nil {
		return opts, newErr(KindUnsupportedOption, err, "unrecognized vision dtype %q", cfg.Quantization.VisionDType)
	} else if ok {
		opts.VisionDType, opts.HasVisionOverride = v, true
	}
	if v, ok, err := parseDType(cfg.Quantization.AudioDType); err != nil {
		return opts, newErr(KindUnsupportedOption, err, "unrecognized audio dtype %q", cfg.Quantization.AudioDType)
	} else if ok {
		opts.AudioDType, opts.HasAudioOverride = v, true
	}
	if v, ok, err := parseDType(cfg.Quantization.ProjectorDType); err != nil {
		return opts, newErr(KindUnsupportedOption, err, "unrecognized projector dtype %q", cfg.Quantization.ProjectorDType)
	} else if ok {
		opts.ProjectorDType, opts.HasProjectorOverride = v, true
	}

	return opts, nil
}

