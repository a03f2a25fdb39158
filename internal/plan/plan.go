package plan

import (
	"fmt"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/quant"
	"github.com/modelshard/convert/internal/rolecls"
	"github.com/modelshard/convert/internal/transcode"
)

// QuantizationPlan is the per-model dtype decision record (spec.md §3).
type QuantizationPlan struct {
	Weight       dtype.Type
	Embedding    dtype.Type
	OutputHead   dtype.Type
	Vision       dtype.Type
	Audio        dtype.Type
	Projector    dtype.Type
	BlockLayout  transcode.BlockLayout
	VariantTag   string
}

// BuildQuantizationPlan resolves model-wide dtype policy from Options. The
// caller (the driver) is responsible for rejecting RequestColLayout before
// this point is reached in streaming mode (spec.md §4.3); this function
// still records the chosen layout so a non-streaming path could honor it.
func BuildQuantizationPlan(o Options) (*QuantizationPlan, error) {
	weight := o.effectiveWeightDType()

	embedding := weight
	outputHead := weight
	// Embeddings and the output head are never block-quantized even when
	// the base weight policy is Q4_K_M: they fall back to the compute
	// precision (spec.md §4.3: "embeddings and output head fall back to
	// their own slots when those override the base weight policy").
	if weight == dtype.Q4_K_M {
		embedding = o.ComputePrecision
		outputHead = o.ComputePrecision
	}

	vision, audio, projector := weight, weight, weight
	if o.HasVisionOverride {
		vision = o.VisionDType
	}
	if o.HasAudioOverride {
		audio = o.AudioDType
	}
	if o.HasProjectorOverride {
		projector = o.ProjectorDType
	}

	layout := transcode.LayoutRow
	if o.RequestColLayout {
		layout = transcode.LayoutCol
	}

	return &QuantizationPlan{
		Weight:      weight,
		Embedding:   embedding,
		OutputHead:  outputHead,
		Vision:      vision,
		Audio:       audio,
		Projector:   projector,
		BlockLayout: layout,
		VariantTag:  variantTag(weight, embedding, outputHead),
	}, nil
}

// variantTag is a deterministic function of (weight, embedding, output)
// dtypes, used in the model identifier (spec.md §3).
func variantTag(weight, embedding, output dtype.Type) string {
	return fmt.Sprintf("%s-emb%s-out%s", tagOf(weight), tagOf(embedding), tagOf(output))
}

func tagOf(t dtype.Type) string {
	switch t {
	case dtype.Q4_K_M:
		return "q4km"
	case dtype.F16:
		return "f16"
	case dtype.F32:
		return "f32"
	default:
		return t.String()
	}
}

// TensorEntry is the subset of a decoded TensorDirectoryEntry the planner
// needs; both ggufformat and stformat entries satisfy this via a thin
// adapter in the convert package.
type TensorEntry struct {
	Name   string
	Shape  []uint64
	DType  dtype.Type
	Offset uint64
	Size   uint64
}

// TensorPlan is the per-tensor resolved plan (spec.md §3). get_chunks/
// get_data are supplied by the caller once the plan is built, since they
// depend on a live TensorSource the planner doesn't hold.
type TensorPlan struct {
	Name         string
	Shape        []uint64
	SourceDType  dtype.Type
	TargetDType  dtype.Type
	TargetSize   uint64
	Role         rolecls.Role
	Layout       transcode.BlockLayout
	SourceOffset uint64
	SourceSize   uint64
}

// BuildTensorPlan resolves one tensor's target dtype and layout.
// Pre-quantized source dtypes pass through unchanged (scenario 2: "planner
// classifies them as already-quantized, target dtype = source dtype").
func BuildTensorPlan(e TensorEntry, qp *QuantizationPlan) (*TensorPlan, error) {
	role := rolecls.Classify(e.Name)

	if dtype.IsPreQuantized(e.DType) {
		return &TensorPlan{
			Name: e.Name, Shape: e.Shape, SourceDType: e.DType, TargetDType: e.DType,
			TargetSize: e.Size, Role: role, Layout: transcode.LayoutFlat,
			SourceOffset: e.Offset, SourceSize: e.Size,
		}, nil
	}

	target := resolveTarget(role, qp)
	layout := transcode.LayoutFlat
	if target == dtype.Q4_K_M {
		if len(e.Shape) == 2 {
			layout = qp.BlockLayout
		}
	}

	elements := uint64(1)
	for _, d := range e.Shape {
		elements *= d
	}
	targetSize := dtype.ByteSize(target, elements)
	if target == dtype.Q4_K_M && layout == transcode.LayoutRow {
		// The row-layout encoder closes (and zero-pads) one or more
		// super-blocks at every row boundary instead of only at the very end
		// of the flattened tensor, so a row length that doesn't divide
		// SuperBlockElements evenly costs extra padding per row rather than
		// once overall.
		rowElements := e.Shape[len(e.Shape)-1]
		rows := elements / rowElements
		superBlocksPerRow := (rowElements + quant.SuperBlockElements - 1) / quant.SuperBlockElements
		targetSize = rows * superBlocksPerRow * quant.Q4KBlockSize
	}

	return &TensorPlan{
		Name: e.Name, Shape: e.Shape, SourceDType: e.DType, TargetDType: target,
		TargetSize: targetSize, Role: role, Layout: layout,
		SourceOffset: e.Offset, SourceSize: e.Size,
	}, nil
}

func resolveTarget(role rolecls.Role, qp *QuantizationPlan) dtype.Type {
	if !rolecls.IsQuantizable(role) {
		// Norms, biases, router/gate, and rotary tables stay dense at the
		// embedding slot's precision, which is never Q4_K_M (see above).
		if qp.Embedding == dtype.Q4_K_M {
			return dtype.F32
		}
		return qp.Embedding
	}
	switch role {
	case rolecls.RoleEmbedding:
		return qp.Embedding
	case rolecls.RoleOutputHead:
		return qp.OutputHead
	case rolecls.RoleModalityEncoder:
		return qp.Projector
	default:
		return qp.Weight
	}
}
