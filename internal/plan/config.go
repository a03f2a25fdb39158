// Package plan implements the quantization planner: per-model dtype policy
// resolution (QuantizationPlan) and per-tensor plan construction
// (TensorPlan), per spec.md §3/§4.3.
package plan

import "github.com/modelshard/convert/internal/dtype"

// WeightPolicy is the converter's requested base weight dtype. A nil
// override in ConverterConfig.quantization.weights is modeled here as
// PolicyDefault, which resolves to Options.ComputePrecision.
type WeightPolicy int

const (
	PolicyDefault WeightPolicy = iota
	PolicyF16
	PolicyF32
	PolicyQ4KM
)

// Options mirrors the quantization.* fields of ConverterConfig (spec.md
// §3), already validated by the driver before planning begins.
type Options struct {
	Weights           WeightPolicy
	ComputePrecision  dtype.Type // F16 or F32
	VisionDType       dtype.Type // zero value (F32's zero too, so use a pointer-free sentinel)
	AudioDType        dtype.Type
	ProjectorDType    dtype.Type
	HasVisionOverride bool
	HasAudioOverride  bool
	HasProjectorOverride bool
	RequestColLayout  bool
}

// effectiveWeightDType resolves the base weight policy to a concrete dtype.
func (o Options) effectiveWeightDType() dtype.Type {
	switch o.Weights {
	case PolicyQ4KM:
		return dtype.Q4_K_M
	case PolicyF32:
		return dtype.F32
	case PolicyF16:
		return dtype.F16
	default:
		return o.ComputePrecision
	}
}
