package ggufformat

import (
	"fmt"

	"github.com/modelshard/convert/internal/dtype"
)

// GGML tensor-type codes, matching the numbering used across the GGUF
// ecosystem (gomlx/go-huggingface's TensorType, gguf-parser-go's GGMLType).
const (
	ggmlF32  = 0
	ggmlF16  = 1
	ggmlQ4_0 = 2
	ggmlQ4_1 = 3
	ggmlQ5_0 = 6
	ggmlQ5_1 = 7
	ggmlQ8_0 = 8
	ggmlQ8_1 = 9
	ggmlQ2_K = 10
	ggmlQ3_K = 11
	ggmlQ4_K = 12
	ggmlQ5_K = 13
	ggmlQ6_K = 14
	ggmlQ8_K = 15
	ggmlI8   = 24
	ggmlI16  = 25
	ggmlI32  = 26
	ggmlI64  = 27
	ggmlBF16 = 30
)

// mapGGMLType maps a GGUF tensor-type enum value to the uniform dtype set.
// Quantized families this converter does not carry a transcoder for
// (Q4_0/Q4_1/Q5_0/Q5_1/Q2_K/Q3_K/Q8_1/Q8_K) are rejected explicitly rather
// than silently passed through as opaque bytes.
func mapGGMLType(v uint32) (dtype.Type, error) {
	switch v {
	case ggmlF32:
		return dtype.F32, nil
	case ggmlF16:
		return dtype.F16, nil
	case ggmlBF16:
		return dtype.BF16, nil
	case ggmlI8:
		return dtype.I8, nil
	case ggmlI16:
		return dtype.I16, nil
	case ggmlI32:
		return dtype.I32, nil
	case ggmlI64:
		return dtype.I64, nil
	case ggmlQ4_K:
		return dtype.Q4_K, nil
	case ggmlQ5_K:
		return dtype.Q5_K, nil
	case ggmlQ6_K:
		return dtype.Q6_K, nil
	case ggmlQ8_0:
		return dtype.Q8_0, nil
	default:
		return 0, fmt.Errorf("unsupported GGML tensor type code %d", v)
	}
}
