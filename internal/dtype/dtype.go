// Package dtype defines the uniform tensor element type set that every
// decoder (GGUF, safetensors) normalizes into, plus the byte-extent math
// tied to it.
//
// The set mirrors the GGML tensor-type enum used across the GGUF ecosystem
// (see gguf-parser-go's GGMLType and gomlx/go-huggingface's TensorType),
// trimmed to the dtypes this converter actually has to read, write, or
// quantize into.
package dtype

import "fmt"

// Type is a tensor element data type, dense or block-quantized.
type Type uint32

const (
	F32 Type = iota
	F16
	BF16
	I64
	I32
	I16
	I8
	U8
	BOOL
	Q4_K
	Q5_K
	Q6_K
	Q8_0
	Q4_K_M // target-only: row/col/flat-packed Q4_K super-blocks
)

func (t Type) String() string {
	switch t {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case I64:
		return "I64"
	case I32:
		return "I32"
	case I16:
		return "I16"
	case I8:
		return "I8"
	case U8:
		return "U8"
	case BOOL:
		return "BOOL"
	case Q4_K:
		return "Q4_K"
	case Q5_K:
		return "Q5_K"
	case Q6_K:
		return "Q6_K"
	case Q8_0:
		return "Q8_0"
	case Q4_K_M:
		return "Q4_K_M"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// ParseString maps a safetensors/HF dtype string (e.g. "F32", "BF16") to a
// Type. Safetensors headers spell dtypes in upper case.
func ParseString(s string) (Type, error) {
	switch s {
	case "F32", "FP32":
		return F32, nil
	case "F16", "FP16":
		return F16, nil
	case "BF16":
		return BF16, nil
	case "I64":
		return I64, nil
	case "I32":
		return I32, nil
	case "I16":
		return I16, nil
	case "I8":
		return I8, nil
	case "U8":
		return U8, nil
	case "BOOL":
		return BOOL, nil
	default:
		return 0, fmt.Errorf("dtype: unrecognized safetensors dtype %q", s)
	}
}

// IsDense reports whether t has a fixed per-element byte width (as opposed
// to a block-quantized layout whose size depends on block geometry).
func IsDense(t Type) bool {
	switch t {
	case F32, F16, BF16, I64, I32, I16, I8, U8, BOOL:
		return true
	default:
		return false
	}
}

// IsPreQuantized reports whether t is a source dtype that already carries a
// block-quantized layout (Q4_K, Q4_K_M, Q5_K, Q6_K, Q8_0) — these pass through the
// planner unchanged rather than being re-quantized (§4.3).
func IsPreQuantized(t Type) bool {
	switch t {
	case Q4_K, Q5_K, Q6_K, Q8_0, Q4_K_M:
		return true
	default:
		return false
	}
}

// BytesPerElement returns the dense per-element byte width. Only valid for
// IsDense types; panics otherwise, signalling a planner/decoder invariant
// breach rather than a data problem.
func BytesPerElement(t Type) int {
	switch t {
	case F32, I32:
		return 4
	case F16, BF16, I16:
		return 2
	case I64:
		return 8
	case I8, U8, BOOL:
		return 1
	default:
		panic(fmt.Sprintf("dtype: BytesPerElement called on non-dense type %s", t))
	}
}

// BlockSize returns the number of elements covered by one quantization
// block (256 for all K-quants, 32 for Q8_0, 1 for dense types).
func BlockSize(t Type) int {
	switch t {
	case Q4_K, Q5_K, Q6_K, Q4_K_M:
		return 256
	case Q8_0:
		return 32
	default:
		return 1
	}
}

// BlockByteSize returns the number of bytes one quantization block occupies
// on disk. Grounded on the block layouts documented in
// ajroetker/go-highway's gguf_base.go (BlockSizeQ4K = 144, etc.) and
// gomlx/go-huggingface's TensorType.TypeSize.
func BlockByteSize(t Type) int {
	switch t {
	case Q4_K:
		return 144 // d(2) + dmin(2) + scales(12) + qs(128)
	case Q5_K:
		return 176 // d(2) + dmin(2) + scales(12) + qs(128) + qh(32)
	case Q6_K:
		return 210 // ql(128) + qh(64) + scales(16) + d(2)
	case Q8_0:
		return 34 // d(2) + qs(32)
	case Q4_K_M:
		return 144
	default:
		return 0
	}
}

// ByteSize returns the on-disk byte extent of n elements of type t,
// matching the invariant from spec.md §3: "size = elements ×
// bytes_per_element(dtype)" for dense dtypes, and the block-format size
// for pre-quantized dtypes.
func ByteSize(t Type, elements uint64) uint64 {
	if IsDense(t) {
		return elements * uint64(BytesPerElement(t))
	}
	bs := uint64(BlockSize(t))
	nblocks := (elements + bs - 1) / bs
	return nblocks * uint64(BlockByteSize(t))
}
