package dtype

import (
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// F32ToF16 encodes a float32 value to its IEEE-754 binary16 bit pattern.
// Grounded on the teacher's safetensorWriterTo.WriteTo, which does the same
// float16.Fromfloat32(v) conversion element-by-element while streaming.
func F32ToF16(v float32) uint16 {
	return uint16(float16.Fromfloat32(v))
}

// F16ToF32 decodes an IEEE-754 binary16 bit pattern to float32.
func F16ToF32(bits uint16) float32 {
	return float16.Float16(bits).Float32()
}

// BF16BytesToF32 decodes a little-endian buffer of brain-float16 values into
// float32, directly matching the teacher's bfloat16.DecodeFloat32(data) call
// in safetensorWriterTo.WriteTo.
func BF16BytesToF32(data []byte) []float32 {
	return bfloat16.DecodeFloat32(data)
}

// BF16ToF32 decodes a single brain-float16 bit pattern to float32. bfloat16
// is simply the upper 16 bits of an IEEE-754 float32, zero-extended.
func BF16ToF32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}
