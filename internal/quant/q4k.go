// Package quant implements the Q4_K_M block-quantized encoding: a 256
// element super-block subdivided into 8 sub-blocks of 32, each carrying a
// 6-bit scale and 6-bit minimum, packed 4-bit codes. Grounded on
// ajroetker/go-highway's gguf_base.go BaseDequantizeQ4K, whose block_q4_K
// layout and get_scale_min_k4 unpacking scheme this package inverts into an
// encoder (the pack's dequantizers read this exact layout; the core needs
// the write-side the reference repos only read).
package quant

import "github.com/modelshard/convert/internal/dtype"

const (
	// SuperBlockElements is the number of float values one Q4_K super-block
	// covers (spec.md §4.3: "a super-block of 256 elements").
	SuperBlockElements = 256
	// SubBlockElements is the number of elements in one of the 8 sub-blocks.
	SubBlockElements = 32
	numSubBlocks      = SuperBlockElements / SubBlockElements

	// Q4KBlockSize is the on-disk byte size of one encoded super-block:
	// d(2) + dmin(2) + scales(12) + qs(128).
	Q4KBlockSize = 144
)

// EncodeSuperBlock quantizes exactly SuperBlockElements float32 values
// (zero-padded by the caller if the row ended early) into one Q4_K
// super-block. The encoding mirrors BaseDequantizeQ4K in reverse:
//
//	dequant:  value = d*scale[j]*code - dmin*min[j]  (j = sub-block index)
//	encode:   code  = round((value + dmin*min[j]) / (d*scale[j]))  clamped to [0,15]
func EncodeSuperBlock(values [SuperBlockElements]float32) []byte {
	var subScale, subMin [numSubBlocks]float32
	for j := 0; j < numSubBlocks; j++ {
		lo, hi := values[j*SubBlockElements], values[j*SubBlockElements]
		for i := 0; i < SubBlockElements; i++ {
			v := values[j*SubBlockElements+i]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		// min[j] is a non-negative amount the decoder subtracts, so the
		// sub-block's offset is clamped to at most 0 before storing -lo.
		if lo > 0 {
			lo = 0
		}
		subMin[j] = -lo
		if hi > lo {
			subScale[j] = (hi - lo) / 15.0
		} else {
			subScale[j] = 1.0
		}
	}

	d, dmin := maxAbs(subScale[:]), maxAbs(subMin[:])
	if d == 0 {
		d = 1
	}
	if dmin == 0 {
		dmin = 1
	}

	scaleCode := make([]byte, numSubBlocks)
	minCode := make([]byte, numSubBlocks)
	for j := 0; j < numSubBlocks; j++ {
		scaleCode[j] = quantize6(subScale[j] / d * 63)
		minCode[j] = quantize6(subMin[j] / dmin * 63)
	}

	out := make([]byte, Q4KBlockSize)
	putF16(out[0:2], d)
	putF16(out[2:4], dmin)
	packScales(out[4:16], scaleCode, minCode)

	qs := out[16:144]
	for j := 0; j < numSubBlocks; j++ {
		scale := float32(scaleCode[j]) / 63 * d
		min := float32(minCode[j]) / 63 * dmin
		if scale == 0 {
			scale = 1e-9
		}
		for i := 0; i < SubBlockElements; i += 2 {
			c0 := quantizeNibble(values[j*SubBlockElements+i], scale, min)
			c1 := quantizeNibble(values[j*SubBlockElements+i+1], scale, min)
			qs[(j*SubBlockElements+i)/2] = c0 | (c1 << 4)
		}
	}
	return out
}

func quantizeNibble(v, scale, min float32) byte {
	q := int32((v+min)/scale + 0.5)
	if q < 0 {
		q = 0
	}
	if q > 15 {
		q = 15
	}
	return byte(q)
}

func quantize6(v float32) byte {
	q := int32(v + 0.5)
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	return byte(q)
}

func maxAbs(vs []float32) float32 {
	var m float32
	for _, v := range vs {
		a := v
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}

// packScales packs 8 six-bit scale codes and 8 six-bit min codes into the
// 12-byte scales field, the inverse of get_scale_min_k4's unpacking:
//
//	d[j] = (q[j+4]&0xF) | ((q[j-4]>>6)<<4)   for j in 4..7  (else q[j]&63)
//	m[j] = (q[j+4]>>4)  | ((q[j]>>6)<<4)     for j in 4..7  (else q[j+4]&63)
func packScales(dst, scale, min []byte) {
	for idx := 0; idx < 4; idx++ {
		dst[idx] = (scale[idx] & 0x3F) | ((scale[idx+4] >> 4) << 6)
		dst[idx+4] = (min[idx] & 0x3F) | ((min[idx+4] >> 4) << 6)
		dst[idx+8] = (scale[idx+4] & 0x0F) | ((min[idx+4] & 0x0F) << 4)
	}
}

func putF16(dst []byte, v float32) {
	bits := dtype.F32ToF16(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
}
