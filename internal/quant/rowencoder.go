package quant

// RowEncoder accumulates float32 values one row at a time and emits
// complete Q4_K super-blocks, zero-padding a short final super-block at a
// row boundary (spec.md §4.3: "Row boundaries force an early super-block
// close with zero padding").
type RowEncoder struct {
	buf [SuperBlockElements]float32
	n   int
}

// NewRowEncoder returns an encoder with an empty pending super-block.
func NewRowEncoder() *RowEncoder { return &RowEncoder{} }

// PushRow feeds one row's worth of float32 values. It returns the bytes of
// every super-block completed while consuming row (zero or more), in
// order. Call EndRow after each row to flush a short trailing
// super-block with zero padding.
func (e *RowEncoder) PushRow(row []float32) []byte {
	var out []byte
	for _, v := range row {
		e.buf[e.n] = v
		e.n++
		if e.n == SuperBlockElements {
			out = append(out, EncodeSuperBlock(e.buf)...)
			e.n = 0
		}
	}
	return out
}

// EndRow closes the current row: if a partial super-block is pending, it is
// zero-padded and emitted. Call this once per row when rows don't evenly
// divide SuperBlockElements (§4.3's row-boundary padding rule); for rows
// that exactly divide into whole super-blocks this is a no-op.
func (e *RowEncoder) EndRow() []byte {
	if e.n == 0 {
		return nil
	}
	padded := e.buf
	for i := e.n; i < SuperBlockElements; i++ {
		padded[i] = 0
	}
	e.n = 0
	return EncodeSuperBlock(padded)
}
