package transcode

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/quant"
)

// BlockLayout selects how a Q4_K_M target arranges its super-blocks
// relative to the tensor's logical shape (spec.md §3/§4.3).
type BlockLayout int

const (
	LayoutFlat BlockLayout = iota
	LayoutRow
	LayoutCol
)

// TargetChunks wraps src (source_chunks' output) with the transformer that
// realizes dstType bytes, per spec.md §4.3's target_chunks contract.
// rowElements is the element count of one logical row; it is required (and
// must be > 0) when layout is LayoutRow, ignored otherwise.
func TargetChunks(src ByteStream, srcType, dstType dtype.Type, layout BlockLayout, rowElements int) (ByteStream, error) {
	if layout == LayoutCol {
		return nil, fmt.Errorf("transcode: col layout is not supported by the streaming transcoder")
	}
	if srcType == dstType && dtype.IsDense(dstType) {
		return src, nil
	}
	if dstType == dtype.Q4_K_M {
		if layout == LayoutRow && rowElements <= 0 {
			return nil, fmt.Errorf("transcode: row layout requires a positive rowElements")
		}
		floats := newFloatDecodeStream(src, srcType)
		return newQ4KMStream(floats, layout, rowElements), nil
	}
	if !dtype.IsDense(srcType) || !dtype.IsDense(dstType) {
		return nil, fmt.Errorf("transcode: unsupported dense conversion %s -> %s", srcType, dstType)
	}
	return newElementStream(src, srcType, dstType), nil
}

// floatDecodeStream decodes a dense byte stream of srcType into a stream of
// float32 values, one at a time, carrying partial-element bytes across
// chunk boundaries.
type floatDecodeStream struct {
	src      ByteStream
	srcSize  int
	srcType  dtype.Type
	carry    []byte
	pending  []float32
	srcDone  bool
}

func newFloatDecodeStream(src ByteStream, srcType dtype.Type) *floatDecodeStream {
	return &floatDecodeStream{src: src, srcSize: dtype.BytesPerElement(srcType), srcType: srcType}
}

// next returns the next float32 value, or io.EOF when the source is
// exhausted with no partial element pending. A non-empty carry at EOF is
// ErrAlignment.
func (f *floatDecodeStream) next(ctx context.Context) (float32, error) {
	for len(f.pending) == 0 {
		if f.srcDone {
			if len(f.carry) != 0 {
				return 0, ErrAlignment
			}
			return 0, io.EOF
		}
		chunk, err := f.src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				f.srcDone = true
				continue
			}
			return 0, err
		}
		f.carry = append(f.carry, chunk...)
		n := len(f.carry) / f.srcSize
		for i := 0; i < n; i++ {
			raw := f.carry[i*f.srcSize : (i+1)*f.srcSize]
			f.pending = append(f.pending, decodeElement(raw, f.srcType))
		}
		f.carry = append([]byte(nil), f.carry[n*f.srcSize:]...)
	}
	v := f.pending[0]
	f.pending = f.pending[1:]
	return v, nil
}

func decodeElement(raw []byte, t dtype.Type) float32 {
	switch t {
	case dtype.F32:
		return decodeF32(raw)
	case dtype.F16:
		bits := uint16(raw[0]) | uint16(raw[1])<<8
		return dtype.F16ToF32(bits)
	case dtype.BF16:
		bits := uint16(raw[0]) | uint16(raw[1])<<8
		return dtype.BF16ToF32(bits)
	default:
		panic("transcode: decodeElement called on unsupported source dtype")
	}
}

func decodeF32(raw []byte) float32 {
	bits := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return math.Float32frombits(bits)
}

// elementStream re-encodes each source element into the target dtype,
// forwarding whole converted elements as they complete; it carries partial
// source bytes across chunk boundaries exactly as the teacher's
// safetensorWriterTo.WriteTo does with its buffered read loop.
type elementStream struct {
	src     ByteStream
	srcType dtype.Type
	dstType dtype.Type
	carry   []byte
	out     []byte
	srcDone bool
}

func newElementStream(src ByteStream, srcType, dstType dtype.Type) *elementStream {
	return &elementStream{src: src, srcType: srcType, dstType: dstType}
}

func (e *elementStream) Next(ctx context.Context) ([]byte, error) {
	srcSize := dtype.BytesPerElement(e.srcType)
	dstSize := dtype.BytesPerElement(e.dstType)

	for len(e.out) == 0 {
		if e.srcDone {
			if len(e.carry) != 0 {
				return nil, ErrAlignment
			}
			return nil, io.EOF
		}
		chunk, err := e.src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				e.srcDone = true
				continue
			}
			return nil, err
		}
		e.carry = append(e.carry, chunk...)
		n := len(e.carry) / srcSize
		buf := make([]byte, 0, n*dstSize)
		for i := 0; i < n; i++ {
			raw := e.carry[i*srcSize : (i+1)*srcSize]
			v := decodeElement(raw, e.srcType)
			buf = append(buf, encodeElement(v, e.dstType)...)
		}
		e.carry = append([]byte(nil), e.carry[n*srcSize:]...)
		e.out = buf
	}
	out := e.out
	e.out = nil
	return out, nil
}

func encodeElement(v float32, t dtype.Type) []byte {
	switch t {
	case dtype.F32:
		bits := math.Float32bits(v)
		return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	case dtype.F16:
		bits := dtype.F32ToF16(v)
		return []byte{byte(bits), byte(bits >> 8)}
	default:
		panic("transcode: encodeElement called on unsupported target dtype")
	}
}

// q4KMStream drives a quant.RowEncoder off a floatDecodeStream, yielding
// complete super-block byte chunks as they close.
type q4KMStream struct {
	floats      *floatDecodeStream
	enc         *quant.RowEncoder
	layout      BlockLayout
	rowElements int
	rowPos      int
	pendingRow  []float32
	done        bool
	flushed     bool
}

func newQ4KMStream(floats *floatDecodeStream, layout BlockLayout, rowElements int) *q4KMStream {
	s := &q4KMStream{floats: floats, enc: quant.NewRowEncoder(), layout: layout, rowElements: rowElements}
	if layout == LayoutRow {
		s.pendingRow = make([]float32, 0, rowElements)
	}
	return s
}

func (s *q4KMStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.done {
			if s.flushed {
				return nil, io.EOF
			}
			s.flushed = true
			if tail := s.enc.EndRow(); len(tail) > 0 {
				return tail, nil
			}
			return nil, io.EOF
		}
		v, err := s.floats.next(ctx)
		if err == io.EOF {
			s.done = true
			if s.layout == LayoutRow && len(s.pendingRow) > 0 {
				out := s.enc.PushRow(s.pendingRow)
				s.pendingRow = s.pendingRow[:0]
				if len(out) > 0 {
					return out, nil
				}
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if s.layout == LayoutFlat {
			out := s.enc.PushRow([]float32{v})
			if len(out) > 0 {
				return out, nil
			}
			continue
		}

		s.pendingRow = append(s.pendingRow, v)
		if len(s.pendingRow) == s.rowElements {
			out := s.enc.PushRow(s.pendingRow)
			s.pendingRow = s.pendingRow[:0]
			if tail := s.enc.EndRow(); len(tail) > 0 {
				out = append(out, tail...)
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}
}
