// Package transcode implements the two lazy byte-chunk producers named in
// spec.md §4.3/§9: source_chunks pulls raw bytes from a TensorSource, and
// target_chunks wraps a source stream with a dtype-changing transformer
// (F16/F32/BF16 re-encoding, or Q4_K_M block quantization). Grounded on the
// teacher's safetensorWriterTo.WriteTo, which pulls fixed-size buffers from
// an io.Reader and re-encodes each element on the fly — here generalized
// into a pull-based, single-consumer Stream abstraction per spec.md §9.
package transcode

import (
	"context"
	"errors"
	"io"

	"github.com/modelshard/convert/internal/source"
)

// ErrAlignment is returned when a byte stream ends in the middle of an
// element or block it was supposed to complete — spec.md §7's
// transcode-alignment error kind.
var ErrAlignment = errors.New("transcode: input ended mid-element")

// ByteStream is a pull-based, single-consumer sequence of byte chunks.
// Next returns io.EOF (wrapping no bytes) once exhausted.
type ByteStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// sourceChunkStream yields raw bytes from a TensorSource in
// chunkSize-sized pieces (the last chunk may be shorter).
type sourceChunkStream struct {
	src       source.TensorSource
	offset    int64
	remaining int64
	chunkSize int64
}

// SourceChunks returns source_chunks(tensor): a stream of raw bytes read
// from src starting at offset, covering size bytes total, in pieces no
// larger than chunkSize.
func SourceChunks(src source.TensorSource, offset, size, chunkSize int64) ByteStream {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	return &sourceChunkStream{src: src, offset: offset, remaining: size, chunkSize: chunkSize}
}

func (s *sourceChunkStream) Next(ctx context.Context) ([]byte, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	n := s.chunkSize
	if n > s.remaining {
		n = s.remaining
	}
	buf, err := s.src.ReadRange(ctx, s.offset, n)
	if err != nil {
		return nil, err
	}
	s.offset += n
	s.remaining -= n
	return buf, nil
}

// sliceStream is a ByteStream over an in-memory buffer, chunked into
// pieces — useful for tests and for wrapping already-resident bytes.
type sliceStream struct {
	data      []byte
	pos       int
	chunkSize int
}

// SliceChunks wraps an in-memory buffer as a ByteStream.
func SliceChunks(data []byte, chunkSize int) ByteStream {
	if chunkSize <= 0 {
		chunkSize = len(data)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	return &sliceStream{data: data, chunkSize: chunkSize}
}

func (s *sliceStream) Next(_ context.Context) ([]byte, error) {
	if s.pos >= len(s.data) {
		return nil, io.EOF
	}
	end := s.pos + s.chunkSize
	if end > len(s.data) {
		end = len(s.data)
	}
	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, nil
}

// Collect drains a stream into one contiguous buffer. Used by tests; the
// packer itself never calls this.
func Collect(ctx context.Context, s ByteStream) ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, chunk...)
	}
}
