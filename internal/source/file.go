package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileSource is a TensorSource backed by a local, already-resident file.
// Grounded on the teacher's safetensorWriterTo.WriteTo, which opens the
// file once and seeks+reads ranges out of it.
type FileSource struct {
	f        *os.File
	size     int64
	tempPath string // set when this file should be removed on Cleanup
}

// OpenFile opens path for random-access reads.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: stat %q: %w", path, err)
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source: read_range(%d,%d): %w", offset, length, err)
	}
	if int64(n) != length {
		return nil, fmt.Errorf("source: read_range(%d,%d): short read of %d bytes", offset, length, n)
	}
	return buf, nil
}

func (s *FileSource) Cleanup() error {
	err := s.f.Close()
	if s.tempPath != "" {
		if rmErr := os.Remove(s.tempPath); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
