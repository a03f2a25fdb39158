// Package stformat decodes safetensors containers: an 8-byte little-endian
// header length followed by a UTF-8 JSON tensor directory. Grounded on the
// teacher's convert.ReadSafeTensors/MetaData, generalized to single-file,
// sharded-with-index, and sharded-no-index layouts per spec.md §4.1.
package stformat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/modelshard/convert/internal/dtype"
)

// maxHeaderBytes bounds the JSON header length a single file may declare.
const maxHeaderBytes = 512 * 1024 * 1024

// rawEntry mirrors one tensor's JSON directory entry. Grounded directly on
// the teacher's MetaData struct; it carries json tags only and is decoded
// via encoding/json since the input already is JSON.
type rawEntry struct {
	DType       string   `json:"dtype"`
	Shape       []uint64 `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// TensorDirectoryEntry is this file's contribution to the uniform tensor
// directory, annotated with which shard file it was read from.
type TensorDirectoryEntry struct {
	Name       string
	Shape      []uint64
	DType      dtype.Type
	ShardFile  string
	Offset     int64 // absolute byte offset within ShardFile
	Size       int64
}

// FileHeader is one safetensors file's decoded directory plus the
// passthrough __metadata__ object (commonly HF config fields).
type FileHeader struct {
	HeaderLen int64
	Metadata  map[string]string
	Entries   []TensorDirectoryEntry
}

// Decode reads a single safetensors file's header from r. Each entry's
// Offset is file-absolute: the data section start (8 + HeaderLen) is added
// to the tensor's begin offset here, so callers do no translation.
func Decode(r io.Reader, shardFile string) (*FileHeader, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("stformat: read header length: %w", err)
	}
	if headerLen > maxHeaderBytes {
		return nil, fmt.Errorf("stformat: header length %d exceeds maximum %d", headerLen, maxHeaderBytes)
	}

	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("stformat: read header body: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("stformat: decode header JSON: %w", err)
	}

	fh := &FileHeader{HeaderLen: int64(headerLen)}
	dataBase := int64(8) + int64(headerLen)

	if metaRaw, ok := raw["__metadata__"]; ok {
		var meta map[string]string
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("stformat: decode __metadata__: %w", err)
		}
		fh.Metadata = meta
		delete(raw, "__metadata__")
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]TensorDirectoryEntry, 0, len(names))
	for _, name := range names {
		var e rawEntry
		if err := json.Unmarshal(raw[name], &e); err != nil {
			return nil, fmt.Errorf("stformat: decode tensor %q: %w", name, err)
		}
		dt, err := dtype.ParseString(e.DType)
		if err != nil {
			return nil, fmt.Errorf("stformat: tensor %q: %w", name, err)
		}
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if end < begin {
			return nil, fmt.Errorf("stformat: tensor %q: data_offsets end %d precedes begin %d", name, end, begin)
		}
		size := end - begin
		elements := uint64(1)
		for _, d := range e.Shape {
			elements *= d
		}
		if want := dtype.ByteSize(dt, elements); want != uint64(size) {
			return nil, fmt.Errorf("stformat: tensor %q: declared size %d does not match shape/dtype-derived size %d", name, size, want)
		}
		entries = append(entries, TensorDirectoryEntry{
			Name:      name,
			Shape:     e.Shape,
			DType:     dt,
			ShardFile: shardFile,
			Offset:    dataBase + begin,
			Size:      size,
		})
	}
	fh.Entries = entries
	return fh, nil
}
