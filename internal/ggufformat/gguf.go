// Package ggufformat decodes GGUF containers: a magic/version preamble, a
// typed key-value metadata section, and a tensor directory. Grounded on the
// teacher's convert.GetParams/ReadSafeTensors family of readers, generalized
// from safetensors-only to the tag-length-value GGUF layout.
package ggufformat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/modelshard/convert/internal/dtype"
)

const (
	magic = 0x46554747 // "GGUF" little-endian

	// defaultAlignment is the default alignment of the tensor-data
	// section when general.alignment is absent from the metadata.
	defaultAlignment = 32
)

// valueType is the GGUF metadata value type tag.
type valueType uint32

const (
	vtUint8 valueType = iota
	vtInt8
	vtUint16
	vtInt16
	vtUint32
	vtInt32
	vtFloat32
	vtBool
	vtString
	vtArray
	vtUint64
	vtInt64
	vtFloat64
)

// Header is the decoded GGUF preamble plus metadata and tensor directory.
type Header struct {
	Version       uint32
	Architecture  string
	Metadata      map[string]any
	Tensors       []TensorDirectoryEntry
	Alignment     uint64
	DataBaseOffset uint64
}

// TensorDirectoryEntry mirrors spec.md §3's uniform tensor directory record,
// with GGUF-native fields (reversed dims, GGML type code) already mapped.
type TensorDirectoryEntry struct {
	Name   string
	Shape  []uint64
	DType  dtype.Type
	Offset uint64 // relative to DataBaseOffset
	Size   uint64
}

// maxHeaderBytes bounds how much of the KV+directory section we will buffer
// before giving up, per spec.md §4.1's "bounded header prefix" requirement.
const maxHeaderBytes = 512 * 1024 * 1024

// Decode parses a GGUF header from r, which must be positioned at the start
// of the file. It does not read tensor payload bytes; callers fetch those
// later through a TensorSource using DataBaseOffset + entry.Offset.
func Decode(r io.Reader) (*Header, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	lr := &io.LimitedReader{R: br, N: maxHeaderBytes}

	var gotMagic uint32
	if err := binary.Read(lr, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("ggufformat: read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("ggufformat: bad magic 0x%08x, not a GGUF file", gotMagic)
	}

	var version uint32
	if err := binary.Read(lr, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("ggufformat: read version: %w", err)
	}
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("ggufformat: unsupported version %d (only 2 and 3 are supported)", version)
	}

	var tensorCount, kvCount uint64
	if version == 2 {
		var tc32, kc32 uint32
		if err := binary.Read(lr, binary.LittleEndian, &tc32); err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor count: %w", err)
		}
		if err := binary.Read(lr, binary.LittleEndian, &kc32); err != nil {
			return nil, fmt.Errorf("ggufformat: read kv count: %w", err)
		}
		tensorCount, kvCount = uint64(tc32), uint64(kc32)
	} else {
		if err := binary.Read(lr, binary.LittleEndian, &tensorCount); err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor count: %w", err)
		}
		if err := binary.Read(lr, binary.LittleEndian, &kvCount); err != nil {
			return nil, fmt.Errorf("ggufformat: read kv count: %w", err)
		}
	}

	d := &decoder{r: lr, version: version}
	metadata := make(map[string]any, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		key, err := d.readString()
		if err != nil {
			return nil, fmt.Errorf("ggufformat: read kv[%d] key: %w", i, err)
		}
		val, err := d.readValue()
		if err != nil {
			return nil, fmt.Errorf("ggufformat: read kv[%d] %q value: %w", i, key, err)
		}
		metadata[key] = val
	}

	entries := make([]TensorDirectoryEntry, 0, tensorCount)
	for i := uint64(0); i < tensorCount; i++ {
		name, err := d.readString()
		if err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor[%d] name: %w", i, err)
		}
		var nDims uint32
		if err := binary.Read(d.r, binary.LittleEndian, &nDims); err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor[%d] ndims: %w", i, err)
		}
		dims := make([]uint64, nDims)
		for j := range dims {
			if err := binary.Read(d.r, binary.LittleEndian, &dims[j]); err != nil {
				return nil, fmt.Errorf("ggufformat: read tensor[%d] dim[%d]: %w", i, j, err)
			}
		}
		// GGUF stores dims innermost-first; the directory records
		// most-significant-first per spec.md §4.1.
		reversed := make([]uint64, nDims)
		for j, d2 := range dims {
			reversed[nDims-1-uint32(j)] = d2
		}

		var ggmlType uint32
		if err := binary.Read(d.r, binary.LittleEndian, &ggmlType); err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor[%d] type: %w", i, err)
		}
		var offset uint64
		if err := binary.Read(d.r, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("ggufformat: read tensor[%d] offset: %w", i, err)
		}
		dt, err := mapGGMLType(ggmlType)
		if err != nil {
			return nil, fmt.Errorf("ggufformat: tensor[%d] %q: %w", i, name, err)
		}
		elements := uint64(1)
		for _, d2 := range reversed {
			elements *= d2
		}
		entries = append(entries, TensorDirectoryEntry{
			Name:   name,
			Shape:  reversed,
			DType:  dt,
			Offset: offset,
			Size:   dtype.ByteSize(dt, elements),
		})
	}

	alignment := uint64(defaultAlignment)
	if a, ok := metadata["general.alignment"]; ok {
		if av, ok := toUint64(a); ok && av > 0 {
			alignment = av
		}
	}

	consumed := int64(maxHeaderBytes) - lr.N
	dataBase := alignUp(uint64(consumed), alignment)

	arch, _ := metadata["general.architecture"].(string)

	return &Header{
		Version:        version,
		Architecture:   arch,
		Metadata:       metadata,
		Tensors:        entries,
		Alignment:      alignment,
		DataBaseOffset: dataBase,
	}, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case int32:
		return uint64(n), true
	}
	return 0, false
}

type decoder struct {
	r       io.Reader
	version uint32
}

func (d *decoder) readString() (string, error) {
	var n uint64
	if err := binary.Read(d.r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxHeaderBytes {
		return "", fmt.Errorf("string length %d exceeds header bound", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *decoder) readValue() (any, error) {
	var vt uint32
	if err := binary.Read(d.r, binary.LittleEndian, &vt); err != nil {
		return nil, err
	}
	return d.readTypedValue(valueType(vt))
}

func (d *decoder) readTypedValue(vt valueType) (any, error) {
	switch vt {
	case vtUint8:
		var v uint8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtInt8:
		var v int8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtUint16:
		var v uint16
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtInt16:
		var v int16
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtUint32:
		var v uint32
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtInt32:
		var v int32
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtFloat32:
		var v float32
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtBool:
		var v uint8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v != 0, err
	case vtString:
		return d.readString()
	case vtUint64:
		var v uint64
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtInt64:
		var v int64
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtFloat64:
		var v float64
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case vtArray:
		var elemType uint32
		if err := binary.Read(d.r, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(d.r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			v, err := d.readTypedValue(valueType(elemType))
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unrecognized value type tag %d", vt)
	}
}
