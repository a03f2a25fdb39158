package shardpack

import (
	"context"
	"fmt"
	"io"

	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/transcode"
)

// ShardWriter is the per-shard write handle the packer drives. Abort
// discards the partial shard; Close seals it.
type ShardWriter interface {
	Write(b []byte) error
	Close() error
	Abort() error
}

// Hasher is a streaming digest accumulator (spec.md §6's create_hasher).
type Hasher interface {
	Update(b []byte)
	Finalize() string
}

// ShardWriterFactory opens a writer for shard index, plus a fresh hasher to
// pair with it.
type ShardWriterFactory func(index int) (ShardWriter, Hasher, error)

// Span is one segment of a multi-shard tensor's byte layout.
type Span struct {
	Shard  int
	Offset int64
	Size   int64
}

// TensorLocation is either a single contiguous placement or a sequence of
// spans across shards (spec.md §3).
type TensorLocation struct {
	Single *Span
	Spans  []Span
}

// ShardInfo describes one sealed shard (spec.md §3).
type ShardInfo struct {
	Index    int
	Filename string
	Size     int64
	Hash     string
	Offset   int64
}

// ProgressFunc is invoked once per completed tensor (not per chunk), per
// spec.md §4.4.
type ProgressFunc func(completed, total int, tensorName string)

// ChunkSourceFunc supplies the byte stream for one tensor plan; the caller
// (the driver) owns wiring this to a live TensorSource + transcoder.
type ChunkSourceFunc func(ctx context.Context, tp *plan.TensorPlan) (transcode.ByteStream, error)

// Result is everything the manifest builder needs from a completed pack.
type Result struct {
	Shards    []ShardInfo
	Locations map[string]TensorLocation
	Groups    []Group
	TotalSize int64
}

// Pack executes the packing algorithm of spec.md §4.4 over plans (already
// ordered by OrderTensors) and the group structure describing them.
func Pack(ctx context.Context, plans []*plan.TensorPlan, groups []Group, getChunks ChunkSourceFunc, shardCapacity int64, newWriter ShardWriterFactory, onProgress ProgressFunc, isCancelled func() bool) (*Result, error) {
	if shardCapacity <= 0 {
		return nil, fmt.Errorf("shardpack: shardSizeBytes must be positive")
	}

	p := &packer{
		shardCapacity: shardCapacity,
		newWriter:     newWriter,
		locations:     make(map[string]TensorLocation, len(plans)),
	}
	defer p.abortCurrent()

	total := len(plans)
	for i, tp := range plans {
		if isCancelled != nil && isCancelled() {
			return nil, errCancelled
		}
		if err := p.packOne(ctx, tp, getChunks); err != nil {
			return nil, fmt.Errorf("shardpack: packing %q: %w", tp.Name, err)
		}
		if onProgress != nil {
			onProgress(i+1, total, tp.Name)
		}
	}
	if err := p.sealIfOpen(); err != nil {
		return nil, err
	}

	var totalSize int64
	for _, s := range p.shards {
		totalSize += s.Size
	}
	return &Result{Shards: p.shards, Locations: p.locations, Groups: groups, TotalSize: totalSize}, nil
}

var errCancelled = fmt.Errorf("shardpack: cancelled")

// ErrCancelled reports whether err is the cancellation sentinel Pack
// returns when isCancelled() becomes true mid-pack.
func ErrCancelled(err error) bool { return err == errCancelled }

type packer struct {
	shardCapacity int64
	newWriter     ShardWriterFactory

	index     int
	writer    ShardWriter
	hasher    Hasher
	written   int64 // bytes written into the currently open shard
	globalOff int64 // logical offset of the current shard's start

	shards    []ShardInfo
	locations map[string]TensorLocation
}

func (p *packer) ensureOpen() error {
	if p.writer != nil {
		return nil
	}
	w, h, err := p.newWriter(p.index)
	if err != nil {
		return fmt.Errorf("open shard writer %d: %w", p.index, err)
	}
	p.writer, p.hasher, p.written = w, h, 0
	return nil
}

func (p *packer) remaining() int64 {
	return p.shardCapacity - p.written
}

// sealIfOpen finalizes whichever shard is currently open, if any, whether
// full or partial (the last shard of the packing, per spec.md §4.4 step 3).
func (p *packer) sealIfOpen() error {
	if p.writer == nil {
		return nil
	}
	return p.seal()
}

func (p *packer) seal() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("seal shard %d: %w", p.index, err)
	}
	info := ShardInfo{
		Index:    p.index,
		Filename: filename(p.index),
		Size:     p.written,
		Hash:     p.hasher.Finalize(),
		Offset:   p.globalOff,
	}
	p.shards = append(p.shards, info)
	p.globalOff += p.written
	p.index++
	p.writer, p.hasher, p.written = nil, nil, 0
	return nil
}

func (p *packer) abortCurrent() {
	if p.writer != nil {
		_ = p.writer.Abort()
		p.writer, p.hasher, p.written = nil, nil, 0
	}
}

func filename(index int) string {
	return fmt.Sprintf("shard-%05d.bin", index)
}

// packOne implements spec.md §4.4's per-tensor steps 1-2.
func (p *packer) packOne(ctx context.Context, tp *plan.TensorPlan, getChunks ChunkSourceFunc) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}

	size := int64(tp.TargetSize)
	if size <= p.remaining() {
		// Step 1: whole tensor fits in the current shard as a single write.
		stream, err := getChunks(ctx, tp)
		if err != nil {
			return err
		}
		startShard, startOffset := p.index, p.written
		n, err := p.drainInto(ctx, stream)
		if err != nil {
			return err
		}
		if n != size {
			return fmt.Errorf("assertion: expected %d bytes for %q, wrote %d", size, tp.Name, n)
		}
		p.locations[tp.Name] = TensorLocation{Single: &Span{Shard: startShard, Offset: startOffset, Size: n}}
		return nil
	}

	// Step 2: spans across one or more shard boundaries.
	stream, err := getChunks(ctx, tp)
	if err != nil {
		return err
	}
	var spans []Span
	var curSpan *Span
	var total int64
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		off := 0
		for off < len(chunk) {
			if err := p.ensureOpen(); err != nil {
				return err
			}
			if p.remaining() == 0 {
				if err := p.seal(); err != nil {
					return err
				}
				continue
			}
			n := int64(len(chunk) - off)
			if n > p.remaining() {
				n = p.remaining()
			}
			piece := chunk[off : int64(off)+n]
			if err := p.writer.Write(piece); err != nil {
				return fmt.Errorf("write shard %d: %w", p.index, err)
			}
			p.hasher.Update(piece)

			if curSpan == nil || curSpan.Shard != p.index {
				if curSpan != nil {
					spans = append(spans, *curSpan)
				}
				curSpan = &Span{Shard: p.index, Offset: p.written, Size: 0}
			}
			curSpan.Size += n
			p.written += n
			total += n
			off += int(n)
		}
	}
	if curSpan != nil {
		spans = append(spans, *curSpan)
	}
	if total != size {
		return fmt.Errorf("assertion: expected %d bytes for %q, wrote %d", size, tp.Name, total)
	}
	p.locations[tp.Name] = TensorLocation{Spans: spans}
	return nil
}

// drainInto writes stream's bytes into the currently open shard without
// crossing a shard boundary; the caller has already checked the tensor
// fits in the remaining capacity.
func (p *packer) drainInto(ctx context.Context, stream transcode.ByteStream) (int64, error) {
	var n int64
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if err := p.writer.Write(chunk); err != nil {
			return n, fmt.Errorf("write shard %d: %w", p.index, err)
		}
		p.hasher.Update(chunk)
		p.written += int64(len(chunk))
		n += int64(len(chunk))
	}
}
