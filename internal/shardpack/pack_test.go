package shardpack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelshard/convert/internal/dtype"
	"github.com/modelshard/convert/internal/plan"
	"github.com/modelshard/convert/internal/transcode"
)

type memWriter struct {
	buf     []byte
	aborted bool
}

func (w *memWriter) Write(b []byte) error { w.buf = append(w.buf, b...); return nil }
func (w *memWriter) Close() error         { return nil }
func (w *memWriter) Abort() error         { w.aborted = true; return nil }

type sha256Hasher struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

func newSHA256Hasher() *sha256Hasher {
	return &sha256Hasher{h: sha256.New()}
}
func (s *sha256Hasher) Update(b []byte) { s.h.Write(b) }
func (s *sha256Hasher) Finalize() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

func newTestFactory(shards *[]*memWriter) ShardWriterFactory {
	return func(index int) (ShardWriter, Hasher, error) {
		w := &memWriter{}
		*shards = append(*shards, w)
		return w, newSHA256Hasher(), nil
	}
}

func makePlan(name string, size int) *plan.TensorPlan {
	return &plan.TensorPlan{Name: name, TargetDType: dtype.F32, TargetSize: uint64(size)}
}

func streamOf(data []byte) func(ctx context.Context, tp *plan.TensorPlan) (transcode.ByteStream, error) {
	return func(ctx context.Context, tp *plan.TensorPlan) (transcode.ByteStream, error) {
		return transcode.SliceChunks(data, 7), nil
	}
}

func TestPackSingleLocationWhenTensorFits(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	plans := []*plan.TensorPlan{makePlan("t", 100)}
	var writers []*memWriter
	res, err := Pack(context.Background(), plans, nil, streamOf(data), 1000, newTestFactory(&writers), nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Shards, 1)
	loc := res.Locations["t"]
	require.NotNil(t, loc.Single)
	assert.EqualValues(t, 0, loc.Single.Offset)
	assert.EqualValues(t, 100, loc.Single.Size)
	assert.Equal(t, data, writers[0].buf)
}

func TestPackSpansAcrossShards(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	plans := []*plan.TensorPlan{makePlan("big", 100)}
	var writers []*memWriter
	res, err := Pack(context.Background(), plans, nil, streamOf(data), 30, newTestFactory(&writers), nil, nil)
	require.NoError(t, err)
	// 100 bytes over 30-byte shards -> 4 shards (30,30,30,10)
	require.Len(t, res.Shards, 4)
	for i, s := range res.Shards {
		if i < 3 {
			assert.EqualValues(t, 30, s.Size)
		} else {
			assert.EqualValues(t, 10, s.Size)
		}
	}
	loc := res.Locations["big"]
	require.Len(t, loc.Spans, 4)
	var reassembled []byte
	for i, sp := range loc.Spans {
		reassembled = append(reassembled, writers[sp.Shard].buf[sp.Offset:sp.Offset+sp.Size]...)
		assert.Equal(t, i, sp.Shard)
	}
	assert.Equal(t, data, reassembled)
}

func TestPackProgressCallback(t *testing.T) {
	plans := []*plan.TensorPlan{makePlan("a", 10), makePlan("b", 10)}
	var writers []*memWriter
	var calls [][2]int
	_, err := Pack(context.Background(), plans, nil, streamOf(make([]byte, 10)), 1000, newTestFactory(&writers), func(completed, total int, name string) {
		calls = append(calls, [2]int{completed, total})
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestPackCancellation(t *testing.T) {
	plans := []*plan.TensorPlan{makePlan("a", 10), makePlan("b", 10)}
	var writers []*memWriter
	called := false
	_, err := Pack(context.Background(), plans, nil, streamOf(make([]byte, 10)), 1000, newTestFactory(&writers), nil, func() bool {
		called = true
		return true
	})
	assert.True(t, called)
	assert.True(t, ErrCancelled(err))
}
