// Package storeadapter implements the storage-side contract of spec.md §6
// against a local filesystem: open_model, create_shard_writer,
// write_manifest/write_tokenizer/write_auxiliary, delete_model, and
// create_hasher. Real Ollama distributes converted models as content-
// addressed OCI layers, which is why the hasher is built on
// github.com/opencontainers/go-digest rather than a bare crypto/sha256
// accumulator.
package storeadapter

import (
	"fmt"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/modelshard/convert/internal/shardpack"
)

// FSStore roots every model under a single base directory, one
// subdirectory per model id.
type FSStore struct {
	baseDir string
}

// Open returns an FSStore rooted at baseDir, creating it if absent.
func Open(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storeadapter: create base dir %q: %w", baseDir, err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (s *FSStore) modelDir(modelID string) string {
	return filepath.Join(s.baseDir, modelID)
}

// OpenModel idempotently creates the model's container directory.
func (s *FSStore) OpenModel(modelID string) error {
	if err := os.MkdirAll(s.modelDir(modelID), 0o755); err != nil {
		return fmt.Errorf("storeadapter: open_model %q: %w", modelID, err)
	}
	return nil
}

// DeleteModel recursively removes the model's container.
func (s *FSStore) DeleteModel(modelID string) error {
	if err := os.RemoveAll(s.modelDir(modelID)); err != nil {
		return fmt.Errorf("storeadapter: delete_model %q: %w", modelID, err)
	}
	return nil
}

// CreateShardWriter opens (index)'s shard file for writing, truncating any
// stale content. Filenames follow the deterministic template named in
// spec.md §6; shardpack.filename keeps the canonical form, duplicated here
// since the two packages must not import one another's internals.
func (s *FSStore) CreateShardWriter(modelID string, index int) (shardpack.ShardWriter, shardpack.Hasher, error) {
	name := fmt.Sprintf("shard-%05d.bin", index)
	path := filepath.Join(s.modelDir(modelID), name)
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("storeadapter: create_shard_writer %d: %w", index, err)
	}
	return &ShardFileWriter{f: f, path: path}, NewDigestHasher(), nil
}

// WriteManifest writes the manifest document to manifest.json.
func (s *FSStore) WriteManifest(modelID string, data []byte) error {
	return s.writeFile(modelID, "manifest.json", data)
}

// WriteTokenizer writes one tokenizer asset by filename.
func (s *FSStore) WriteTokenizer(modelID, filename string, data []byte) error {
	return s.writeFile(modelID, filename, data)
}

// WriteAuxiliary writes one non-tokenizer auxiliary asset by filename.
func (s *FSStore) WriteAuxiliary(modelID, filename string, data []byte) error {
	return s.writeFile(modelID, filename, data)
}

func (s *FSStore) writeFile(modelID, filename string, data []byte) error {
	path := filepath.Join(s.modelDir(modelID), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("storeadapter: write %q: %w", filename, err)
	}
	return nil
}

// ShardFileWriter is a shardpack.ShardWriter backed by an *os.File.
type ShardFileWriter struct {
	f    *os.File
	path string
}

func (w *ShardFileWriter) Write(b []byte) error {
	_, err := w.f.Write(b)
	return err
}

func (w *ShardFileWriter) Close() error {
	return w.f.Close()
}

// Abort discards the partial shard by closing and removing it, per
// spec.md §6 ("aborting discards the partial shard").
func (w *ShardFileWriter) Abort() error {
	_ = w.f.Close()
	return os.Remove(w.path)
}

// DigestHasher is a shardpack.Hasher backed by opencontainers/go-digest's
// streaming SHA-256 digester.
type DigestHasher struct {
	digester digest.Digester
}

// NewDigestHasher returns a fresh streaming SHA-256 hasher.
func NewDigestHasher() *DigestHasher {
	return &DigestHasher{digester: digest.Canonical.Digester()}
}

func (h *DigestHasher) Update(b []byte) {
	_, _ = h.digester.Hash().Write(b)
}

func (h *DigestHasher) Finalize() string {
	return h.digester.Digest().Encoded()
}
