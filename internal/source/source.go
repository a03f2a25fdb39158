// Package source implements the TensorSource contract from spec.md §6: a
// random-access byte provider with no inheritance hierarchy, just a plain
// capability record, per DESIGN NOTES §9 ("Polymorphic tensor source").
package source

import "context"

// TensorSource is a random-access byte provider over a model's source
// bytes — a local file, an HTTP range endpoint, or a bulk-downloaded
// temporary file.
type TensorSource interface {
	// Size returns the total byte length of the underlying data.
	Size() int64

	// ReadRange returns exactly length bytes starting at offset. A partial
	// read is a contract violation and must be surfaced as an error, never
	// returned as a short slice.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)

	// Cleanup releases any temporary resources backing the source. Sources
	// that need no cleanup (a plain local file) may no-op.
	Cleanup() error
}
