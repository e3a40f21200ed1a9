// Package blob is the content-addressed blob store facade (spec.md §4.7):
// save(bytes) -> uri, load(uri) -> bytes, identical content always resolves
// to the identical uri. Concrete backends implement Store; engine/aggregate
// externalizes large payloads through it and engine/rehydrate reads
// snapshots back through it.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Store is the capability interface every blob backend implements.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Save writes content and returns its content-addressed uri. Saving the
	// same bytes twice returns the same uri without rewriting.
	Save(ctx context.Context, content []byte) (uri string, err error)

	// Load reads back the bytes previously returned by Save.
	Load(ctx context.Context, uri string) ([]byte, error)
}

// StorageError wraps a backend failure with the uri and operation that
// failed, per spec.md §4.7 ("GCS backend wraps failures in a typed
// StorageError").
type StorageError struct {
	Op      string
	URI     string
	Wrapped error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob: %s %s: %v", e.Op, e.URI, e.Wrapped)
}

func (e *StorageError) Unwrap() error { return e.Wrapped }

// ContentAddress derives the content-addressed key for a blob: the hex
// sha256 digest of its bytes. Every backend builds its uri from this key so
// identical content always yields an identical uri regardless of backend.
func ContentAddress(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
