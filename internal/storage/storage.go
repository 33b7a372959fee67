// Package storage holds uploaded import files until the parse worker has
// consumed them. Backends are selected by deployment mode and exposed only
// through the narrow store/stream/delete contract.
package storage

import (
	"context"
	"io"
)

// FileStore is the contract the import pipeline has with file storage.
// Keys are opaque storage locations carried on the parse job.
type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete must be idempotent: deleting a missing file succeeds, because
	// the cleanup step may run more than once for the same import.
	Delete(ctx context.Context, key string) error
}
