// Package storage defines the blob store and document store collaborators
// and their implementations. The engine and sync hub depend only on the
// interfaces; production wiring uses the filesystem blob store and the
// Mongo document store.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a blob or document does not exist.
var ErrNotFound = errors.New("storage: not found")

// ObjectInfo describes a stored blob for change detection.
type ObjectInfo struct {
	Path         string
	Size         int64
	ETag         string
	LastModified time.Time
}

// BlobStore is the key-addressed object store for datasets and outputs.
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Stat(ctx context.Context, path string) (ObjectInfo, error)
	ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
