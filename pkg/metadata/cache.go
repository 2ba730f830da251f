// Package metadata caches per-file dataset metadata (columns, dtypes, row
// counts) with TTL expiry and etag/last-modified change detection, so
// planning prompts can include column inventories without re-profiling
// unchanged files.
package metadata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

// FileMetadata describes one dataset file.
type FileMetadata struct {
	Path     string            `json:"path"`
	Columns  []string          `json:"columns"`
	DTypes   map[string]string `json:"dtypes,omitempty"`
	RowCount int64             `json:"row_count"`
	Stats    map[string]any    `json:"stats,omitempty"`
}

// Profiler computes metadata for a stored file. File parsing is external to
// the core; the flight-table service implements this over HTTP.
type Profiler interface {
	Profile(ctx context.Context, path string) (*FileMetadata, error)
}

type entry struct {
	meta      *FileMetadata
	etag      string
	modified  time.Time
	fetchedAt time.Time
}

// Cache is a thread-safe metadata cache. An entry is served while it is
// inside its TTL AND the underlying object is unchanged (etag and
// last-modified both match); otherwise it is re-profiled.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	blob     storage.BlobStore
	profiler Profiler
	ttl      time.Duration
}

// NewCache creates a metadata cache.
func NewCache(blob storage.BlobStore, profiler Profiler, ttl time.Duration) *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		blob:     blob,
		profiler: profiler,
		ttl:      ttl,
	}
}

// Get returns metadata for path, from cache when fresh. A stat or profile
// failure returns the error; callers degrade to a column-free inventory.
func (c *Cache) Get(ctx context.Context, path string) (*FileMetadata, error) {
	info, err := c.blob.Stat(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()

	if ok && time.Since(cached.fetchedAt) <= c.ttl &&
		cached.etag == info.ETag && cached.modified.Equal(info.LastModified) {
		return cached.meta, nil
	}

	meta, err := c.profiler.Profile(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = &entry{
		meta:      meta,
		etag:      info.ETag,
		modified:  info.LastModified,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()

	return meta, nil
}

// GetAll profiles a set of paths, skipping files that fail to profile.
func (c *Cache) GetAll(ctx context.Context, paths []string) []*FileMetadata {
	metas := make([]*FileMetadata, 0, len(paths))
	for _, path := range paths {
		meta, err := c.Get(ctx, path)
		if err != nil {
			slog.Debug("Skipping file metadata", "path", path, "error", err)
			metas = append(metas, &FileMetadata{Path: path})
			continue
		}
		metas = append(metas, meta)
	}
	return metas
}

// Invalidate drops the cached entry for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
