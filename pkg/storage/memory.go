package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemBlobStore is an in-memory BlobStore for tests and local development.
type MemBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	mtimes  map[string]time.Time
}

// NewMemBlobStore creates an empty in-memory store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

// Get reads an object.
func (s *MemBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

// Put stores an object.
func (s *MemBlobStore) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	s.mtimes[path] = time.Now()
	return nil
}

// Stat describes an object.
func (s *MemBlobStore) Stat(_ context.Context, path string) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return ObjectInfo{
		Path:         path,
		Size:         int64(len(data)),
		ETag:         contentETag(data),
		LastModified: s.mtimes[path],
	}, nil
}

// ListPrefix lists objects by prefix, sorted by path.
func (s *MemBlobStore) ListPrefix(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []ObjectInfo
	for path, data := range s.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, ObjectInfo{
				Path:         path,
				Size:         int64(len(data)),
				ETag:         contentETag(data),
				LastModified: s.mtimes[path],
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}
