package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSBlobStore stores objects as files under a root directory. Object keys
// are slash-separated paths; ETags are content hashes so change detection
// works the same way it would against an object store.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates the store, making the root directory if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

// Get reads an object.
func (s *FSBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// Put writes an object, creating parent directories as needed.
func (s *FSBlobStore) Put(_ context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

// Stat returns size, content ETag, and mtime for an object.
func (s *FSBlobStore) Stat(_ context.Context, path string) (ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(full)
	if os.IsNotExist(err) {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Path:         path,
		Size:         fi.Size(),
		ETag:         contentETag(data),
		LastModified: fi.ModTime(),
	}, nil
}

// ListPrefix returns objects whose path starts with prefix, sorted by path.
func (s *FSBlobStore) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	err := filepath.Walk(s.root, func(full string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.Stat(ctx, key)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// resolve maps an object key to a filesystem path, rejecting traversal.
func (s *FSBlobStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
